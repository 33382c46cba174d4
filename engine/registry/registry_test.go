package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/domain"
)

func TestCreateAndGet(t *testing.T) {
	r := New()
	eq, err := r.Create("proj-a", NewEquipment{Tag: "AHU-1", Type: "AHU", SourceDoc: "E-101"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if eq.ID == "" {
		t.Fatal("expected generated id")
	}
	if eq.Project != "proj-a" || eq.Tag != "AHU-1" || eq.Type != "AHU" {
		t.Errorf("unexpected equipment: %+v", eq)
	}

	got, err := r.Get("proj-a", eq.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != eq.ID {
		t.Errorf("Get returned %s, want %s", got.ID, eq.ID)
	}

	// The primary tag is indexed as an exact alias at full confidence.
	id, conf, ok := r.LookupAlias("proj-a", domain.NormalizeTag("ahu 1"))
	if !ok || id != eq.ID {
		t.Fatalf("LookupAlias = (%s, %v), want %s", id, ok, eq.ID)
	}
	if conf != 1.0 {
		t.Errorf("primary alias confidence = %v, want 1.0", conf)
	}
}

func TestCreateDuplicateTag(t *testing.T) {
	r := New()
	if _, err := r.Create("p", NewEquipment{Tag: "VFD-101"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := r.Create("p", NewEquipment{Tag: "vfd_101"})
	if !errors.Is(err, domain.ErrDuplicateAlias) {
		t.Fatalf("expected ErrDuplicateAlias, got %v", err)
	}
}

func TestCreateEmptyTag(t *testing.T) {
	r := New()
	if _, err := r.Create("p", NewEquipment{Tag: " - "}); err == nil {
		t.Fatal("expected error for tag that normalizes to empty")
	}
}

func TestGetScopeViolation(t *testing.T) {
	r := New()
	eq, err := r.Create("proj-a", NewEquipment{Tag: "AHU-1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = r.Get("proj-b", eq.ID)
	if !errors.Is(err, domain.ErrScopeViolation) {
		t.Fatalf("expected ErrScopeViolation, got %v", err)
	}
	var se *domain.ScopeError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ScopeError, got %T", err)
	}
	if se.EquipmentID != eq.ID || se.Project != "proj-b" {
		t.Errorf("unexpected scope error: %+v", se)
	}
}

func TestGetUnknown(t *testing.T) {
	r := New()
	r.Create("p", NewEquipment{Tag: "AHU-1"})
	if _, err := r.Get("p", "nope"); !errors.Is(err, domain.ErrUnknownEquipment) {
		t.Fatalf("expected ErrUnknownEquipment, got %v", err)
	}
	if _, err := r.Get("empty-project", "nope"); !errors.Is(err, domain.ErrUnknownEquipment) {
		t.Fatalf("expected ErrUnknownEquipment for unknown project, got %v", err)
	}
}

func TestRegisterAliasOutcomes(t *testing.T) {
	r := New()
	a, _ := r.Create("p", NewEquipment{Tag: "AHU-1"})
	b, _ := r.Create("p", NewEquipment{Tag: "AHU-2"})

	out, err := r.RegisterAlias("p", a.ID, "Air Handler 1", "E-101", 0.95)
	if err != nil || out != AliasCreated {
		t.Fatalf("first registration = (%v, %v), want AliasCreated", out, err)
	}

	// Same equipment again: exists, no new row.
	out, err = r.RegisterAlias("p", a.ID, "air handler 1", "E-102", 0.90)
	if err != nil || out != AliasExists {
		t.Fatalf("re-registration = (%v, %v), want AliasExists", out, err)
	}

	// Lower-confidence claim by another equipment is rejected.
	out, err = r.RegisterAlias("p", b.ID, "Air Handler 1", "E-103", 0.50)
	if err != nil || out != AliasRejected {
		t.Fatalf("low-confidence steal = (%v, %v), want AliasRejected", out, err)
	}
	id, _, _ := r.LookupAlias("p", domain.NormalizeTag("Air Handler 1"))
	if id != a.ID {
		t.Errorf("alias should still map to %s, got %s", a.ID, id)
	}

	// Higher-confidence claim remaps.
	out, err = r.RegisterAlias("p", b.ID, "Air Handler 1", "E-104", 0.99)
	if err != nil || out != AliasRemapped {
		t.Fatalf("high-confidence steal = (%v, %v), want AliasRemapped", out, err)
	}
	id, conf, _ := r.LookupAlias("p", domain.NormalizeTag("Air Handler 1"))
	if id != b.ID || conf != 0.99 {
		t.Errorf("alias should map to %s at 0.99, got (%s, %v)", b.ID, id, conf)
	}
}

func TestRemapPrunesLosingEquipmentRows(t *testing.T) {
	r := New()
	a, _ := r.Create("p", NewEquipment{Tag: "AHU-1"})
	b, _ := r.Create("p", NewEquipment{Tag: "AHU-2"})

	r.RegisterAlias("p", a.ID, "Air Handler 1", "E-101", 0.80)
	r.RegisterAlias("p", a.ID, "Supply Unit 1", "E-101", 0.85)
	r.RegisterAlias("p", b.ID, "Air Handler 1", "E-104", 0.95)

	// The loser's listing no longer claims the remapped alias.
	rows, err := r.Aliases("p", a.ID)
	if err != nil {
		t.Fatalf("Aliases: %v", err)
	}
	for _, row := range rows {
		if domain.NormalizeTag(row.Alias) == domain.NormalizeTag("Air Handler 1") {
			t.Fatalf("stale alias row survived remap: %+v", row)
		}
	}
	// The canonical tag row and the untouched alias survive.
	if len(rows) != 2 {
		t.Fatalf("loser rows = %+v, want tag row and Supply Unit 1", rows)
	}

	rows, err = r.Aliases("p", b.ID)
	if err != nil {
		t.Fatalf("Aliases: %v", err)
	}
	found := false
	for _, row := range rows {
		if row.Alias == "Air Handler 1" && row.Confidence == 0.95 {
			found = true
		}
	}
	if !found {
		t.Fatalf("winner missing remapped alias row: %+v", rows)
	}
}

func TestRegisterAliasUnknownTargets(t *testing.T) {
	r := New()
	if _, err := r.RegisterAlias("nope", "x", "a", "", 1); !errors.Is(err, domain.ErrUnknownProject) {
		t.Fatalf("expected ErrUnknownProject, got %v", err)
	}
	r.Create("p", NewEquipment{Tag: "AHU-1"})
	if _, err := r.RegisterAlias("p", "ghost", "a", "", 1); !errors.Is(err, domain.ErrUnknownEquipment) {
		t.Fatalf("expected ErrUnknownEquipment, got %v", err)
	}
}

func TestAliases(t *testing.T) {
	r := New()
	eq, _ := r.Create("p", NewEquipment{Tag: "AHU-1", SourceDoc: "E-101"})
	r.RegisterAlias("p", eq.ID, "Air Handler 1", "M-401", 0.95)

	rows, err := r.Aliases("p", eq.ID)
	if err != nil {
		t.Fatalf("Aliases: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 alias rows, got %d", len(rows))
	}
	if rows[0].Alias != "AHU-1" || rows[0].Confidence != 1.0 {
		t.Errorf("unexpected primary alias row: %+v", rows[0])
	}
}

func TestAliasIndex(t *testing.T) {
	r := New()
	eq, _ := r.Create("p", NewEquipment{Tag: "AHU-1"})
	r.Create("p", NewEquipment{Tag: "VFD-101"})
	r.RegisterAlias("p", eq.ID, "Air Handler 1", "", 0.95)

	idx := r.AliasIndex("p")
	if len(idx) != 3 {
		t.Fatalf("expected 3 indexed aliases, got %d", len(idx))
	}
	for i := 1; i < len(idx); i++ {
		if idx[i-1].Normalized >= idx[i].Normalized {
			t.Errorf("index not sorted: %q before %q", idx[i-1].Normalized, idx[i].Normalized)
		}
	}
	// Primary tags keep their display form.
	for _, ia := range idx {
		if ia.Normalized == "AHU1" && ia.Display != "AHU-1" {
			t.Errorf("display for AHU1 = %q, want AHU-1", ia.Display)
		}
	}
}

func TestUpdate(t *testing.T) {
	r := New()
	eq, _ := r.Create("p", NewEquipment{Tag: "AHU-1"})
	got, err := r.Update("p", eq.ID, func(e *domain.Equipment) {
		e.Description = "penthouse unit"
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Description != "penthouse unit" {
		t.Errorf("description not applied: %+v", got)
	}
	if !got.UpdatedAt.After(eq.UpdatedAt) && !got.UpdatedAt.Equal(eq.UpdatedAt) {
		t.Errorf("UpdatedAt went backwards")
	}
}

func TestAllOrderedByTag(t *testing.T) {
	r := New()
	r.Create("p", NewEquipment{Tag: "VFD-101"})
	r.Create("p", NewEquipment{Tag: "AHU-1"})
	r.Create("p", NewEquipment{Tag: "MCC-3"})

	all := r.All("p")
	if len(all) != 3 {
		t.Fatalf("expected 3, got %d", len(all))
	}
	want := []string{"AHU-1", "MCC-3", "VFD-101"}
	for i, eq := range all {
		if eq.Tag != want[i] {
			t.Errorf("position %d: got %s, want %s", i, eq.Tag, want[i])
		}
	}
}

func TestDeleteProject(t *testing.T) {
	r := New()
	eq, _ := r.Create("p", NewEquipment{Tag: "AHU-1"})
	r.DeleteProject("p")
	if r.Count("p") != 0 {
		t.Errorf("expected empty project after delete")
	}
	// The id is forgotten entirely, so the miss is unknown, not scoped.
	if _, err := r.Get("q", eq.ID); !errors.Is(err, domain.ErrUnknownEquipment) {
		t.Errorf("expected ErrUnknownEquipment after delete, got %v", err)
	}
}

func TestProjectIsolation(t *testing.T) {
	r := New()
	r.Create("proj-a", NewEquipment{Tag: "AHU-1"})
	if _, _, ok := r.LookupAlias("proj-b", "AHU1"); ok {
		t.Fatal("alias leaked across projects")
	}
	if n := r.Count("proj-b"); n != 0 {
		t.Fatalf("expected 0 entities in proj-b, got %d", n)
	}
}

func TestWithResolveLockSerializes(t *testing.T) {
	r := New()
	const workers = 8
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.WithResolveLock("p", func() error {
				// Registry accessors stay usable inside the critical section.
				if _, _, ok := r.LookupAlias("p", "AHU1"); !ok {
					if _, err := r.Create("p", NewEquipment{Tag: "AHU-1"}); err == nil {
						counter++
					}
				}
				return nil
			})
		}()
	}
	wg.Wait()
	if counter != 1 {
		t.Errorf("expected exactly one creation, got %d", counter)
	}
	if r.Count("p") != 1 {
		t.Errorf("expected 1 entity, got %d", r.Count("p"))
	}
}
