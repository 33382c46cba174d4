package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/domain"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/relation"
)

type recordedQuery struct {
	cypher string
	params map[string]any
}

type mockResult struct{}

func (mockResult) Next(context.Context) bool { return false }
func (mockResult) Record() *neo4j.Record     { return nil }
func (mockResult) Err() error                { return nil }

type mockSession struct {
	queries *[]recordedQuery
	closed  bool
}

func (s *mockSession) Run(_ context.Context, cypher string, params map[string]any) (CypherResult, error) {
	*s.queries = append(*s.queries, recordedQuery{cypher: cypher, params: params})
	return mockResult{}, nil
}

func (s *mockSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return work(s)
}

func (s *mockSession) Close(context.Context) error {
	s.closed = true
	return nil
}

type mockOpener struct {
	queries []recordedQuery
}

func (o *mockOpener) OpenSession(context.Context) CypherSession {
	return &mockSession{queries: &o.queries}
}

func TestSaveEquipment(t *testing.T) {
	opener := &mockOpener{}
	g := NewWithOpener(opener)

	err := g.SaveEquipment(context.Background(), domain.Equipment{
		ID: "eq-1", Project: "p", Tag: "AHU-1", Type: "AHU", Description: "penthouse unit",
	}, []domain.Alias{
		{Alias: "AHU-1"}, {Alias: "Air Handler 1"},
	})
	if err != nil {
		t.Fatalf("SaveEquipment: %v", err)
	}
	if len(opener.queries) != 1 {
		t.Fatalf("expected 1 query, got %d", len(opener.queries))
	}
	q := opener.queries[0]
	if !strings.Contains(q.cypher, "MERGE (n:Equipment {id: $id})") {
		t.Errorf("cypher should merge on id: %s", q.cypher)
	}
	if q.params["id"] != "eq-1" {
		t.Errorf("id param = %v", q.params["id"])
	}
	props := q.params["props"].(map[string]any)
	if props["tag"] != "AHU-1" || props["project"] != "p" || props["description"] != "penthouse unit" {
		t.Errorf("props: %+v", props)
	}
	aliases := props["aliases"].([]string)
	if len(aliases) != 2 || aliases[1] != "Air Handler 1" {
		t.Errorf("aliases: %v", aliases)
	}
}

func TestSaveEdgeConfidenceGuard(t *testing.T) {
	opener := &mockOpener{}
	g := NewWithOpener(opener)

	err := g.SaveEdge(context.Background(), relation.EdgeTags{SourceTag: "MCC-3", TargetTag: "VFD-101"},
		domain.Edge{
			Source: "a", Target: "b", Type: domain.EdgeFeeds,
			Category: domain.CategoryElectrical, Confidence: 0.9,
			Attrs: domain.EdgeAttributes{Voltage: "480V"},
		})
	if err != nil {
		t.Fatalf("SaveEdge: %v", err)
	}
	q := opener.queries[0]
	if !strings.Contains(q.cypher, "MERGE (a)-[r:FEEDS]->(b)") {
		t.Errorf("relationship type not sanitized into cypher: %s", q.cypher)
	}
	// Confidence only moves up; the stored value survives a lower write.
	if !strings.Contains(q.cypher, "WHEN r.confidence IS NULL OR r.confidence <= $confidence") {
		t.Errorf("missing confidence guard: %s", q.cypher)
	}
	if q.params["confidence"] != 0.9 {
		t.Errorf("confidence param = %v", q.params["confidence"])
	}
	props := q.params["props"].(map[string]any)
	if props["voltage"] != "480V" || props["source_tag"] != "MCC-3" {
		t.Errorf("props: %+v", props)
	}
}

func TestSaveBatchSingleTransaction(t *testing.T) {
	opener := &mockOpener{}
	g := NewWithOpener(opener)

	err := g.SaveBatch(context.Background(),
		[]domain.Equipment{{ID: "a", Tag: "MCC-3"}, {ID: "b", Tag: "VFD-101"}},
		[]domain.Edge{{Source: "a", Target: "b", Type: domain.EdgeFeeds, Confidence: 0.9}},
	)
	if err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	if len(opener.queries) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(opener.queries))
	}
}

func TestDeleteProject(t *testing.T) {
	opener := &mockOpener{}
	g := NewWithOpener(opener)
	if err := g.DeleteProject(context.Background(), "p"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	q := opener.queries[0]
	if !strings.Contains(q.cypher, "DETACH DELETE") {
		t.Errorf("expected detach delete: %s", q.cypher)
	}
	if q.params["project"] != "p" {
		t.Errorf("params: %+v", q.params)
	}
}

func TestSanitizeRelType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"feeds", "FEEDS"},
		{"fed_by", "FED_BY"},
		{"connects_to", "CONNECTS_TO"},
		{"bad-type; DROP", "BADTYPEDROP"},
		{"", "RELATED_TO"},
		{"---", "RELATED_TO"},
	}
	for _, tt := range tests {
		if got := sanitizeRelType(tt.in); got != tt.want {
			t.Errorf("sanitizeRelType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
