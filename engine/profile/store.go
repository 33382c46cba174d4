// Package profile keeps the append-only fact log and materializes versioned
// profile documents from it. Facts are never mutated in place; conflicting
// facts are resolved at build time with latest-by-logical-key semantics.
package profile

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/domain"
)

// Store holds facts and materialized profiles per project.
type Store struct {
	mu       sync.RWMutex
	projects map[string]*projectFacts
	now      func() time.Time
}

type projectFacts struct {
	mu       sync.RWMutex
	facts    map[string][]domain.Fact // equipment id -> append-only log
	profiles map[string]domain.Profile
}

func NewStore() *Store {
	return &Store{
		projects: make(map[string]*projectFacts),
		now:      time.Now,
	}
}

func (s *Store) proj(id string) *projectFacts {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		p = &projectFacts{
			facts:    make(map[string][]domain.Fact),
			profiles: make(map[string]domain.Profile),
		}
		s.projects[id] = p
	}
	return p
}

func (s *Store) lookupProj(id string) (*projectFacts, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	return p, ok
}

// AddFact appends a fact to the log. The fact's type and payload must already
// have passed validation; AddFact only stamps identity and time.
func (s *Store) AddFact(projectID string, f domain.Fact) (domain.Fact, error) {
	if !domain.ValidFactTypes[f.Type] {
		return domain.Fact{}, domain.NewValidationError("type", string(f.Type), domain.ErrInvalidFact)
	}
	if f.EquipmentID == "" {
		return domain.Fact{}, domain.NewValidationError("equipment_id", "", domain.ErrInvalidFact)
	}
	p := s.proj(projectID)
	p.mu.Lock()
	defer p.mu.Unlock()
	f.ID = uuid.NewString()
	f.Project = projectID
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	p.facts[f.EquipmentID] = append(p.facts[f.EquipmentID], f)
	return f, nil
}

// Facts returns the full fact log of an equipment in insertion order.
func (s *Store) Facts(projectID, equipmentID string) []domain.Fact {
	p, ok := s.lookupProj(projectID)
	if !ok {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Fact, len(p.facts[equipmentID]))
	copy(out, p.facts[equipmentID])
	return out
}

// Identity is the registry-owned part of a profile document. The caller
// supplies it so this package never reaches into the registry directly.
type Identity struct {
	Tag         string   `json:"tag"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Aliases     []string `json:"aliases"`
}

// RebuildProfile materializes the profile document for one equipment from its
// current fact log. Rebuilding with an unchanged fact set reproduces
// byte-identical output and does not bump the version. LastUpdated reflects
// the newest contributing fact, not the rebuild time.
func (s *Store) RebuildProfile(projectID, equipmentID string, id Identity) (domain.Profile, error) {
	p := s.proj(projectID)
	p.mu.Lock()
	defer p.mu.Unlock()

	facts := p.facts[equipmentID]
	doc, lastFact := buildDocument(id, facts)
	raw, err := json.Marshal(doc)
	if err != nil {
		return domain.Profile{}, err
	}

	prev, had := p.profiles[equipmentID]
	if had && bytes.Equal(prev.Document, raw) {
		return prev, nil
	}
	next := domain.Profile{
		EquipmentID: equipmentID,
		Version:     prev.Version + 1,
		Document:    raw,
		LastUpdated: lastFact,
	}
	p.profiles[equipmentID] = next
	return next, nil
}

// GetProfile returns the last materialized profile, if any.
func (s *Store) GetProfile(projectID, equipmentID string) (domain.Profile, bool) {
	p, ok := s.lookupProj(projectID)
	if !ok {
		return domain.Profile{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	prof, ok := p.profiles[equipmentID]
	return prof, ok
}

// DeleteEquipment drops the fact log and profile of one equipment.
func (s *Store) DeleteEquipment(projectID, equipmentID string) {
	p, ok := s.lookupProj(projectID)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.facts, equipmentID)
	delete(p.profiles, equipmentID)
}

// DeleteProject drops all facts and profiles of a project.
func (s *Store) DeleteProject(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, projectID)
}

// factEntry is one resolved fact payload with provenance.
type factEntry struct {
	Data           map[string]any `json:"data"`
	SourceLocation string         `json:"source_location,omitempty"`
}

// document is the materialized profile shape. Map keys marshal in sorted
// order, which together with the explicit slice ordering below makes the
// output deterministic.
type document struct {
	Tag           string         `json:"tag"`
	Type          string         `json:"type"`
	Description   string         `json:"description,omitempty"`
	Aliases       []string       `json:"aliases"`
	Specs         map[string]any `json:"specs"`
	IOPoints      []factEntry    `json:"io_points"`
	Alarms        []factEntry    `json:"alarms"`
	ScheduleEntry []factEntry    `json:"schedule_entries"`
	Sequences     []factEntry    `json:"sequences"`
	Documents     []string       `json:"documents"`
	SpecSources   []string       `json:"spec_sources,omitempty"`
}

func buildDocument(id Identity, facts []domain.Fact) (document, time.Time) {
	doc := document{
		Tag:           id.Tag,
		Type:          id.Type,
		Description:   id.Description,
		Aliases:       append([]string(nil), id.Aliases...),
		Specs:         map[string]any{},
		IOPoints:      []factEntry{},
		Alarms:        []factEntry{},
		ScheduleEntry: []factEntry{},
		Sequences:     []factEntry{},
		Documents:     []string{},
	}
	sort.Strings(doc.Aliases)

	// Latest fact per logical key wins. The log is insertion-ordered, and
	// timestamps are monotone within a batch, so a simple overwrite per key
	// implements latest-wins.
	type keyed struct {
		fact domain.Fact
		seq  int
	}
	latest := make(map[string]keyed)
	docSet := make(map[string]bool)
	specSources := make(map[string]bool)
	var lastFact time.Time

	for i, f := range facts {
		if f.CreatedAt.After(lastFact) {
			lastFact = f.CreatedAt
		}
		if f.SourceLocation != "" {
			docSet[f.SourceLocation] = true
		}
		if f.Type == domain.FactSpecification {
			// Specifications merge field-wise across all facts.
			for k, v := range f.Payload {
				doc.Specs[k] = v
			}
			if f.SourceLocation != "" {
				specSources[f.SourceLocation] = true
			}
			continue
		}
		key := string(f.Type) + "\x00" + domain.FactLogicalKey(f)
		cur, ok := latest[key]
		if !ok || f.CreatedAt.After(cur.fact.CreatedAt) ||
			(f.CreatedAt.Equal(cur.fact.CreatedAt) && i > cur.seq) {
			latest[key] = keyed{fact: f, seq: i}
		}
	}

	keys := make([]string, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f := latest[k].fact
		entry := factEntry{Data: f.Payload, SourceLocation: f.SourceLocation}
		switch f.Type {
		case domain.FactIOPoint:
			doc.IOPoints = append(doc.IOPoints, entry)
		case domain.FactAlarm:
			doc.Alarms = append(doc.Alarms, entry)
		case domain.FactScheduleEntry:
			doc.ScheduleEntry = append(doc.ScheduleEntry, entry)
		case domain.FactSequence:
			doc.Sequences = append(doc.Sequences, entry)
		}
	}

	for d := range docSet {
		doc.Documents = append(doc.Documents, d)
	}
	sort.Strings(doc.Documents)
	for d := range specSources {
		doc.SpecSources = append(doc.SpecSources, d)
	}
	sort.Strings(doc.SpecSources)
	return doc, lastFact
}
