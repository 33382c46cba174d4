// Package relation holds the typed, attributed edge store for a project's
// equipment graph. Edges are keyed by (source, target, type); re-asserting an
// edge merges attributes and only ever raises confidence.
package relation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/domain"
)

// UpsertOutcome reports what UpsertEdge did.
type UpsertOutcome string

const (
	EdgeCreated           UpsertOutcome = "created"
	EdgeUpdated           UpsertOutcome = "updated"
	EdgeDowngradeRejected UpsertOutcome = "downgrade_rejected"
)

type edgeKey struct {
	source string
	target string
	typ    domain.EdgeType
}

// Store is an in-memory project-scoped edge store safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	projects map[string]*projectEdges
	now      func() time.Time
}

type projectEdges struct {
	mu    sync.RWMutex
	edges map[edgeKey]*domain.Edge
	out   map[string][]edgeKey
	in    map[string][]edgeKey
}

func NewStore() *Store {
	return &Store{
		projects: make(map[string]*projectEdges),
		now:      time.Now,
	}
}

func (s *Store) proj(id string) *projectEdges {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		p = &projectEdges{
			edges: make(map[edgeKey]*domain.Edge),
			out:   make(map[string][]edgeKey),
			in:    make(map[string][]edgeKey),
		}
		s.projects[id] = p
	}
	return p
}

func (s *Store) lookupProj(id string) (*projectEdges, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	return p, ok
}

// UpsertEdge inserts or merges an edge. On an existing key, attributes merge
// field-wise with non-empty incoming values winning, and confidence moves
// monotonically upward. A strictly lower incoming confidence leaves the edge
// untouched and reports EdgeDowngradeRejected.
func (s *Store) UpsertEdge(projectID string, e domain.Edge) (UpsertOutcome, error) {
	if e.Source == e.Target {
		return "", domain.NewValidationError("target", e.Target, domain.ErrInvalidEdge)
	}
	if _, ok := domain.ValidEdgeTypes[e.Type]; !ok {
		return "", domain.NewValidationError("type", string(e.Type), domain.ErrInvalidEdge)
	}
	p := s.proj(projectID)
	p.mu.Lock()
	defer p.mu.Unlock()

	k := edgeKey{source: e.Source, target: e.Target, typ: e.Type}
	existing, ok := p.edges[k]
	if !ok {
		stored := e
		stored.ID = uuid.NewString()
		stored.Project = projectID
		if stored.Category == "" {
			stored.Category = domain.EdgeTypeCategory[e.Type]
		}
		stored.CreatedAt = s.now()
		stored.UpdatedAt = stored.CreatedAt
		p.edges[k] = &stored
		p.out[e.Source] = append(p.out[e.Source], k)
		p.in[e.Target] = append(p.in[e.Target], k)
		return EdgeCreated, nil
	}
	if e.Confidence < existing.Confidence {
		return EdgeDowngradeRejected, nil
	}
	existing.Confidence = e.Confidence
	mergeAttributes(&existing.Attrs, e.Attrs)
	if e.DocumentID != "" {
		existing.DocumentID = e.DocumentID
		existing.PageNumber = e.PageNumber
	}
	existing.UpdatedAt = s.now()
	return EdgeUpdated, nil
}

// mergeAttributes overlays non-empty incoming fields onto dst.
func mergeAttributes(dst *domain.EdgeAttributes, src domain.EdgeAttributes) {
	if src.Voltage != "" {
		dst.Voltage = src.Voltage
	}
	if src.Breaker != "" {
		dst.Breaker = src.Breaker
	}
	if src.WireSize != "" {
		dst.WireSize = src.WireSize
	}
	if src.Load != "" {
		dst.Load = src.Load
	}
	if src.SignalType != "" {
		dst.SignalType = src.SignalType
	}
	if src.Medium != "" {
		dst.Medium = src.Medium
	}
	if src.PipeSize != "" {
		dst.PipeSize = src.PipeSize
	}
}

// Get returns a single edge by its identity key.
func (s *Store) Get(projectID, source, target string, typ domain.EdgeType) (domain.Edge, bool) {
	p, ok := s.lookupProj(projectID)
	if !ok {
		return domain.Edge{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.edges[edgeKey{source: source, target: target, typ: typ}]
	if !ok {
		return domain.Edge{}, false
	}
	return *e, true
}

// EdgesFrom returns out-edges of an equipment, ordered by confidence
// descending then target id ascending.
func (s *Store) EdgesFrom(projectID, equipmentID string) []domain.Edge {
	return s.collect(projectID, equipmentID, true)
}

// EdgesTo returns in-edges of an equipment with the same ordering.
func (s *Store) EdgesTo(projectID, equipmentID string) []domain.Edge {
	return s.collect(projectID, equipmentID, false)
}

func (s *Store) collect(projectID, equipmentID string, outgoing bool) []domain.Edge {
	p, ok := s.lookupProj(projectID)
	if !ok {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	var keys []edgeKey
	if outgoing {
		keys = p.out[equipmentID]
	} else {
		keys = p.in[equipmentID]
	}
	edges := make([]domain.Edge, 0, len(keys))
	for _, k := range keys {
		edges = append(edges, *p.edges[k])
	}
	sortEdges(edges)
	return edges
}

func sortEdges(edges []domain.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Confidence != edges[j].Confidence {
			return edges[i].Confidence > edges[j].Confidence
		}
		if edges[i].Target != edges[j].Target {
			return edges[i].Target < edges[j].Target
		}
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Type < edges[j].Type
	})
}

// EdgeTags carries the display tags of an edge's endpoints for consumers
// that key on tags rather than ids, such as the graph mirror.
type EdgeTags struct {
	SourceTag string
	TargetTag string
}

// ConnectionGroup is a one-hop neighborhood bucket.
type ConnectionGroup struct {
	Category  domain.EdgeCategory `json:"category"`
	Direction string              `json:"direction"`
	Edges     []domain.Edge       `json:"edges"`
}

// Connections returns the one-hop neighborhood of an equipment grouped by
// edge category and direction. Group order is fixed: ELECTRICAL, CONTROL,
// MECHANICAL, INTERLOCK, each with outgoing before incoming; empty groups
// are omitted.
func (s *Store) Connections(projectID, equipmentID string) []ConnectionGroup {
	out := s.EdgesFrom(projectID, equipmentID)
	in := s.EdgesTo(projectID, equipmentID)

	var groups []ConnectionGroup
	for _, cat := range []domain.EdgeCategory{
		domain.CategoryElectrical, domain.CategoryControl,
		domain.CategoryMechanical, domain.CategoryInterlock,
	} {
		for _, dir := range []string{"outgoing", "incoming"} {
			src := out
			if dir == "incoming" {
				src = in
			}
			var bucket []domain.Edge
			for _, e := range src {
				if e.Category == cat {
					bucket = append(bucket, e)
				}
			}
			if len(bucket) > 0 {
				groups = append(groups, ConnectionGroup{Category: cat, Direction: dir, Edges: bucket})
			}
		}
	}
	return groups
}

// Snapshot returns a point-in-time copy of all edges touching the project,
// for use by traversal without holding store locks. The adjacency maps are
// keyed by equipment id and hold copies.
type Snapshot struct {
	Out map[string][]domain.Edge
	In  map[string][]domain.Edge
}

func (s *Store) Snapshot(projectID string) Snapshot {
	snap := Snapshot{
		Out: make(map[string][]domain.Edge),
		In:  make(map[string][]domain.Edge),
	}
	p, ok := s.lookupProj(projectID)
	if !ok {
		return snap
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.edges {
		snap.Out[e.Source] = append(snap.Out[e.Source], *e)
		snap.In[e.Target] = append(snap.In[e.Target], *e)
	}
	for id := range snap.Out {
		sortEdges(snap.Out[id])
	}
	for id := range snap.In {
		sortEdges(snap.In[id])
	}
	return snap
}

// All returns every edge in the project in deterministic order.
func (s *Store) All(projectID string) []domain.Edge {
	p, ok := s.lookupProj(projectID)
	if !ok {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	edges := make([]domain.Edge, 0, len(p.edges))
	for _, e := range p.edges {
		edges = append(edges, *e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		if edges[i].Target != edges[j].Target {
			return edges[i].Target < edges[j].Target
		}
		return edges[i].Type < edges[j].Type
	})
	return edges
}

// DeleteEquipment removes every edge touching an equipment. Used by cascade
// deletes.
func (s *Store) DeleteEquipment(projectID, equipmentID string) int {
	p, ok := s.lookupProj(projectID)
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for k := range p.edges {
		if k.source == equipmentID || k.target == equipmentID {
			delete(p.edges, k)
			removed++
		}
	}
	if removed > 0 {
		p.rebuildAdjacency()
	}
	return removed
}

func (p *projectEdges) rebuildAdjacency() {
	p.out = make(map[string][]edgeKey)
	p.in = make(map[string][]edgeKey)
	for k := range p.edges {
		p.out[k.source] = append(p.out[k.source], k)
		p.in[k.target] = append(p.in[k.target], k)
	}
}

// DeleteProject drops every edge belonging to the project.
func (s *Store) DeleteProject(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, projectID)
}

// Count returns the number of edges in a project.
func (s *Store) Count(projectID string) int {
	p, ok := s.lookupProj(projectID)
	if !ok {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.edges)
}
