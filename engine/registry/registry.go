// Package registry owns canonical equipment identity. It is the only
// component that creates equipment entities; every other store references
// equipment by id. All state is project-scoped and guarded so that
// concurrent ingestion batches cannot mint duplicate entities.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/domain"
	"github.com/google/uuid"
)

// AliasOutcome reports what RegisterAlias did.
type AliasOutcome int

const (
	// AliasCreated means a new alias row was indexed.
	AliasCreated AliasOutcome = iota
	// AliasExists means the alias already pointed at the same equipment.
	AliasExists
	// AliasRemapped means the alias was re-pointed at a different equipment
	// because the new registration carried higher confidence.
	AliasRemapped
	// AliasRejected means an existing higher-confidence mapping was kept and
	// the incoming registration discarded.
	AliasRejected
)

func (o AliasOutcome) String() string {
	switch o {
	case AliasCreated:
		return "created"
	case AliasExists:
		return "exists"
	case AliasRemapped:
		return "remapped"
	case AliasRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// IndexedAlias is one (alias, equipment) pair exposed for candidate scoring.
type IndexedAlias struct {
	Normalized  string
	Display     string
	EquipmentID string
}

type aliasTarget struct {
	equipmentID string
	confidence  float64
}

type project struct {
	// resolveMu is the resolve-or-create critical section handed to callers
	// via WithResolveLock. mu guards the maps themselves; it is held only
	// inside individual accessors so accessors remain callable while the
	// resolve lock is held.
	resolveMu sync.Mutex
	mu        sync.RWMutex
	equipment map[string]*domain.Equipment
	byAlias   map[string]aliasTarget    // normalized alias -> winning target
	aliases   map[string][]domain.Alias // equipment id -> alias rows
}

// Registry is the project-scoped arena of canonical equipment entities.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]*project
	owners   map[string]string // equipment id -> project, for scope checks
	now      func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		projects: make(map[string]*project),
		owners:   make(map[string]string),
		now:      time.Now,
	}
}

func (r *Registry) proj(id string) *project {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		p = &project{
			equipment: make(map[string]*domain.Equipment),
			byAlias:   make(map[string]aliasTarget),
			aliases:   make(map[string][]domain.Alias),
		}
		r.projects[id] = p
	}
	return p
}

func (r *Registry) lookupProj(id string) (*project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	return p, ok
}

// WithResolveLock runs fn while holding the project's resolve-or-create
// critical section. Alias resolution that may create entities must run
// inside it; two concurrent batches introducing the same new tag then
// serialize on this lock instead of racing.
func (r *Registry) WithResolveLock(projectID string, fn func() error) error {
	p := r.proj(projectID)
	p.resolveMu.Lock()
	defer p.resolveMu.Unlock()
	return fn()
}

// NewEquipment carries the fields for entity creation.
type NewEquipment struct {
	Tag         string
	Type        string
	Description string
	SourceDoc   string
}

// Create mints a new canonical equipment entity and registers its primary
// tag as an alias with confidence 1.0. The normalized tag must not already
// belong to another entity in the project.
func (r *Registry) Create(projectID string, ne NewEquipment) (domain.Equipment, error) {
	p := r.proj(projectID)
	norm := domain.NormalizeTag(ne.Tag)
	if norm == "" {
		return domain.Equipment{}, domain.NewValidationError("tag", ne.Tag, domain.ErrUnknownEquipment)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, taken := p.byAlias[norm]; taken {
		return domain.Equipment{}, domain.NewValidationError("tag", ne.Tag, domain.ErrDuplicateAlias)
	}

	now := r.now().UTC()
	eq := &domain.Equipment{
		ID:          uuid.NewString(),
		Project:     projectID,
		Tag:         ne.Tag,
		Type:        ne.Type,
		Description: ne.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.equipment[eq.ID] = eq
	p.byAlias[norm] = aliasTarget{equipmentID: eq.ID, confidence: 1.0}
	p.aliases[eq.ID] = append(p.aliases[eq.ID], domain.Alias{
		EquipmentID: eq.ID,
		Alias:       ne.Tag,
		SourceDoc:   ne.SourceDoc,
		Confidence:  1.0,
		CreatedAt:   now,
	})

	r.mu.Lock()
	r.owners[eq.ID] = projectID
	r.mu.Unlock()

	return *eq, nil
}

// Get returns an equipment entity by id, scoped to a project. Referencing an
// entity owned by a different project is a scope violation, not a miss.
func (r *Registry) Get(projectID, equipmentID string) (domain.Equipment, error) {
	r.mu.RLock()
	owner, known := r.owners[equipmentID]
	r.mu.RUnlock()
	if known && owner != projectID {
		return domain.Equipment{}, &domain.ScopeError{Project: projectID, EquipmentID: equipmentID}
	}
	p, ok := r.lookupProj(projectID)
	if !ok {
		return domain.Equipment{}, domain.ErrUnknownEquipment
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	eq, ok := p.equipment[equipmentID]
	if !ok {
		return domain.Equipment{}, domain.ErrUnknownEquipment
	}
	return *eq, nil
}

// Update applies fn to an equipment entity under the project lock and bumps
// its UpdatedAt. Used by the profile aggregator for inferred summary fields.
func (r *Registry) Update(projectID, equipmentID string, fn func(*domain.Equipment)) (domain.Equipment, error) {
	p, ok := r.lookupProj(projectID)
	if !ok {
		return domain.Equipment{}, domain.ErrUnknownEquipment
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	eq, ok := p.equipment[equipmentID]
	if !ok {
		return domain.Equipment{}, domain.ErrUnknownEquipment
	}
	fn(eq)
	eq.UpdatedAt = r.now().UTC()
	return *eq, nil
}

// LookupAlias returns the equipment id an exact normalized alias maps to.
func (r *Registry) LookupAlias(projectID, normalized string) (string, float64, bool) {
	p, ok := r.lookupProj(projectID)
	if !ok {
		return "", 0, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.byAlias[normalized]
	if !ok {
		return "", 0, false
	}
	return t.equipmentID, t.confidence, true
}

// RegisterAlias records that an observed raw string refers to an equipment
// entity. At most one equipment per (project, normalized alias): a collision
// with an existing mapping is settled by confidence comparison, never by
// blind overwrite.
func (r *Registry) RegisterAlias(projectID, equipmentID, alias, sourceDoc string, confidence float64) (AliasOutcome, error) {
	p, ok := r.lookupProj(projectID)
	if !ok {
		return AliasRejected, domain.ErrUnknownProject
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.equipment[equipmentID]; !ok {
		return AliasRejected, domain.ErrUnknownEquipment
	}

	norm := domain.NormalizeTag(alias)
	row := domain.Alias{
		EquipmentID: equipmentID,
		Alias:       alias,
		SourceDoc:   sourceDoc,
		Confidence:  confidence,
		CreatedAt:   r.now().UTC(),
	}

	existing, taken := p.byAlias[norm]
	switch {
	case !taken:
		p.byAlias[norm] = aliasTarget{equipmentID: equipmentID, confidence: confidence}
		p.aliases[equipmentID] = append(p.aliases[equipmentID], row)
		return AliasCreated, nil
	case existing.equipmentID == equipmentID:
		if confidence > existing.confidence {
			p.byAlias[norm] = aliasTarget{equipmentID: equipmentID, confidence: confidence}
		}
		return AliasExists, nil
	case confidence > existing.confidence:
		p.byAlias[norm] = aliasTarget{equipmentID: equipmentID, confidence: confidence}
		p.dropAliasRows(existing.equipmentID, norm)
		p.aliases[equipmentID] = append(p.aliases[equipmentID], row)
		return AliasRemapped, nil
	default:
		return AliasRejected, nil
	}
}

// dropAliasRows removes an equipment's rows for a normalized alias. A remap
// calls this on the losing equipment so its Aliases listing never claims a
// mapping that now points elsewhere. Caller holds p.mu.
func (p *project) dropAliasRows(equipmentID, norm string) {
	rows := p.aliases[equipmentID]
	kept := rows[:0]
	for _, a := range rows {
		if domain.NormalizeTag(a.Alias) != norm {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		delete(p.aliases, equipmentID)
		return
	}
	p.aliases[equipmentID] = kept
}

// Aliases returns all alias rows recorded for an equipment entity.
func (r *Registry) Aliases(projectID, equipmentID string) ([]domain.Alias, error) {
	if _, err := r.Get(projectID, equipmentID); err != nil {
		return nil, err
	}
	p, _ := r.lookupProj(projectID)
	p.mu.RLock()
	defer p.mu.RUnlock()
	rows := p.aliases[equipmentID]
	out := make([]domain.Alias, len(rows))
	copy(out, rows)
	return out, nil
}

// AliasIndex returns every (normalized alias, equipment) pair in a project,
// the candidate set for fuzzy scoring.
func (r *Registry) AliasIndex(projectID string) []IndexedAlias {
	p, ok := r.lookupProj(projectID)
	if !ok {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]IndexedAlias, 0, len(p.byAlias))
	for norm, t := range p.byAlias {
		display := norm
		if eq, ok := p.equipment[t.equipmentID]; ok && domain.NormalizeTag(eq.Tag) == norm {
			display = eq.Tag
		}
		out = append(out, IndexedAlias{Normalized: norm, Display: display, EquipmentID: t.equipmentID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Normalized < out[j].Normalized })
	return out
}

// All returns every equipment entity in a project, ordered by tag.
func (r *Registry) All(projectID string) []domain.Equipment {
	p, ok := r.lookupProj(projectID)
	if !ok {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Equipment, 0, len(p.equipment))
	for _, eq := range p.equipment {
		out = append(out, *eq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// DeleteProject removes a project and every entity it owns.
func (r *Registry) DeleteProject(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	if !ok {
		return
	}
	for id := range p.equipment {
		delete(r.owners, id)
	}
	delete(r.projects, projectID)
}

// Count returns the number of canonical entities in a project.
func (r *Registry) Count(projectID string) int {
	p, ok := r.lookupProj(projectID)
	if !ok {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.equipment)
}
