// Package resolver maps raw equipment tag strings onto canonical entities.
// Exact normalized matches win outright; otherwise candidates are scored by
// edit-distance similarity with equipment-type phrase canonicalisation, and
// accepted only above a threshold with no tie within the margin.
package resolver

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/domain"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/registry"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/metrics"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/tagnlp"
)

// Config holds the tunable matching parameters. The values are deliberate
// engineering choices, not constants of nature; tests set them explicitly.
type Config struct {
	// AcceptThreshold is the minimum similarity score, on a normalized
	// 0-1 scale, for a fuzzy match to be accepted.
	AcceptThreshold float64
	// TieMargin is the score distance within which a second candidate makes
	// the match ambiguous. Ties are treated as no-match rather than risking
	// silent misattribution.
	TieMargin float64
}

// DefaultConfig mirrors the production tuning.
var DefaultConfig = Config{
	AcceptThreshold: 0.82,
	TieMargin:       0.05,
}

// MatchKind says how a resolution was reached.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchFuzzy   MatchKind = "fuzzy"
	MatchCreated MatchKind = "created"
)

// Resolution is the outcome of resolving one raw tag.
type Resolution struct {
	EquipmentID string    `json:"equipment_id"`
	Tag         string    `json:"tag"`
	Confidence  float64   `json:"confidence"`
	IsNewEntity bool      `json:"is_new_entity"`
	Kind        MatchKind `json:"kind"`
}

// Resolver performs alias resolution against a Registry.
type Resolver struct {
	reg  *registry.Registry
	cfg  Config
	log  *slog.Logger
	mets *metrics.Registry
}

// New creates a Resolver. A zero-valued cfg falls back to DefaultConfig.
func New(reg *registry.Registry, cfg Config, log *slog.Logger) *Resolver {
	if cfg.AcceptThreshold <= 0 {
		cfg.AcceptThreshold = DefaultConfig.AcceptThreshold
	}
	if cfg.TieMargin <= 0 {
		cfg.TieMargin = DefaultConfig.TieMargin
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{reg: reg, cfg: cfg, log: log}
}

// WithMetrics attaches a metrics registry. Every alias registration the
// resolver performs is then counted by outcome.
func (r *Resolver) WithMetrics(m *metrics.Registry) *Resolver {
	r.mets = m
	return r
}

// registerAlias forwards to the registry and counts the outcome.
func (r *Resolver) registerAlias(project, equipmentID, rawTag, sourceDoc string, confidence float64) error {
	outcome, err := r.reg.RegisterAlias(project, equipmentID, rawTag, sourceDoc, confidence)
	if err != nil {
		return err
	}
	if r.mets != nil {
		r.mets.AliasOutcomes.WithLabelValues(outcome.String()).Inc()
	}
	return nil
}

// Lookup resolves a raw tag read-only: exact normalized alias matches only,
// never creating entities. Used by query paths.
func (r *Resolver) Lookup(project, rawTag string) (string, bool) {
	norm := domain.NormalizeTag(rawTag)
	if id, _, ok := r.reg.LookupAlias(project, norm); ok {
		return id, true
	}
	// A descriptive phrase may still name known equipment.
	if canon, rewritten := tagnlp.CanonicalForm(rawTag); rewritten {
		if id, _, ok := r.reg.LookupAlias(project, domain.NormalizeTag(canon)); ok {
			return id, true
		}
	}
	return "", false
}

// Resolve maps a raw tag to a canonical equipment id, creating a new entity
// when no acceptable match exists. Resolution is idempotent for a
// (project, rawTag) pair. Must run inside the registry's resolve lock when
// called from ingestion; the coordinator arranges that.
func (r *Resolver) Resolve(project, rawTag, sourceDoc, suggestedType string) (Resolution, error) {
	norm := domain.NormalizeTag(rawTag)
	if norm == "" {
		return Resolution{}, domain.NewValidationError("raw_tag", rawTag, domain.ErrUnknownEquipment)
	}

	// Exact normalized match wins outright.
	if id, _, ok := r.reg.LookupAlias(project, norm); ok {
		eq, err := r.reg.Get(project, id)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{EquipmentID: id, Tag: eq.Tag, Confidence: 1.0, Kind: MatchExact}, nil
	}

	// Phrase canonicalisation: "Air Handler 1" -> "AHU-1".
	canon, rewritten := tagnlp.CanonicalForm(rawTag)
	if rewritten {
		if id, _, ok := r.reg.LookupAlias(project, domain.NormalizeTag(canon)); ok {
			// Record the spelled-out form so future lookups are exact.
			if err := r.registerAlias(project, id, rawTag, sourceDoc, 0.95); err != nil {
				return Resolution{}, err
			}
			eq, err := r.reg.Get(project, id)
			if err != nil {
				return Resolution{}, err
			}
			return Resolution{EquipmentID: id, Tag: eq.Tag, Confidence: 0.95, Kind: MatchFuzzy}, nil
		}
	}

	// Fuzzy scoring against every known alias in the project.
	best, second := r.score(project, norm, canon)
	if best.EquipmentID != "" && best.Score >= r.cfg.AcceptThreshold {
		if second.EquipmentID != "" && second.EquipmentID != best.EquipmentID &&
			best.Score-second.Score < r.cfg.TieMargin {
			return Resolution{}, &domain.AmbiguityError{
				RawTag:     rawTag,
				Candidates: []domain.AliasCandidate{best, second},
			}
		}
		if err := r.registerAlias(project, best.EquipmentID, rawTag, sourceDoc, best.Score); err != nil {
			return Resolution{}, err
		}
		eq, err := r.reg.Get(project, best.EquipmentID)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{EquipmentID: best.EquipmentID, Tag: eq.Tag, Confidence: best.Score, Kind: MatchFuzzy}, nil
	}

	// No acceptable match: create a new canonical entity.
	eqType := suggestedType
	if eqType == "" {
		if t, ok := tagnlp.ClassifyTag(canon); ok {
			eqType = t
		}
	}
	tag := rawTag
	if rewritten {
		tag = canon
	}
	eq, err := r.reg.Create(project, registry.NewEquipment{
		Tag:       tag,
		Type:      eqType,
		SourceDoc: sourceDoc,
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("create equipment for %q: %w", rawTag, err)
	}
	if rewritten && domain.NormalizeTag(rawTag) != domain.NormalizeTag(tag) {
		if err := r.registerAlias(project, eq.ID, rawTag, sourceDoc, 1.0); err != nil {
			return Resolution{}, err
		}
	}
	r.log.Info("resolver: created equipment",
		"project", project, "tag", tag, "type", eqType, "id", eq.ID)
	return Resolution{EquipmentID: eq.ID, Tag: eq.Tag, Confidence: 1.0, IsNewEntity: true, Kind: MatchCreated}, nil
}

// score returns the best and second-best scored candidates for a normalized
// tag. Candidates belonging to the same equipment are collapsed to the
// highest-scoring alias before ranking.
func (r *Resolver) score(project, norm, canon string) (best, second domain.AliasCandidate) {
	canonNorm := domain.NormalizeTag(canon)
	byEquipment := make(map[string]domain.AliasCandidate)
	for _, ia := range r.reg.AliasIndex(project) {
		s := Similarity(norm, ia.Normalized)
		if canonNorm != "" && canonNorm != norm {
			if cs := Similarity(canonNorm, ia.Normalized); cs > s {
				s = cs
			}
		}
		cur, ok := byEquipment[ia.EquipmentID]
		if !ok || s > cur.Score {
			byEquipment[ia.EquipmentID] = domain.AliasCandidate{
				EquipmentID: ia.EquipmentID,
				Tag:         ia.Display,
				Score:       s,
			}
		}
	}

	ranked := make([]domain.AliasCandidate, 0, len(byEquipment))
	for _, c := range byEquipment {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Tag < ranked[j].Tag
	})
	if len(ranked) > 0 {
		best = ranked[0]
	}
	if len(ranked) > 1 {
		second = ranked[1]
	}
	return best, second
}

// Similarity computes a normalized 0-1 edit-distance ratio between two
// already-normalized tags. 1.0 means identical.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	dist := levenshtein(a, b)
	max := len(a)
	if len(b) > max {
		max = len(b)
	}
	return 1.0 - float64(dist)/float64(max)
}

// levenshtein computes edit distance with a two-row matrix.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
