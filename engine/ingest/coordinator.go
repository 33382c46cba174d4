// Package ingest coordinates writes from concurrent document-processing
// pipelines into the registry, relationship store and fact store. A batch is
// processed as a staged pipeline: validate, resolve mentions, apply edges,
// apply facts, rebuild profiles. One malformed candidate never aborts the
// batch; every discarded record is reported.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/domain"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/profile"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/registry"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/relation"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/resolver"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/fn"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/metrics"
)

// Batch is one ingestion unit emitted by a document processor.
type Batch struct {
	Project       string                         `json:"project" validate:"required"`
	Mentions      []domain.TagMention            `json:"mentions"`
	Relationships []domain.RelationshipCandidate `json:"relationships"`
	Facts         []domain.FactCandidate         `json:"facts"`
}

// Failure records one candidate that could not be applied. Kind identifies
// the record class, Index its position in the batch input.
type Failure struct {
	Kind   string `json:"kind"` // mention, relationship, fact
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// DiscardedEdge is a relationship candidate dropped by the confidence guard.
type DiscardedEdge struct {
	SourceTag  string          `json:"source_tag"`
	TargetTag  string          `json:"target_tag"`
	Type       domain.EdgeType `json:"type"`
	Confidence float64         `json:"confidence"`
	Kept       float64         `json:"kept_confidence"`
}

// AmbiguousTag records a raw tag whose resolution hit the tie margin. The
// tag is not canonicalized; candidates referencing it fail individually.
type AmbiguousTag struct {
	RawTag     string                  `json:"raw_tag"`
	Candidates []domain.AliasCandidate `json:"candidates"`
}

// Report is the full accounting of one processed batch. Nothing is silently
// dropped: every input record lands in exactly one of the buckets.
type Report struct {
	Project         string                `json:"project"`
	Created         []resolver.Resolution `json:"created"`
	Matched         []resolver.Resolution `json:"matched"`
	Ambiguous       []AmbiguousTag        `json:"ambiguous,omitempty"`
	EdgesCreated    int                   `json:"edges_created"`
	EdgesUpdated    int                   `json:"edges_updated"`
	DiscardedEdges  []DiscardedEdge       `json:"discarded_edges,omitempty"`
	FactsStored     int                   `json:"facts_stored"`
	ProfilesRebuilt int                   `json:"profiles_rebuilt"`
	Failures        []Failure             `json:"failures,omitempty"`
	Duration        time.Duration         `json:"duration"`
}

// GraphMirror receives best-effort write-behind copies of canonical state.
type GraphMirror interface {
	SaveEquipment(ctx context.Context, eq domain.Equipment, aliases []domain.Alias) error
	SaveEdge(ctx context.Context, tags relation.EdgeTags, e domain.Edge) error
}

// Archiver persists the durable record of a batch outside the in-memory
// engine. Failures are logged, never fatal to the batch.
type Archiver interface {
	ArchiveBatch(ctx context.Context, set ArchiveSet) error
}

// ArchiveSet is the durable payload handed to an Archiver.
type ArchiveSet struct {
	Project   string
	Equipment []domain.Equipment
	Aliases   []domain.Alias
	Edges     []domain.Edge
	Facts     []domain.Fact
}

// Deps holds the stores and side channels a Coordinator writes to.
type Deps struct {
	Registry *registry.Registry
	Resolver *resolver.Resolver
	Edges    *relation.Store
	Profiles *profile.Store
	Mirror   GraphMirror // optional
	Archiver Archiver    // optional
	Metrics  *metrics.Registry
	Logger   *slog.Logger
}

// Coordinator applies batches. Safe for concurrent use; the registry's
// per-project resolve lock serializes only the canonicalization step.
type Coordinator struct {
	deps     Deps
	validate *validator.Validate
	pipeline fn.Stage[*batchState, *batchState]
}

func NewCoordinator(deps Deps) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	c := &Coordinator{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	c.pipeline = fn.Pipeline(
		fn.TracedStage("ingest.validate", c.validateStage),
		fn.TracedStage("ingest.resolve", c.resolveStage),
		fn.TracedStage("ingest.edges", c.edgeStage),
		fn.TracedStage("ingest.facts", c.factStage),
		fn.TracedStage("ingest.profiles", c.profileStage),
	)
	return c
}

// batchState threads one batch through the pipeline stages.
type batchState struct {
	batch Batch

	mentions      []indexed[domain.TagMention]
	relationships []indexed[domain.RelationshipCandidate]
	facts         []indexed[domain.FactCandidate]

	// resolved maps normalized raw tags to equipment ids.
	resolved  map[string]string
	ambiguous map[string]bool
	touched   map[string]bool // equipment ids with new facts

	archive ArchiveSet
	report  Report
}

type indexed[T any] struct {
	idx int
	rec T
}

// IngestBatch applies one batch and returns its report. The report is
// returned even when some candidates failed; only a nil registry or an
// invalid project aborts outright.
func (c *Coordinator) IngestBatch(ctx context.Context, batch Batch) (Report, error) {
	start := time.Now()
	if batch.Project == "" {
		return Report{}, domain.NewValidationError("project", "", domain.ErrInvalidBatch)
	}
	st := &batchState{
		batch:     batch,
		resolved:  make(map[string]string),
		ambiguous: make(map[string]bool),
		touched:   make(map[string]bool),
		report:    Report{Project: batch.Project},
	}
	st.archive.Project = batch.Project

	out, err := c.pipeline(ctx, st).Unwrap()
	if err != nil {
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordBatch("error", c.recordCount(batch), time.Since(start))
		}
		return Report{}, err
	}
	out.report.Duration = time.Since(start)

	c.sideEffects(ctx, out)

	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordBatch("ok", c.recordCount(batch), out.report.Duration)
	}
	c.deps.Logger.Info("ingest: batch applied",
		"project", batch.Project,
		"created", len(out.report.Created),
		"matched", len(out.report.Matched),
		"edges_created", out.report.EdgesCreated,
		"facts", out.report.FactsStored,
		"failures", len(out.report.Failures),
	)
	return out.report, nil
}

func (c *Coordinator) recordCount(b Batch) int {
	return len(b.Mentions) + len(b.Relationships) + len(b.Facts)
}

// validateStage runs struct validation over every record, keeping the valid
// ones and converting the rest into reported failures.
func (c *Coordinator) validateStage(ctx context.Context, st *batchState) fn.Result[*batchState] {
	for i, m := range st.batch.Mentions {
		if err := c.validate.StructCtx(ctx, m); err != nil {
			st.report.Failures = append(st.report.Failures, Failure{Kind: "mention", Index: i, Reason: err.Error()})
			continue
		}
		st.mentions = append(st.mentions, indexed[domain.TagMention]{idx: i, rec: m})
	}
	for i, r := range st.batch.Relationships {
		if err := c.validate.StructCtx(ctx, r); err != nil {
			st.report.Failures = append(st.report.Failures, Failure{Kind: "relationship", Index: i, Reason: err.Error()})
			continue
		}
		if err := domain.ValidateRelationshipCandidate(r); err != nil {
			st.report.Failures = append(st.report.Failures, Failure{Kind: "relationship", Index: i, Reason: err.Error()})
			continue
		}
		st.relationships = append(st.relationships, indexed[domain.RelationshipCandidate]{idx: i, rec: r})
	}
	for i, f := range st.batch.Facts {
		if err := c.validate.StructCtx(ctx, f); err != nil {
			st.report.Failures = append(st.report.Failures, Failure{Kind: "fact", Index: i, Reason: err.Error()})
			continue
		}
		if err := domain.ValidateFactCandidate(f); err != nil {
			st.report.Failures = append(st.report.Failures, Failure{Kind: "fact", Index: i, Reason: err.Error()})
			continue
		}
		st.facts = append(st.facts, indexed[domain.FactCandidate]{idx: i, rec: f})
	}
	return fn.Ok(st)
}

// resolveStage canonicalizes every raw tag in the batch under the project's
// resolve lock. Mentions resolve first, then the tags referenced only by
// candidates, so every candidate sees an already-canonicalized id.
// Identical raw tags are deduplicated before resolution.
func (c *Coordinator) resolveStage(_ context.Context, st *batchState) fn.Result[*batchState] {
	project := st.batch.Project

	type pending struct {
		raw           string
		suggestedType string
		sourceDoc     string
	}
	var order []pending
	seen := make(map[string]bool)
	add := func(raw, typ, doc string) {
		norm := domain.NormalizeTag(raw)
		if norm == "" || seen[norm] {
			return
		}
		seen[norm] = true
		order = append(order, pending{raw: raw, suggestedType: typ, sourceDoc: doc})
	}
	for _, m := range st.mentions {
		add(m.rec.RawTag, m.rec.SuggestedType, m.rec.DocumentID)
	}
	for _, r := range st.relationships {
		add(r.rec.SourceTagRaw, "", r.rec.DocumentID)
		add(r.rec.TargetTagRaw, "", r.rec.DocumentID)
	}
	for _, f := range st.facts {
		add(f.rec.TagRaw, "", f.rec.SourceLocation)
	}

	err := c.deps.Registry.WithResolveLock(project, func() error {
		for _, p := range order {
			res, err := c.deps.Resolver.Resolve(project, p.raw, p.sourceDoc, p.suggestedType)
			if err != nil {
				var amb *domain.AmbiguityError
				if errors.As(err, &amb) {
					st.ambiguous[domain.NormalizeTag(p.raw)] = true
					st.report.Ambiguous = append(st.report.Ambiguous, AmbiguousTag{
						RawTag:     p.raw,
						Candidates: amb.Candidates,
					})
					c.deps.Logger.Warn("ingest: ambiguous tag skipped",
						"project", project, "raw_tag", p.raw)
					continue
				}
				return fmt.Errorf("resolve %q: %w", p.raw, err)
			}
			st.resolved[domain.NormalizeTag(p.raw)] = res.EquipmentID
			if c.deps.Metrics != nil {
				c.deps.Metrics.ResolutionsTotal.WithLabelValues(string(res.Kind)).Inc()
			}
			if res.IsNewEntity {
				st.report.Created = append(st.report.Created, res)
			} else {
				st.report.Matched = append(st.report.Matched, res)
			}
		}
		return nil
	})
	if err != nil {
		return fn.Err[*batchState](err)
	}
	return fn.Ok(st)
}

// lookupResolved maps a raw tag to its canonical id, distinguishing
// ambiguity from plain absence for error reporting.
func (st *batchState) lookupResolved(raw string) (string, string) {
	norm := domain.NormalizeTag(raw)
	if id, ok := st.resolved[norm]; ok {
		return id, ""
	}
	if st.ambiguous[norm] {
		return "", fmt.Sprintf("tag %q ambiguous, not canonicalized", raw)
	}
	return "", fmt.Sprintf("tag %q unresolved", raw)
}

func (c *Coordinator) edgeStage(_ context.Context, st *batchState) fn.Result[*batchState] {
	for _, r := range st.relationships {
		srcID, reason := st.lookupResolved(r.rec.SourceTagRaw)
		if reason != "" {
			st.report.Failures = append(st.report.Failures, Failure{Kind: "relationship", Index: r.idx, Reason: reason})
			continue
		}
		tgtID, reason := st.lookupResolved(r.rec.TargetTagRaw)
		if reason != "" {
			st.report.Failures = append(st.report.Failures, Failure{Kind: "relationship", Index: r.idx, Reason: reason})
			continue
		}
		edge := domain.Edge{
			Source:     srcID,
			Target:     tgtID,
			Type:       r.rec.Type,
			Category:   r.rec.Category,
			Confidence: r.rec.Confidence,
			Attrs:      r.rec.Attrs,
			DocumentID: r.rec.DocumentID,
			PageNumber: r.rec.PageNumber,
		}
		outcome, err := c.deps.Edges.UpsertEdge(st.batch.Project, edge)
		if err != nil {
			st.report.Failures = append(st.report.Failures, Failure{Kind: "relationship", Index: r.idx, Reason: err.Error()})
			continue
		}
		if c.deps.Metrics != nil {
			c.deps.Metrics.EdgeUpserts.WithLabelValues(string(outcome)).Inc()
		}
		switch outcome {
		case relation.EdgeCreated:
			st.report.EdgesCreated++
		case relation.EdgeUpdated:
			st.report.EdgesUpdated++
		case relation.EdgeDowngradeRejected:
			kept, _ := c.deps.Edges.Get(st.batch.Project, srcID, tgtID, r.rec.Type)
			st.report.DiscardedEdges = append(st.report.DiscardedEdges, DiscardedEdge{
				SourceTag:  r.rec.SourceTagRaw,
				TargetTag:  r.rec.TargetTagRaw,
				Type:       r.rec.Type,
				Confidence: r.rec.Confidence,
				Kept:       kept.Confidence,
			})
			continue
		}
		if stored, ok := c.deps.Edges.Get(st.batch.Project, srcID, tgtID, r.rec.Type); ok {
			st.archive.Edges = append(st.archive.Edges, stored)
		}
	}
	return fn.Ok(st)
}

func (c *Coordinator) factStage(_ context.Context, st *batchState) fn.Result[*batchState] {
	for _, f := range st.facts {
		id, reason := st.lookupResolved(f.rec.TagRaw)
		if reason != "" {
			st.report.Failures = append(st.report.Failures, Failure{Kind: "fact", Index: f.idx, Reason: reason})
			continue
		}
		stored, err := c.deps.Profiles.AddFact(st.batch.Project, domain.Fact{
			EquipmentID:    id,
			Type:           f.rec.DataType,
			Payload:        f.rec.Payload,
			SourceLocation: f.rec.SourceLocation,
		})
		if err != nil {
			st.report.Failures = append(st.report.Failures, Failure{Kind: "fact", Index: f.idx, Reason: err.Error()})
			continue
		}
		st.report.FactsStored++
		st.touched[id] = true
		st.archive.Facts = append(st.archive.Facts, stored)
		if c.deps.Metrics != nil {
			c.deps.Metrics.FactsStored.WithLabelValues(string(f.rec.DataType)).Inc()
		}
	}
	return fn.Ok(st)
}

// profileStage rebuilds the profile of every equipment that received facts.
func (c *Coordinator) profileStage(_ context.Context, st *batchState) fn.Result[*batchState] {
	project := st.batch.Project
	for id := range st.touched {
		eq, err := c.deps.Registry.Get(project, id)
		if err != nil {
			continue
		}
		aliases, _ := c.deps.Registry.Aliases(project, id)
		names := make([]string, 0, len(aliases))
		for _, a := range aliases {
			names = append(names, a.Alias)
		}
		if _, err := c.deps.Profiles.RebuildProfile(project, id, profile.Identity{
			Tag:         eq.Tag,
			Type:        eq.Type,
			Description: eq.Description,
			Aliases:     names,
		}); err != nil {
			c.deps.Logger.Error("ingest: profile rebuild failed", "equipment", id, "error", err)
			continue
		}
		st.report.ProfilesRebuilt++
		if c.deps.Metrics != nil {
			c.deps.Metrics.ProfileRebuilds.Inc()
		}
	}
	return fn.Ok(st)
}

// sideEffects pushes the applied batch to the graph mirror and archive.
// Both are best-effort write-behind; errors are logged, never returned.
func (c *Coordinator) sideEffects(ctx context.Context, st *batchState) {
	project := st.batch.Project
	for _, res := range st.report.Created {
		st.touched[res.EquipmentID] = true
	}

	if c.deps.Mirror != nil {
		seen := make(map[string]bool)
		mirrorOne := func(id string) {
			if seen[id] {
				return
			}
			seen[id] = true
			eq, err := c.deps.Registry.Get(project, id)
			if err != nil {
				return
			}
			aliases, _ := c.deps.Registry.Aliases(project, id)
			if err := c.deps.Mirror.SaveEquipment(ctx, eq, aliases); err != nil {
				c.deps.Logger.Warn("ingest: graph mirror equipment", "equipment", id, "error", err)
			}
			st.archive.Equipment = append(st.archive.Equipment, eq)
			st.archive.Aliases = append(st.archive.Aliases, aliases...)
		}
		for _, res := range st.report.Created {
			mirrorOne(res.EquipmentID)
		}
		for _, res := range st.report.Matched {
			mirrorOne(res.EquipmentID)
		}
		for _, e := range st.archive.Edges {
			tags := relation.EdgeTags{}
			if eq, err := c.deps.Registry.Get(project, e.Source); err == nil {
				tags.SourceTag = eq.Tag
			}
			if eq, err := c.deps.Registry.Get(project, e.Target); err == nil {
				tags.TargetTag = eq.Tag
			}
			if err := c.deps.Mirror.SaveEdge(ctx, tags, e); err != nil {
				c.deps.Logger.Warn("ingest: graph mirror edge", "source", e.Source, "target", e.Target, "error", err)
			}
		}
	} else {
		for _, res := range append(st.report.Created, st.report.Matched...) {
			if eq, err := c.deps.Registry.Get(project, res.EquipmentID); err == nil {
				st.archive.Equipment = append(st.archive.Equipment, eq)
				if aliases, aerr := c.deps.Registry.Aliases(project, res.EquipmentID); aerr == nil {
					st.archive.Aliases = append(st.archive.Aliases, aliases...)
				}
			}
		}
	}

	if c.deps.Archiver != nil {
		if err := c.deps.Archiver.ArchiveBatch(ctx, st.archive); err != nil {
			c.deps.Logger.Warn("ingest: archive batch", "project", project, "error", err)
		}
	}
}
