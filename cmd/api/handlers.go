package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/domain"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/graph"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/ingest"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/powerflow"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/profile"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/registry"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/relation"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/resolver"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/store/pgstore"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/metrics"
)

// app bundles the engine stores behind the HTTP handlers.
type app struct {
	registry *registry.Registry
	resolver *resolver.Resolver
	edges    *relation.Store
	profiles *profile.Store
	flow     *powerflow.Engine
	coord    *ingest.Coordinator
	mirror   *graph.GraphStore
	archive  *pgstore.Store
	maxDepth int
	metrics  *metrics.Registry
	log      *slog.Logger
}

// routes wires every engine endpoint onto a fresh mux.
func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("POST /api/projects/{project}/resolve", a.handleResolve)
	mux.HandleFunc("POST /api/projects/{project}/ingest", a.handleIngest)
	mux.HandleFunc("GET /api/projects/{project}/powerflow", a.handlePowerFlow)
	mux.HandleFunc("GET /api/projects/{project}/powerchain", a.handlePowerChain)
	mux.HandleFunc("GET /api/projects/{project}/question", a.handleQuestion)
	mux.HandleFunc("GET /api/projects/{project}/equipment", a.handleListEquipment)
	mux.HandleFunc("GET /api/projects/{project}/equipment/{id}/profile", a.handleProfile)
	mux.HandleFunc("GET /api/projects/{project}/equipment/{id}/aliases", a.handleAliases)
	mux.HandleFunc("GET /api/projects/{project}/equipment/{id}/connections", a.handleConnections)
	mux.HandleFunc("POST /api/projects/{project}/edges", a.handleUpsertEdge)
	mux.HandleFunc("DELETE /api/projects/{project}", a.handleDeleteProject)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps the engine error taxonomy onto HTTP statuses.
func (a *app) writeEngineError(w http.ResponseWriter, err error) {
	var amb *domain.AmbiguityError
	switch {
	case errors.As(err, &amb):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "ambiguous alias",
			"raw_tag":    amb.RawTag,
			"candidates": amb.Candidates,
		})
	case errors.Is(err, domain.ErrUnknownEquipment), errors.Is(err, domain.ErrUnknownProject):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrScopeViolation):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidEdge), errors.Is(err, domain.ErrInvalidFact),
		errors.Is(err, domain.ErrInvalidBatch), errors.Is(err, domain.ErrDuplicateAlias):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResolveRequest is the JSON body for POST /api/projects/{project}/resolve.
type ResolveRequest struct {
	RawTag        string `json:"raw_tag"`
	SourceDoc     string `json:"source_doc,omitempty"`
	SuggestedType string `json:"suggested_type,omitempty"`
}

func (a *app) handleResolve(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RawTag == "" {
		writeError(w, http.StatusBadRequest, "raw_tag is required")
		return
	}

	var res resolver.Resolution
	err := a.registry.WithResolveLock(project, func() error {
		var rerr error
		res, rerr = a.resolver.Resolve(project, req.RawTag, req.SourceDoc, req.SuggestedType)
		return rerr
	})
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *app) handleIngest(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	var batch ingest.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	batch.Project = project

	report, err := a.coord.IngestBatch(r.Context(), batch)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *app) handlePowerFlow(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		writeError(w, http.StatusBadRequest, "tag query parameter is required")
		return
	}
	depth := a.maxDepth
	if v := r.URL.Query().Get("max_depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "max_depth must be a positive integer")
			return
		}
		depth = n
	}

	start := time.Now()
	result, err := a.flow.PowerFlow(r.Context(), project, tag, depth)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.metrics.RecordTraversal("power_flow", result.TotalUpstream+result.TotalDownstream, time.Since(start))
	writeJSON(w, http.StatusOK, result)
}

func (a *app) handlePowerChain(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		writeError(w, http.StatusBadRequest, "tag query parameter is required")
		return
	}
	upstream := r.URL.Query().Get("direction") == "upstream"
	depth := a.maxDepth
	if v := r.URL.Query().Get("max_depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "max_depth must be a positive integer")
			return
		}
		depth = n
	}

	start := time.Now()
	chain, err := a.flow.PowerChain(r.Context(), project, tag, depth, upstream)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.metrics.RecordTraversal("power_chain", len(chain), time.Since(start))
	writeJSON(w, http.StatusOK, map[string]any{"chain": chain})
}

// handleQuestion classifies a free-text question so clients can pick the
// right traversal to answer it with.
func (a *app) handleQuestion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q query parameter is required")
		return
	}
	kind, ok := powerflow.DetectRelationshipKind(q)
	writeJSON(w, http.StatusOK, map[string]any{
		"relationship_question": ok,
		"kind":                  kind,
	})
}

func (a *app) handleListEquipment(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	all := a.registry.All(project)
	writeJSON(w, http.StatusOK, map[string]any{
		"equipment": all,
		"count":     len(all),
	})
}

func (a *app) handleProfile(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	id := r.PathValue("id")
	eq, err := a.registry.Get(project, id)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}

	prof, ok := a.profiles.GetProfile(project, id)
	if !ok {
		// No facts archived yet; build from identity alone.
		aliases, _ := a.registry.Aliases(project, id)
		names := make([]string, 0, len(aliases))
		for _, al := range aliases {
			names = append(names, al.Alias)
		}
		var rerr error
		prof, rerr = a.profiles.RebuildProfile(project, id, profile.Identity{
			Tag:         eq.Tag,
			Type:        eq.Type,
			Description: eq.Description,
			Aliases:     names,
		})
		if rerr != nil {
			a.writeEngineError(w, rerr)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"equipment_id": prof.EquipmentID,
		"version":      prof.Version,
		"last_updated": prof.LastUpdated,
		"document":     json.RawMessage(prof.Document),
	})
}

func (a *app) handleAliases(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	id := r.PathValue("id")
	aliases, err := a.registry.Aliases(project, id)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"aliases": aliases})
}

func (a *app) handleConnections(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	id := r.PathValue("id")
	if _, err := a.registry.Get(project, id); err != nil {
		a.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": a.edges.Connections(project, id),
	})
}

// EdgeRequest is the JSON body for the administrative edge upsert.
type EdgeRequest struct {
	SourceID   string                `json:"source_id"`
	TargetID   string                `json:"target_id"`
	Type       domain.EdgeType       `json:"type"`
	Category   domain.EdgeCategory   `json:"category,omitempty"`
	Confidence float64               `json:"confidence"`
	Attrs      domain.EdgeAttributes `json:"attrs"`
	DocumentID string                `json:"document_id,omitempty"`
}

func (a *app) handleUpsertEdge(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	var req EdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, id := range []string{req.SourceID, req.TargetID} {
		if _, err := a.registry.Get(project, id); err != nil {
			a.writeEngineError(w, err)
			return
		}
	}

	outcome, err := a.edges.UpsertEdge(project, domain.Edge{
		Source:     req.SourceID,
		Target:     req.TargetID,
		Type:       req.Type,
		Category:   req.Category,
		Confidence: req.Confidence,
		Attrs:      req.Attrs,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.metrics.EdgeUpserts.WithLabelValues(string(outcome)).Inc()

	if a.mirror != nil && outcome != relation.EdgeDowngradeRejected {
		if stored, ok := a.edges.Get(project, req.SourceID, req.TargetID, req.Type); ok {
			if err := a.mirror.SaveEdge(r.Context(), relation.EdgeTags{}, stored); err != nil {
				a.log.Warn("edge mirror failed", "err", err)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

// handleDeleteProject cascades: equipment, aliases, edges, facts, profiles,
// plus the mirrored graph and the archive when configured.
func (a *app) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	a.registry.DeleteProject(project)
	a.edges.DeleteProject(project)
	a.profiles.DeleteProject(project)
	if a.mirror != nil {
		if err := a.mirror.DeleteProject(r.Context(), project); err != nil {
			a.log.Warn("mirror project delete failed", "project", project, "err", err)
		}
	}
	if a.archive != nil {
		if err := a.archive.DeleteProject(r.Context(), project); err != nil {
			a.log.Warn("archive project delete failed", "project", project, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "project": project})
}
