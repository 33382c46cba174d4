package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/LL-LLLu/Electric-RAG-sub001/engine/ingest"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/powerflow"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/profile"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/registry"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/relation"
	"github.com/LL-LLLu/Electric-RAG-sub001/engine/resolver"
	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/metrics"
)

func newTestApp(t *testing.T, cfg resolver.Config) *app {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New()
	res := resolver.New(reg, cfg, log)
	edges := relation.NewStore()
	profiles := profile.NewStore()
	mets := metrics.New()
	coord := ingest.NewCoordinator(ingest.Deps{
		Registry: reg,
		Resolver: res,
		Edges:    edges,
		Profiles: profiles,
		Metrics:  mets,
		Logger:   log,
	})
	return &app{
		registry: reg,
		resolver: res,
		edges:    edges,
		profiles: profiles,
		flow:     powerflow.New(reg, res, edges),
		coord:    coord,
		maxDepth: powerflow.DefaultMaxDepth,
		metrics:  mets,
		log:      log,
	}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	mux := newTestApp(t, resolver.Config{}).routes()
	rec := do(t, mux, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleResolve(t *testing.T) {
	mux := newTestApp(t, resolver.Config{}).routes()

	rec := do(t, mux, http.MethodPost, "/api/projects/site-a/resolve",
		ResolveRequest{RawTag: "AHU-1", SourceDoc: "M-101.pdf"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var first resolver.Resolution
	decode(t, rec, &first)
	if !first.IsNewEntity || first.Kind != resolver.MatchCreated || first.Tag != "AHU-1" {
		t.Errorf("first resolution = %+v", first)
	}

	// A spacing variant of the same tag resolves to the same entity.
	rec = do(t, mux, http.MethodPost, "/api/projects/site-a/resolve",
		ResolveRequest{RawTag: "ahu 1"})
	var second resolver.Resolution
	decode(t, rec, &second)
	if second.IsNewEntity || second.EquipmentID != first.EquipmentID {
		t.Errorf("variant resolution = %+v, want match on %s", second, first.EquipmentID)
	}
}

func TestHandleResolveBadRequests(t *testing.T) {
	mux := newTestApp(t, resolver.Config{}).routes()

	rec := do(t, mux, http.MethodPost, "/api/projects/site-a/resolve", ResolveRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty raw_tag: status = %d, want 400", rec.Code)
	}
	rec = do(t, mux, http.MethodPost, "/api/projects/site-a/resolve", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}
}

func TestHandleResolveAmbiguous(t *testing.T) {
	mux := newTestApp(t, resolver.Config{AcceptThreshold: 0.85, TieMargin: 0.05}).routes()

	for _, tag := range []string{"CHWP-101", "CHWP-110"} {
		if rec := do(t, mux, http.MethodPost, "/api/projects/site-a/resolve",
			ResolveRequest{RawTag: tag}); rec.Code != http.StatusOK {
			t.Fatalf("seed %s: status = %d", tag, rec.Code)
		}
	}

	// One edit away from both pumps, inside the tie margin.
	rec := do(t, mux, http.MethodPost, "/api/projects/site-a/resolve",
		ResolveRequest{RawTag: "CHWP-100"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		RawTag     string           `json:"raw_tag"`
		Candidates []map[string]any `json:"candidates"`
	}
	decode(t, rec, &body)
	if body.RawTag != "CHWP-100" || len(body.Candidates) != 2 {
		t.Errorf("conflict body = %+v", body)
	}
}

// seedPlant ingests a small drive train and returns the report.
func seedPlant(t *testing.T, mux *http.ServeMux) ingest.Report {
	t.Helper()
	batch := map[string]any{
		"mentions": []map[string]any{
			{"raw_tag": "MCC-3", "document_id": "E-401.pdf", "page_number": 1},
			{"raw_tag": "VFD-101", "document_id": "E-401.pdf", "page_number": 1},
			{"raw_tag": "M-101", "document_id": "E-401.pdf", "page_number": 2},
		},
		"relationships": []map[string]any{
			{
				"source_tag_raw": "MCC-3", "target_tag_raw": "VFD-101",
				"type": "feeds", "category": "ELECTRICAL", "confidence": 0.9,
				"attrs": map[string]any{"voltage": "480V", "breaker": "CB-4"},
			},
			{
				"source_tag_raw": "VFD-101", "target_tag_raw": "M-101",
				"type": "drives", "category": "MECHANICAL", "confidence": 0.85,
			},
		},
		"facts": []map[string]any{
			{
				"tag_raw": "VFD-101", "data_type": "SPECIFICATION",
				"payload": map[string]any{"key": "HP", "value": "25"},
			},
		},
	}
	rec := do(t, mux, http.MethodPost, "/api/projects/site-a/ingest", batch)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var report ingest.Report
	decode(t, rec, &report)
	return report
}

func TestHandleIngest(t *testing.T) {
	mux := newTestApp(t, resolver.Config{}).routes()
	report := seedPlant(t, mux)

	if len(report.Created) != 3 {
		t.Errorf("created = %d, want 3", len(report.Created))
	}
	if report.EdgesCreated != 2 || report.FactsStored != 1 {
		t.Errorf("edges = %d, facts = %d", report.EdgesCreated, report.FactsStored)
	}
	if len(report.Failures) != 0 {
		t.Errorf("unexpected failures: %+v", report.Failures)
	}
	if report.Project != "site-a" {
		t.Errorf("project = %q, want path value", report.Project)
	}

	rec := do(t, mux, http.MethodPost, "/api/projects/site-a/ingest", "nope")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed batch: status = %d, want 400", rec.Code)
	}
}

func TestHandlePowerFlow(t *testing.T) {
	mux := newTestApp(t, resolver.Config{}).routes()
	seedPlant(t, mux)

	rec := do(t, mux, http.MethodGet, "/api/projects/site-a/powerflow?tag=VFD-101", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var res powerflow.Result
	decode(t, rec, &res)
	if res.TotalUpstream != 1 || res.Upstream[0].Tag != "MCC-3" {
		t.Errorf("upstream = %+v", res.Upstream)
	}
	if res.TotalDownstream != 1 || res.Downstream[0].Tag != "M-101" {
		t.Errorf("downstream = %+v", res.Downstream)
	}
	if res.Upstream[0].Voltage != "480V" {
		t.Errorf("edge attrs not carried: %+v", res.Upstream[0])
	}
}

func TestHandlePowerFlowErrors(t *testing.T) {
	mux := newTestApp(t, resolver.Config{}).routes()
	seedPlant(t, mux)

	cases := []struct {
		name string
		path string
		want int
	}{
		{"missing tag", "/api/projects/site-a/powerflow", http.StatusBadRequest},
		{"bad depth", "/api/projects/site-a/powerflow?tag=MCC-3&max_depth=zero", http.StatusBadRequest},
		{"negative depth", "/api/projects/site-a/powerflow?tag=MCC-3&max_depth=-2", http.StatusBadRequest},
		{"unknown tag", "/api/projects/site-a/powerflow?tag=XFMR-9", http.StatusNotFound},
		{"unknown project", "/api/projects/ghost/powerflow?tag=MCC-3", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, mux, http.MethodGet, tc.path, nil)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestHandlePowerChain(t *testing.T) {
	mux := newTestApp(t, resolver.Config{}).routes()
	seedPlant(t, mux)

	rec := do(t, mux, http.MethodGet, "/api/projects/site-a/powerchain?tag=M-101&direction=upstream", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Chain []powerflow.ChainLink `json:"chain"`
	}
	decode(t, rec, &body)
	tags := make([]string, len(body.Chain))
	for i, l := range body.Chain {
		tags[i] = l.Tag
	}
	want := []string{"M-101", "VFD-101", "MCC-3"}
	if len(tags) != len(want) {
		t.Fatalf("chain = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("chain = %v, want %v", tags, want)
		}
	}
}

func TestHandleQuestion(t *testing.T) {
	mux := newTestApp(t, resolver.Config{}).routes()

	rec := do(t, mux, http.MethodGet, "/api/projects/site-a/question?q=what+is+AHU-1+fed+by", nil)
	var body struct {
		Relationship bool                      `json:"relationship_question"`
		Kind         powerflow.RelationshipKind `json:"kind"`
	}
	decode(t, rec, &body)
	if !body.Relationship || body.Kind != powerflow.KindUpstream {
		t.Errorf("classification = %+v", body)
	}

	rec = do(t, mux, http.MethodGet, "/api/projects/site-a/question?q=what+is+the+setpoint", nil)
	body = struct {
		Relationship bool                      `json:"relationship_question"`
		Kind         powerflow.RelationshipKind `json:"kind"`
	}{}
	decode(t, rec, &body)
	if body.Relationship || body.Kind != "" {
		t.Errorf("non-relationship question classified: %+v", body)
	}

	if rec := do(t, mux, http.MethodGet, "/api/projects/site-a/question", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want 400", rec.Code)
	}
}

func TestHandleEquipmentViews(t *testing.T) {
	mux := newTestApp(t, resolver.Config{}).routes()
	report := seedPlant(t, mux)

	var vfd string
	for _, r := range report.Created {
		if r.Tag == "VFD-101" {
			vfd = r.EquipmentID
		}
	}
	if vfd == "" {
		t.Fatal("VFD-101 not in created set")
	}

	rec := do(t, mux, http.MethodGet, "/api/projects/site-a/equipment", nil)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, rec, &list)
	if list.Count != 3 {
		t.Errorf("equipment count = %d, want 3", list.Count)
	}

	rec = do(t, mux, http.MethodGet, "/api/projects/site-a/equipment/"+vfd+"/aliases", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("aliases: status = %d", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, "/api/projects/site-a/equipment/"+vfd+"/connections", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("connections: status = %d", rec.Code)
	}
	var conns struct {
		Connections []relation.ConnectionGroup `json:"connections"`
	}
	decode(t, rec, &conns)
	if len(conns.Connections) == 0 {
		t.Error("no connection groups for a wired drive")
	}

	rec = do(t, mux, http.MethodGet, "/api/projects/site-a/equipment/"+vfd+"/profile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var prof struct {
		EquipmentID string          `json:"equipment_id"`
		Version     int             `json:"version"`
		Document    json.RawMessage `json:"document"`
	}
	decode(t, rec, &prof)
	if prof.EquipmentID != vfd || prof.Version < 1 || len(prof.Document) == 0 {
		t.Errorf("profile = %+v", prof)
	}
}

func TestHandleEquipmentScope(t *testing.T) {
	mux := newTestApp(t, resolver.Config{}).routes()
	report := seedPlant(t, mux)
	id := report.Created[0].EquipmentID

	// The same id through another project is a scope violation, not a miss.
	do(t, mux, http.MethodPost, "/api/projects/site-b/resolve", ResolveRequest{RawTag: "AHU-9"})
	rec := do(t, mux, http.MethodGet, "/api/projects/site-b/equipment/"+id+"/connections", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleUpsertEdge(t *testing.T) {
	mux := newTestApp(t, resolver.Config{}).routes()
	report := seedPlant(t, mux)

	byTag := map[string]string{}
	for _, r := range report.Created {
		byTag[r.Tag] = r.EquipmentID
	}

	rec := do(t, mux, http.MethodPost, "/api/projects/site-a/edges", EdgeRequest{
		SourceID:   byTag["MCC-3"],
		TargetID:   byTag["M-101"],
		Type:       "interlocks",
		Confidence: 0.7,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Outcome relation.UpsertOutcome `json:"outcome"`
	}
	decode(t, rec, &body)
	if body.Outcome != relation.EdgeCreated {
		t.Errorf("outcome = %q, want created", body.Outcome)
	}

	rec = do(t, mux, http.MethodPost, "/api/projects/site-a/edges", EdgeRequest{
		SourceID:   byTag["MCC-3"],
		TargetID:   byTag["M-101"],
		Type:       "interlocks",
		Confidence: 0.9,
	})
	decode(t, rec, &body)
	if body.Outcome != relation.EdgeUpdated {
		t.Errorf("outcome = %q, want updated", body.Outcome)
	}

	// Self loops map onto the invalid-edge taxonomy.
	rec = do(t, mux, http.MethodPost, "/api/projects/site-a/edges", EdgeRequest{
		SourceID:   byTag["MCC-3"],
		TargetID:   byTag["MCC-3"],
		Type:       "feeds",
		Confidence: 0.5,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("self loop: status = %d, want 400", rec.Code)
	}

	rec = do(t, mux, http.MethodPost, "/api/projects/site-a/edges", EdgeRequest{
		SourceID:   "no-such-id",
		TargetID:   byTag["M-101"],
		Type:       "feeds",
		Confidence: 0.5,
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown source: status = %d, want 404", rec.Code)
	}
}

func TestHandleDeleteProject(t *testing.T) {
	mux := newTestApp(t, resolver.Config{}).routes()
	seedPlant(t, mux)

	rec := do(t, mux, http.MethodDelete, "/api/projects/site-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, "/api/projects/site-a/equipment", nil)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, rec, &list)
	if list.Count != 0 {
		t.Errorf("equipment count after delete = %d, want 0", list.Count)
	}
}
