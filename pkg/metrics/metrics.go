// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the engine records, bound to one Prometheus
// registry so tests can instantiate their own without collisions.
type Registry struct {
	registry *prometheus.Registry

	ResolutionsTotal  *prometheus.CounterVec
	AliasOutcomes     *prometheus.CounterVec
	EdgeUpserts       *prometheus.CounterVec
	FactsStored       *prometheus.CounterVec
	ProfileRebuilds   prometheus.Counter
	BatchesTotal      *prometheus.CounterVec
	BatchDuration     prometheus.Histogram
	BatchSize         prometheus.Histogram
	TraversalDuration *prometheus.HistogramVec
	TraversalNodes    prometheus.Histogram
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New builds a Registry on a fresh prometheus.Registry.
func New() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.ResolutionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekg_resolutions_total",
			Help: "Alias resolutions by match kind",
		},
		[]string{"kind"},
	)
	r.AliasOutcomes = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekg_alias_outcomes_total",
			Help: "Alias registrations by outcome",
		},
		[]string{"outcome"},
	)
	r.EdgeUpserts = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekg_edge_upserts_total",
			Help: "Edge upserts by outcome",
		},
		[]string{"outcome"},
	)
	r.FactsStored = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekg_facts_stored_total",
			Help: "Facts appended by fact type",
		},
		[]string{"type"},
	)
	r.ProfileRebuilds = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "ekg_profile_rebuilds_total",
			Help: "Profile document rebuilds",
		},
	)
	r.BatchesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekg_ingest_batches_total",
			Help: "Ingestion batches by status",
		},
		[]string{"status"},
	)
	r.BatchDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ekg_ingest_batch_duration_seconds",
			Help:    "Ingestion batch processing duration",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
	r.BatchSize = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ekg_ingest_batch_records",
			Help:    "Records per ingestion batch",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		},
	)
	r.TraversalDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ekg_traversal_duration_seconds",
			Help:    "Power-flow traversal duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"kind"},
	)
	r.TraversalNodes = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ekg_traversal_nodes",
			Help:    "Nodes returned per traversal",
			Buckets: []float64{1, 5, 10, 50, 100, 500},
		},
	)
	r.HTTPRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekg_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)
	r.HTTPDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ekg_http_request_duration_seconds",
			Help:    "HTTP request duration by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	return r
}

// Prometheus returns the underlying registry for promhttp handlers.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// RecordBatch records one completed ingestion batch.
func (r *Registry) RecordBatch(status string, records int, duration time.Duration) {
	r.BatchesTotal.WithLabelValues(status).Inc()
	r.BatchSize.Observe(float64(records))
	r.BatchDuration.Observe(duration.Seconds())
}

// RecordTraversal records one power-flow traversal.
func (r *Registry) RecordTraversal(kind string, nodes int, duration time.Duration) {
	r.TraversalDuration.WithLabelValues(kind).Observe(duration.Seconds())
	r.TraversalNodes.Observe(float64(nodes))
}
