// Package metrics holds the Prometheus collectors for the memory engine and routing cascade.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "mnemo"

// Engine metrics.
var (
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"kind"}, // "hybrid" / "vector"
	)

	IndexSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vector_index_nodes",
			Help:      "Number of live nodes in the vector index",
		},
	)

	IngestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Document ingestion attempts",
		},
		[]string{"status"}, // "ok" / "error" / "compensated"
	)

	DocumentCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_cache_total",
			Help:      "Document cache hits and misses",
		},
		[]string{"tier", "result"}, // tier "l1" / "l2"; result "hit" / "miss"
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"provider"},
	)
)

// Routing cascade metrics.
var (
	CascadeStageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_stage_total",
			Help:      "Cascade stage executions by outcome",
		},
		[]string{"strategy", "outcome"}, // outcome "accepted" / "escalated" / "error" / "timeout"
	)

	CascadeStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cascade_stage_duration_seconds",
			Help:      "Cascade stage latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"strategy"},
	)

	CascadeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_failures_total",
			Help:      "Queries for which every routing strategy failed",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SearchDuration,
		IndexSize,
		IngestTotal,
		DocumentCacheTotal,
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		CascadeStageTotal,
		CascadeStageDuration,
		CascadeFailuresTotal,
	)
}
