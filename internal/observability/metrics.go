// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the kioku server.
package observability

import "github.com/prometheus/client_golang/prometheus"

// Operation status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

var (
	// IndexEntries tracks the number of vectors in the semantic index.
	IndexEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kioku_index_entries",
			Help: "Vectors in the semantic index",
		},
	)

	// IndexOperationsTotal counts index operations (index, remove, search, rebuild) by outcome.
	IndexOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_index_operations_total",
			Help: "Index operations",
		},
		[]string{"op", "status"},
	)

	// SearchDuration records end-to-end semantic search latency in seconds.
	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kioku_search_duration_seconds",
			Help:    "Search duration",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// EmbeddingRequestsTotal counts calls to the embedding provider.
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_embedding_requests_total",
			Help: "Embedding provider requests",
		},
		[]string{"provider", "status"},
	)

	// RebuildsTotal counts full index rebuilds by outcome (ok, partial, error).
	RebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_rebuilds_total",
			Help: "Index rebuilds",
		},
		[]string{"status"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		IndexEntries,
		IndexOperationsTotal,
		SearchDuration,
		EmbeddingRequestsTotal,
		RebuildsTotal,
		HTTPRequestsTotal,
	)
}

// Status maps an error to the status label value.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
