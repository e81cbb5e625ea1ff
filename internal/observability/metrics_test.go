package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistered(t *testing.T) {
	IndexOperationsTotal.WithLabelValues("search", StatusOK).Inc()
	SearchDuration.Observe(0.01)
	EmbeddingRequestsTotal.WithLabelValues("mock:hash", StatusOK).Inc()
	RebuildsTotal.WithLabelValues(StatusOK).Inc()
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	IndexEntries.Set(3)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}
	expected := map[string]bool{
		"kioku_index_entries":            false,
		"kioku_index_operations_total":   false,
		"kioku_search_duration_seconds":  false,
		"kioku_embedding_requests_total": false,
		"kioku_rebuilds_total":           false,
		"kioku_http_requests_total":      false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not found in default registry", name)
		}
	}
}

func TestStatus(t *testing.T) {
	if Status(nil) != StatusOK {
		t.Error("nil error should map to ok")
	}
	if Status(errors.New("x")) != StatusError {
		t.Error("non-nil error should map to error")
	}
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/api/v1/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/records/{id}", "4xx")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/records/42", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("counter delta = %v, want 1", got)
	}
}
