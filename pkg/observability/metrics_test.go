package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersAll(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	if metrics.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal is nil")
	}
	if metrics.ReconciliationRunsTotal == nil {
		t.Error("ReconciliationRunsTotal is nil")
	}
	if metrics.SettingsConflictsTotal == nil {
		t.Error("SettingsConflictsTotal is nil")
	}
	if metrics.AliasConflictsTotal == nil {
		t.Error("AliasConflictsTotal is nil")
	}

	// Registering the same metrics twice must panic via MustRegister.
	defer func() {
		if recover() == nil {
			t.Error("Expected panic on duplicate registration")
		}
	}()
	NewMetrics(registry)
}

func TestHTTPRequestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/me", "200").Inc()

	expected := `
# HELP ssobroker_http_requests_total Total number of HTTP requests
# TYPE ssobroker_http_requests_total counter
ssobroker_http_requests_total{method="GET",path="/api/v1/me",status="200"} 1
`
	if err := testutil.CollectAndCompare(metrics.HTTPRequestsTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric output: %v", err)
	}
}

func TestReconciliationMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.ReconciliationRunsTotal.WithLabelValues("dry_run", "success").Inc()
	metrics.ReconciliationRowsTotal.WithLabelValues("created").Inc()
	metrics.ReconciliationRowsTotal.WithLabelValues("failed").Inc()
	metrics.AliasConflictsTotal.Inc()

	expected := `
# HELP ssobroker_reconciliation_rows_total Import rows processed by outcome
# TYPE ssobroker_reconciliation_rows_total counter
ssobroker_reconciliation_rows_total{outcome="created"} 1
ssobroker_reconciliation_rows_total{outcome="failed"} 1
`
	if err := testutil.CollectAndCompare(metrics.ReconciliationRowsTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric output: %v", err)
	}

	if got := testutil.ToFloat64(metrics.AliasConflictsTotal); got != 1 {
		t.Errorf("AliasConflictsTotal = %v, want 1", got)
	}
}

func TestSettingsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.SettingsOperationsTotal.WithLabelValues("write", "ok").Inc()
	metrics.SettingsConflictsTotal.WithLabelValues("merge").Inc()

	if got := testutil.ToFloat64(metrics.SettingsConflictsTotal.WithLabelValues("merge")); got != 1 {
		t.Errorf("SettingsConflictsTotal{merge} = %v, want 1", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/user-settings", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/user-settings", "201"))
	if got != 1 {
		t.Errorf("HTTPRequestsTotal = %v, want 1", got)
	}
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("metrics endpoint status = %d, want 200", rec.Code)
	}
}
