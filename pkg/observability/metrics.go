package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageErrorsTotal       *prometheus.CounterVec

	// Reconciliation metrics
	ReconciliationRunsTotal    *prometheus.CounterVec
	ReconciliationRowsTotal    *prometheus.CounterVec
	ReconciliationDuration     prometheus.Histogram
	AliasConflictsTotal        prometheus.Counter
	IdentitiesDeletedTotal     prometheus.Counter

	// Settings metrics
	SettingsOperationsTotal *prometheus.CounterVec
	SettingsConflictsTotal  *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Login metrics
	LoginsTotal    *prometheus.CounterVec
	SessionsActive prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobroker_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssobroker_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssobroker_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssobroker_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Storage metrics
		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobroker_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssobroker_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobroker_storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"operation", "backend", "error_type"},
		),

		// Reconciliation metrics
		ReconciliationRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobroker_reconciliation_runs_total",
				Help: "Total number of bulk import reconciliation runs",
			},
			[]string{"mode", "status"}, // mode: live|dry_run
		),
		ReconciliationRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobroker_reconciliation_rows_total",
				Help: "Import rows processed by outcome",
			},
			[]string{"outcome"}, // created|updated|failed
		),
		ReconciliationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ssobroker_reconciliation_duration_seconds",
				Help:    "Duration of reconciliation runs",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300},
			},
		),
		AliasConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssobroker_alias_conflicts_total",
				Help: "Total number of alias ownership conflicts detected",
			},
		),
		IdentitiesDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssobroker_identities_deleted_total",
				Help: "Duplicate identities absorbed during reconciliation",
			},
		),

		// Settings metrics
		SettingsOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobroker_settings_operations_total",
				Help: "Total number of settings operations",
			},
			[]string{"operation", "status"},
		),
		SettingsConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobroker_settings_conflicts_total",
				Help: "Settings requests rejected for structural conflicts",
			},
			[]string{"kind"}, // merge|path|multiple_choices
		),

		// Cache metrics
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobroker_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type", "key_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobroker_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type", "key_type"},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ssobroker_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ssobroker_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		// Login metrics
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobroker_logins_total",
				Help: "Total number of upstream logins processed",
			},
			[]string{"provider", "status"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ssobroker_sessions_active",
				Help: "Number of active SSO sessions",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.StorageErrorsTotal,
		m.ReconciliationRunsTotal,
		m.ReconciliationRowsTotal,
		m.ReconciliationDuration,
		m.AliasConflictsTotal,
		m.IdentitiesDeletedTotal,
		m.SettingsOperationsTotal,
		m.SettingsConflictsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.LoginsTotal,
		m.SessionsActive,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
