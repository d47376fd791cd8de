// Package observability is the broker's logging, metrics, and tracing
// layer.
//
// Logging is structured JSON over slog:
//
//	logger := observability.NewLogger(observability.InfoLevel, nil)
//	logger.WithField("provider", "okta-corp").Info("callback received")
//
// FromContext scopes a logger with the request and user IDs recorded by
// the HTTP middleware.
//
// Prometheus metrics cover HTTP traffic, reconciliation outcomes, and
// export runs:
//
//	metrics := observability.NewMetrics(registry)
//	metrics.ReconciliationRowsTotal.WithLabelValues("created").Inc()
//
// HealthChecker aggregates per-dependency probes for /health and
// /readiness; optional checks (Redis) degrade the status instead of
// failing it. InitOTel wires traces and metrics to an OTLP collector when
// an endpoint is configured, and GracefulShutdown runs the registered
// stop hooks in order on SIGTERM.
package observability
