package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds the broker's OTLP-exported instruments. The Prometheus
// registry covers HTTP serving; these cover the cache and export paths,
// which only matter when a collector is configured.
type OTelMetrics struct {
	cacheHitsTotal   metric.Int64Counter
	cacheMissesTotal metric.Int64Counter

	exportUploads  metric.Int64Counter
	exportDuration metric.Float64Histogram
	exportBytes    metric.Int64Histogram
}

// NewOTelMetrics creates the instruments on the global meter provider, so
// InitOTel must run first.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/crossfield/ssobroker")

	m := &OTelMetrics{}
	var err error

	m.cacheHitsTotal, err = meter.Int64Counter(
		"cache.hits.total",
		metric.WithDescription("Total number of cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_hits_total counter: %w", err)
	}

	m.cacheMissesTotal, err = meter.Int64Counter(
		"cache.misses.total",
		metric.WithDescription("Total number of cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_misses_total counter: %w", err)
	}

	m.exportUploads, err = meter.Int64Counter(
		"export.uploads.total",
		metric.WithDescription("Total number of export uploads"),
		metric.WithUnit("{upload}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create export_uploads counter: %w", err)
	}

	m.exportDuration, err = meter.Float64Histogram(
		"export.upload.duration",
		metric.WithDescription("Export upload duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create export_duration histogram: %w", err)
	}

	m.exportBytes, err = meter.Int64Histogram(
		"export.upload.bytes",
		metric.WithDescription("Export upload size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create export_bytes histogram: %w", err)
	}

	return m, nil
}

// RecordCacheHit records a cache hit. Kind is the cached record type
// (identity, settings).
func (m *OTelMetrics) RecordCacheHit(ctx context.Context, kind string) {
	m.cacheHitsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.kind", kind),
	))
}

// RecordCacheMiss records a cache miss.
func (m *OTelMetrics) RecordCacheMiss(ctx context.Context, kind string) {
	m.cacheMissesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.kind", kind),
	))
}

// RecordExportUpload records one S3 export upload attempt.
func (m *OTelMetrics) RecordExportUpload(ctx context.Context, bytes int64, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.Bool("error", err != nil),
	}

	m.exportUploads.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.exportDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		m.exportBytes.Record(ctx, bytes, metric.WithAttributes(attrs...))
	}
}
