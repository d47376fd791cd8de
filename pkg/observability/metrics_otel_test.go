package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMeterProvider creates a test meter provider with a manual reader
func setupTestMeterProvider(t *testing.T) (*metric.MeterProvider, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down provider: %v", err)
		}
	})
	return provider, reader
}

// findMetric returns the named metric from a collection, or nil.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewOTelMetrics(t *testing.T) {
	setupTestMeterProvider(t)

	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v, want nil", err)
	}

	if m.cacheHitsTotal == nil {
		t.Error("cacheHitsTotal is nil")
	}
	if m.cacheMissesTotal == nil {
		t.Error("cacheMissesTotal is nil")
	}
	if m.exportUploads == nil {
		t.Error("exportUploads is nil")
	}
	if m.exportDuration == nil {
		t.Error("exportDuration is nil")
	}
	if m.exportBytes == nil {
		t.Error("exportBytes is nil")
	}
}

func TestOTelMetrics_RecordCacheHitAndMiss(t *testing.T) {
	_, reader := setupTestMeterProvider(t)

	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v", err)
	}

	ctx := context.Background()
	m.RecordCacheHit(ctx, "identity")
	m.RecordCacheHit(ctx, "identity")
	m.RecordCacheHit(ctx, "settings")
	m.RecordCacheMiss(ctx, "identity")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}

	hits := findMetric(&rm, "cache.hits.total")
	if hits == nil {
		t.Fatal("cache.hits.total not recorded")
	}
	sum, ok := hits.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("cache.hits.total has unexpected data type %T", hits.Data)
	}
	var identityHits int64
	for _, dp := range sum.DataPoints {
		if kind, _ := dp.Attributes.Value(attribute.Key("cache.kind")); kind.AsString() == "identity" {
			identityHits = dp.Value
		}
	}
	if identityHits != 2 {
		t.Errorf("Expected 2 identity cache hits, got %d", identityHits)
	}

	misses := findMetric(&rm, "cache.misses.total")
	if misses == nil {
		t.Fatal("cache.misses.total not recorded")
	}
}

func TestOTelMetrics_RecordExportUpload(t *testing.T) {
	tests := []struct {
		name      string
		bytes     int64
		err       error
		wantBytes bool
	}{
		{
			name:      "successful upload",
			bytes:     2048,
			err:       nil,
			wantBytes: true,
		},
		{
			name:      "failed upload",
			bytes:     1024,
			err:       errors.New("bucket unreachable"),
			wantBytes: true,
		},
		{
			name:      "empty export",
			bytes:     0,
			err:       nil,
			wantBytes: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, reader := setupTestMeterProvider(t)

			m, err := NewOTelMetrics()
			if err != nil {
				t.Fatalf("NewOTelMetrics() error = %v", err)
			}

			ctx := context.Background()
			m.RecordExportUpload(ctx, tt.bytes, 120*time.Millisecond, tt.err)

			var rm metricdata.ResourceMetrics
			if err := reader.Collect(ctx, &rm); err != nil {
				t.Fatalf("Failed to collect metrics: %v", err)
			}

			uploads := findMetric(&rm, "export.uploads.total")
			if uploads == nil {
				t.Fatal("export.uploads.total not recorded")
			}
			sum, ok := uploads.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("export.uploads.total has unexpected data type %T", uploads.Data)
			}
			if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
				t.Errorf("Expected one upload data point with value 1, got %+v", sum.DataPoints)
			}
			errVal, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("error"))
			if errVal.AsBool() != (tt.err != nil) {
				t.Errorf("Expected error attribute %v, got %v", tt.err != nil, errVal.AsBool())
			}

			if findMetric(&rm, "export.upload.duration") == nil {
				t.Error("export.upload.duration not recorded")
			}
			gotBytes := findMetric(&rm, "export.upload.bytes") != nil
			if gotBytes != tt.wantBytes {
				t.Errorf("export.upload.bytes recorded = %v, want %v", gotBytes, tt.wantBytes)
			}
		})
	}
}
