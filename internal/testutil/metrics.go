package testutil

import (
	"context"
	"testing"
	"workloadlauncher/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MetricsReader collects metrics recorded by a test.
type MetricsReader struct {
	reader *sdkmetric.ManualReader
}

// NewMetrics returns metrics backed by a manual reader for assertions.
func NewMetrics(tb testing.TB) (*observability.Metrics, *MetricsReader) {
	tb.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observability.NewMetricsWithReader(reader)
	if err != nil {
		tb.Fatalf("Failed to create metrics: %v", err)
	}
	return m, &MetricsReader{reader: reader}
}

// Counter sums the int64 counter name over data points carrying all attrs.
func (r *MetricsReader) Counter(tb testing.TB, name string, attrs ...attribute.KeyValue) int64 {
	tb.Helper()

	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("Failed to collect metrics: %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				tb.Fatalf("Metric %s is %T, not an int64 sum", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if hasAll(dp.Attributes, attrs) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func hasAll(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, want := range attrs {
		got, ok := set.Value(want.Key)
		if !ok || got != want.Value {
			return false
		}
	}
	return true
}
