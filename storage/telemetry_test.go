package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/teranos/entitystore/storage/testutil"
)

// The global providers delegate only once, so every test shares them.
var (
	telemetryOnce sync.Once
	metricReader  *sdkmetric.ManualReader
	spanRecorder  *tracetest.SpanRecorder
)

func installTelemetry(t *testing.T) {
	t.Helper()
	telemetryOnce.Do(func() {
		metricReader = sdkmetric.NewManualReader()
		otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader)))
		spanRecorder = tracetest.NewSpanRecorder()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder)))
	})
}

// counterValue sums the data points of the named counter whose attr equals
// value.
func counterValue(t *testing.T, name string, attr attribute.Key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, metricReader.Collect(t.Context(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attr); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func mergeSpan(t *testing.T, name, builderID string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range spanRecorder.Ended() {
		if s.Name() != name {
			continue
		}
		for _, kv := range s.Attributes() {
			if kv.Key == "storage.builder_id" && kv.Value.AsString() == builderID {
				return s
			}
		}
	}
	t.Fatalf("no %s span for builder %s", name, builderID)
	return nil
}

func TestTelemetry_AddDiff(t *testing.T) {
	installTelemetry(t)
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	diff := b.ToSnapshot().ToBuilder()
	addModule(t, diff, s, "core", testutil.SourceA)

	before := counterValue(t, "storage_operation_total", "operation", "add_diff")
	require.NoError(t, b.AddDiff(diff))
	assert.Equal(t, before+1, counterValue(t, "storage_operation_total", "operation", "add_diff"))

	span := mergeSpan(t, "storage.add_diff", b.ID())
	var changed int64
	for _, kv := range span.Attributes() {
		if kv.Key == "storage.changed" {
			changed = kv.Value.AsInt64()
		}
	}
	assert.GreaterOrEqual(t, changed, int64(4))
}

func TestTelemetry_ReplaceBySource(t *testing.T) {
	installTelemetry(t)
	s := testutil.NewSchema()
	b := newTestBuilder(t, s)
	rw := newTestBuilder(t, s)
	addModule(t, rw, s, "core", testutil.SourceA)

	before := counterValue(t, "storage_operation_total", "operation", "replace_by_source")
	require.NoError(t, b.ReplaceBySource(testutil.OnlySource(testutil.SourceA), rw))
	assert.Equal(t, before+1, counterValue(t, "storage_operation_total", "operation", "replace_by_source"))
	mergeSpan(t, "storage.replace_by_source", b.ID())
}

func TestTelemetry_Reports(t *testing.T) {
	installTelemetry(t)
	s := testutil.NewSchema()
	target, diff := brokenTarget(t, s)

	before := counterValue(t, "storage_report_total", "category", "consistency")
	_ = target.AddDiff(diff)
	assert.Greater(t, counterValue(t, "storage_report_total", "category", "consistency"), before)
}
