package storage

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/teranos/entitystore/storage/storeerror"
)

// Package-level tracer and meter for storage operations.
var (
	tracer = otel.Tracer("entitystore.storage")
	meter  = otel.Meter("entitystore.storage")
)

// Metrics for storage operations.
var (
	opLatency     metric.Float64Histogram
	opTotal       metric.Int64Counter
	reportTotal   metric.Int64Counter
	checkLatency  metric.Float64Histogram
	changedEntity metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		opLatency, err = meter.Float64Histogram(
			"storage_operation_duration_seconds",
			metric.WithDescription("Duration of builder operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		opTotal, err = meter.Int64Counter(
			"storage_operation_total",
			metric.WithDescription("Total number of builder operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reportTotal, err = meter.Int64Counter(
			"storage_report_total",
			metric.WithDescription("Total number of storage reports by category"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		checkLatency, err = meter.Float64Histogram(
			"storage_consistency_check_duration_seconds",
			metric.WithDescription("Duration of consistency checks"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		changedEntity, err = meter.Int64Histogram(
			"storage_changed_entities",
			metric.WithDescription("Number of entities changed per merge"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startMergeSpan creates a span for an add-diff or replace-by-source merge.
func startMergeSpan(ctx context.Context, name, builderID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(
			attribute.String("storage.builder_id", builderID),
		),
	)
}

// endMergeSpan sets the result attributes on a merge span and ends it.
func endMergeSpan(span trace.Span, changed int, err error) {
	span.SetAttributes(attribute.Int("storage.changed", changed))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// recordOperation records latency and count of one builder operation.
func recordOperation(op string, start time.Time, err error) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.Bool("success", err == nil),
	)
	ctx := context.Background()
	opLatency.Record(ctx, time.Since(start).Seconds(), attrs)
	opTotal.Add(ctx, 1, attrs)
}

// recordChanged records how many entities a merge changed.
func recordChanged(op string, n int) {
	if err := initMetrics(); err != nil {
		return
	}
	changedEntity.Record(context.Background(), int64(n),
		metric.WithAttributes(attribute.String("operation", op)))
}

// recordReport counts a raised report.
func recordReport(cat storeerror.Category) {
	if err := initMetrics(); err != nil {
		return
	}
	reportTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("category", cat.String())))
}

// recordCheck records a consistency check.
func recordCheck(mode ConsistencyMode, d time.Duration, ok bool) {
	if err := initMetrics(); err != nil {
		return
	}
	checkLatency.Record(context.Background(), d.Seconds(),
		metric.WithAttributes(
			attribute.String("mode", string(mode)),
			attribute.Bool("consistent", ok),
		))
}
