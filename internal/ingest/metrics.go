package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Stats is a point-in-time snapshot of coordinator activity.
type Stats struct {
	InFlight          int   `json:"in_flight"`
	Admitted          int64 `json:"admitted"`
	Settled           int64 `json:"settled"`
	Abandoned         int64 `json:"abandoned"`
	Failed            int64 `json:"failed"`
	Removed           int64 `json:"removed"`
	RecordsIndexed    int64 `json:"records_indexed"`
	DuplicatesSkipped int64 `json:"duplicates_skipped"`
}

type counters struct {
	admitted, settled, abandoned, failed, removed atomic.Int64
	recordsIndexed, duplicatesSkipped             atomic.Int64
}

type metrics struct {
	outcomes   metric.Int64Counter
	records    metric.Int64Counter
	stabilize  metric.Float64Histogram
	dispatched metric.Float64Histogram
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *metrics {
	m := &metrics{}
	var err error

	m.outcomes, err = meter.Int64Counter(
		"contextfs.ingest.files_total",
		metric.WithDescription("Files leaving the pipeline by outcome"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		logger.Warn("failed to create files counter", zap.Error(err))
	}

	m.records, err = meter.Int64Counter(
		"contextfs.ingest.records_total",
		metric.WithDescription("Records offered to the index by add outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		logger.Warn("failed to create records counter", zap.Error(err))
	}

	m.stabilize, err = meter.Float64Histogram(
		"contextfs.ingest.stability_seconds",
		metric.WithDescription("Time spent waiting for files to stop changing"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create stability histogram", zap.Error(err))
	}

	m.dispatched, err = meter.Float64Histogram(
		"contextfs.ingest.dispatch_seconds",
		metric.WithDescription("Analysis plus indexing time per file"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		logger.Warn("failed to create dispatch histogram", zap.Error(err))
	}
	return m
}

func (m *metrics) outcome(ctx context.Context, kind FileKind, outcome string) {
	if m.outcomes != nil {
		m.outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind.String()),
			attribute.String("outcome", outcome),
		))
	}
}

func (m *metrics) record(ctx context.Context, outcome string) {
	if m.records != nil {
		m.records.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m *metrics) stability(ctx context.Context, d time.Duration, outcome string) {
	if m.stabilize != nil {
		m.stabilize.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m *metrics) dispatch(ctx context.Context, kind FileKind, d time.Duration) {
	if m.dispatched != nil {
		m.dispatched.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind.String())))
	}
}
