// Package metrics records download pipeline counters with OpenTelemetry.
//
// Instruments are created once per process from a metric.Meter. All
// Record methods are safe to call on a nil *Metrics, so components can be
// constructed without telemetry in tests.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Instrument names
const (
	NameBatchesWritten = "dsfetch.batches.written"
	NameItemsWritten   = "dsfetch.items.written"
	NameItemsSkipped   = "dsfetch.items.skipped"
	NameWriteDuration  = "dsfetch.batch.write.duration"
	NameWriteErrors    = "dsfetch.batch.write.errors"
	NameSourceRetries  = "dsfetch.source.retries"
	NameRestarts       = "dsfetch.supervisor.restarts"
	NameRuns           = "dsfetch.pipeline.runs"
)

// Metrics holds all metric instruments for the downloader
type Metrics struct {
	// Pipeline metrics
	BatchesWritten metric.Int64Counter
	ItemsWritten   metric.Int64Counter
	ItemsSkipped   metric.Int64Counter
	WriteDuration  metric.Float64Histogram
	WriteErrors    metric.Int64Counter
	Runs           metric.Int64Counter

	// Source metrics
	SourceRetries metric.Int64Counter

	// Supervisor metrics
	Restarts metric.Int64Counter
}

// New creates all metric instruments
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.BatchesWritten, err = meter.Int64Counter(NameBatchesWritten,
		metric.WithDescription("Batches durably written together with their progress record"))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", NameBatchesWritten, err)
	}

	m.ItemsWritten, err = meter.Int64Counter(NameItemsWritten,
		metric.WithDescription("Records included in written batches"))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", NameItemsWritten, err)
	}

	m.ItemsSkipped, err = meter.Int64Counter(NameItemsSkipped,
		metric.WithDescription("Records discarded because they precede the resume point"))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", NameItemsSkipped, err)
	}

	m.WriteDuration, err = meter.Float64Histogram(NameWriteDuration,
		metric.WithDescription("Artifact plus progress write duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", NameWriteDuration, err)
	}

	m.WriteErrors, err = meter.Int64Counter(NameWriteErrors,
		metric.WithDescription("Failed artifact or progress writes"))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", NameWriteErrors, err)
	}

	m.Runs, err = meter.Int64Counter(NameRuns,
		metric.WithDescription("Pipeline runs by final state"))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", NameRuns, err)
	}

	m.SourceRetries, err = meter.Int64Counter(NameSourceRetries,
		metric.WithDescription("Retried source operations"))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", NameSourceRetries, err)
	}

	m.Restarts, err = meter.Int64Counter(NameRestarts,
		metric.WithDescription("Pipeline restarts after an unexpected error"))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", NameRestarts, err)
	}

	return m, nil
}

// Noop returns instruments that record nothing
func Noop() *Metrics {
	m, _ := New(noop.NewMeterProvider().Meter("dsfetch"))
	return m
}

// RecordBatch records one write pair
func (m *Metrics) RecordBatch(ctx context.Context, items int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.WriteDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.Bool("success", err == nil)))

	if err != nil {
		m.WriteErrors.Add(ctx, 1)
		return
	}
	m.BatchesWritten.Add(ctx, 1)
	m.ItemsWritten.Add(ctx, int64(items))
}

// RecordSkipped records records discarded while resuming
func (m *Metrics) RecordSkipped(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsSkipped.Add(ctx, int64(n))
}

// RecordRun records how a pipeline run ended
func (m *Metrics) RecordRun(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordRetry records one retried source operation
func (m *Metrics) RecordRetry(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.SourceRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordRestart records a supervisor restart caused by an error of errorType
func (m *Metrics) RecordRestart(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.Restarts.Add(ctx, 1, metric.WithAttributes(attribute.String("error_type", errorType)))
}
