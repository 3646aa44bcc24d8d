package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"
	"dsfetch/pkg/metrics"
	"dsfetch/pkg/progress"
	"dsfetch/pkg/source"
)

// State is the position of a run in its lifecycle
type State int

const (
	StateResuming State = iota
	StateStreaming
	StateFlushFinal
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateResuming:
		return "resuming"
	case StateStreaming:
		return "streaming"
	case StateFlushFinal:
		return "flush_final"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BatchWriter persists one numbered batch
type BatchWriter interface {
	Write(ctx context.Context, batch []json.RawMessage, batchNumber int) error
	ArtifactName(batchNumber int) string
}

// Observer follows consumption for display only
type Observer interface {
	// Seed is called once with the number of records already processed
	Seed(count int)
	// Advance is called for every record added to a batch. Records skipped
	// below the resume point are not reported; Seed already counts them.
	Advance()
	// BatchWritten is called after each completed write pair
	BatchWritten(batchNumber, items int)
}

// Options configures a Pipeline
type Options struct {
	Dataset   source.ID
	BatchSize int
	Opener    source.Opener
	Writer    BatchWriter
	Progress  progress.Store
	Observer  Observer
	Metrics   *metrics.Metrics
	Logger    logger.Logger
}

// Result summarizes one run
type Result struct {
	State          State
	BatchesWritten int
	ItemsWritten   int
	ItemsSkipped   int
	// LastRecord is the progress record in effect when the run ended
	LastRecord progress.Record
}

// Pipeline runs the resume, stream and flush cycle
type Pipeline struct {
	opts   Options
	logger logger.Logger
}

// New validates opts and creates a Pipeline
func New(opts Options) (*Pipeline, error) {
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", opts.BatchSize)
	}
	if opts.Opener == nil {
		return nil, errors.New("source opener is required")
	}
	if opts.Writer == nil {
		return nil, errors.New("batch writer is required")
	}
	if opts.Progress == nil {
		return nil, errors.New("progress store is required")
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Pipeline{
		opts:   opts,
		logger: log.WithField("component", "pipeline"),
	}, nil
}

// run holds the state of one Run call
type run struct {
	*Pipeline
	result      Result
	batch       []source.Record
	batchNumber int
}

// Run consumes the stream until it is exhausted, an error occurs or ctx is
// cancelled. Cancellation is reported as a user_interrupt error.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	r := &run{Pipeline: p, result: Result{State: StateResuming}}

	err := r.execute(ctx)
	if err != nil {
		r.result.State = StateAborted
		var pErr *errs.Error
		if errs.IsUserInterrupt(err) && !errors.As(err, &pErr) {
			err = errs.UserInterrupt(err)
		}
		if !errs.IsUserInterrupt(err) {
			p.logger.WithError(err).ErrorWithFields("Pipeline aborted", map[string]interface{}{
				"batch":      r.batchNumber,
				"error_type": string(errs.TypeOf(err)),
			})
		}
	}

	p.opts.Metrics.RecordSkipped(context.WithoutCancel(ctx), r.result.ItemsSkipped)
	p.opts.Metrics.RecordRun(context.WithoutCancel(ctx), r.result.State.String())
	return r.result, err
}

func (r *run) execute(ctx context.Context) error {
	record, err := r.opts.Progress.Read(ctx)
	if err != nil {
		return err
	}
	r.result.LastRecord = record

	resumePoint := record.ResumePoint()
	r.batchNumber = record.LastBatch
	r.batch = r.newBatch()
	r.opts.Observer.Seed(resumePoint)

	r.logger.InfoWithFields("Resuming download", map[string]interface{}{
		"dataset":      r.opts.Dataset.String(),
		"last_batch":   record.LastBatch,
		"resume_point": resumePoint,
		"batch_size":   r.opts.BatchSize,
	})

	stream, err := r.opts.Opener.Open(ctx, r.opts.Dataset)
	if err != nil {
		return err
	}
	defer stream.Close()

	r.result.State = StateStreaming
	globalIndex := -1
	for {
		if err := ctx.Err(); err != nil {
			return errs.UserInterrupt(err)
		}

		item, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errs.Classify("read record", err)
		}

		globalIndex++
		if globalIndex < resumePoint {
			r.result.ItemsSkipped++
			continue
		}

		r.batch = append(r.batch, item)
		r.opts.Observer.Advance()

		if len(r.batch) == r.opts.BatchSize {
			if err := r.commit(ctx, globalIndex); err != nil {
				return err
			}
		}
	}

	r.result.State = StateFlushFinal
	if globalIndex+1 < resumePoint {
		r.logger.WarnWithFields("Stream ended before the resume point", map[string]interface{}{
			"records":      globalIndex + 1,
			"resume_point": resumePoint,
		})
	}
	if len(r.batch) > 0 {
		if err := r.commit(ctx, globalIndex); err != nil {
			return err
		}
	}

	r.result.State = StateDone
	r.logger.InfoWithFields("Stream exhausted", map[string]interface{}{
		"batches_written": r.result.BatchesWritten,
		"items_written":   r.result.ItemsWritten,
		"items_skipped":   r.result.ItemsSkipped,
		"last_batch":      r.result.LastRecord.LastBatch,
		"last_item":       r.result.LastRecord.LastItem,
	})
	return nil
}

// commit writes the current batch as the next artifact, then records
// lastIndex as its final item
func (r *run) commit(ctx context.Context, lastIndex int) error {
	wctx := context.WithoutCancel(ctx)
	n := r.batchNumber + 1
	items := len(r.batch)
	start := time.Now()

	if err := r.opts.Writer.Write(wctx, r.batch, n); err != nil {
		r.opts.Metrics.RecordBatch(wctx, items, time.Since(start), err)
		return fmt.Errorf("batch %d: %w", n, err)
	}

	if err := r.opts.Progress.Write(wctx, n, lastIndex); err != nil {
		r.opts.Metrics.RecordBatch(wctx, items, time.Since(start), err)
		r.logger.WithError(err).ErrorWithFields("Failed to record progress", map[string]interface{}{
			"batch":    n,
			"artifact": r.opts.Writer.ArtifactName(n),
			"target":   r.opts.Progress.Location(),
		})
		return fmt.Errorf("batch %d: %w", n, err)
	}

	elapsed := time.Since(start)
	r.batchNumber = n
	r.result.BatchesWritten++
	r.result.ItemsWritten += items
	r.result.LastRecord = progress.Record{LastBatch: n, LastItem: lastIndex}
	r.batch = r.newBatch()

	r.opts.Metrics.RecordBatch(wctx, items, elapsed, nil)
	logger.LogBatchWritten(r.logger, n, items, r.opts.Writer.ArtifactName(n), elapsed)
	r.opts.Observer.BatchWritten(n, items)
	return nil
}

// newBatch allocates an empty batch, capping the preallocation for very large sizes
func (r *run) newBatch() []source.Record {
	size := r.opts.BatchSize
	if size > 4096 {
		size = 4096
	}
	return make([]source.Record, 0, size)
}

type nopObserver struct{}

func (nopObserver) Seed(int)              {}
func (nopObserver) Advance()              {}
func (nopObserver) BatchWritten(int, int) {}
