package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"dsfetch/pkg/logger"
)

// Job asks for one batch artifact to be checked
type Job struct {
	Batch int
}

// Result is the outcome of checking one artifact
type Result struct {
	Job      Job
	Missing  bool
	Items    int
	Error    error
	Duration time.Duration
}

// ArtifactReader reads numbered batch artifacts
type ArtifactReader interface {
	Exists(ctx context.Context, batch int) (bool, error)
	Read(ctx context.Context, batch int) ([]json.RawMessage, error)
}

// WorkerPool reads artifacts concurrently
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	reader      ArtifactReader
	logger      logger.Logger
}

// NewWorkerPool creates a pool of numWorkers readers. Cancelling ctx stops
// the workers after their current artifact.
func NewWorkerPool(ctx context.Context, numWorkers int, reader ArtifactReader, log logger.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2), // Buffer size = 2x workers
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		reader:      reader,
		logger:      log,
	}
}

// Start starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("Starting verify workers", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the job queue, waits for the workers and closes Results
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
}

// Submit queues a job
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		if wp.ctx.Err() != nil {
			return
		}

		result := wp.processJob(job, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) processJob(job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job}

	ok, err := wp.reader.Exists(wp.ctx, job.Batch)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}
	if !ok {
		result.Missing = true
		result.Duration = time.Since(start)
		wp.logger.WarnWithFields("Artifact missing", map[string]interface{}{
			"worker_id": workerID,
			"batch":     job.Batch,
		})
		return result
	}

	batch, err := wp.reader.Read(wp.ctx, job.Batch)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err
		wp.logger.WithError(err).WarnWithFields("Artifact unreadable", map[string]interface{}{
			"worker_id": workerID,
			"batch":     job.Batch,
		})
		return result
	}
	result.Items = len(batch)

	wp.logger.DebugWithFields("Artifact verified", map[string]interface{}{
		"worker_id": workerID,
		"batch":     job.Batch,
		"items":     result.Items,
		"duration":  result.Duration,
	})
	return result
}
