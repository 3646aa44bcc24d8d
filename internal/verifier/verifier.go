// Package verifier reads back stored batch artifacts and checks them
// against the progress record.
package verifier

import (
	"context"
	"sort"

	"dsfetch/pkg/logger"
	"dsfetch/pkg/progress"
)

// DefaultWorkers is the number of concurrent artifact reads
const DefaultWorkers = 4

// Report is the outcome of verifying batches 1..Record.LastBatch
type Report struct {
	Record  progress.Record
	Checked int
	Items   int
	Missing []int
	Corrupt map[int]error
}

// Expected is the number of records the progress record claims are stored
func (r Report) Expected() int {
	return r.Record.ResumePoint()
}

// OK reports whether every recorded batch is present, readable, and the
// record counts add up
func (r Report) OK() bool {
	return len(r.Missing) == 0 && len(r.Corrupt) == 0 && r.Items == r.Expected()
}

// CorruptBatches returns the unreadable batch numbers in order
func (r Report) CorruptBatches() []int {
	batches := make([]int, 0, len(r.Corrupt))
	for n := range r.Corrupt {
		batches = append(batches, n)
	}
	sort.Ints(batches)
	return batches
}

// Verify reads every batch rec covers using workers concurrent readers.
// Artifacts numbered past rec.LastBatch are not checked; the next run
// overwrites them.
func Verify(ctx context.Context, reader ArtifactReader, rec progress.Record, workers int, log logger.Logger) (Report, error) {
	report := Report{Record: rec, Corrupt: make(map[int]error)}
	if rec.LastBatch == 0 {
		return report, nil
	}

	pool := NewWorkerPool(ctx, workers, reader, log)
	pool.Start()

	submitErr := make(chan error, 1)
	go func() {
		defer pool.Stop()
		for n := 1; n <= rec.LastBatch; n++ {
			if err := pool.Submit(Job{Batch: n}); err != nil {
				submitErr <- err
				return
			}
		}
		submitErr <- nil
	}()

	for result := range pool.Results() {
		switch {
		case result.Missing:
			report.Missing = append(report.Missing, result.Job.Batch)
		case result.Error != nil:
			report.Corrupt[result.Job.Batch] = result.Error
		default:
			report.Checked++
			report.Items += result.Items
		}
	}
	sort.Ints(report.Missing)

	if err := <-submitErr; err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}
