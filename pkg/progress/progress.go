package progress

import (
	"context"
	"fmt"
	"path/filepath"

	"dsfetch/pkg/config"
	"dsfetch/pkg/logger"
)

// Record is the durable resume state
type Record struct {
	LastBatch int `json:"last_batch"`
	LastItem  int `json:"last_item"`
}

// IsZero reports whether nothing has been written yet
func (r Record) IsZero() bool {
	return r.LastBatch == 0 && r.LastItem == 0
}

// ResumePoint returns the global index of the first item not yet durably written.
// LastItem is the index of the final item of batch LastBatch, so every item up to
// and including it is already stored.
func (r Record) ResumePoint() int {
	if r.LastBatch == 0 {
		return 0
	}
	return r.LastItem + 1
}

func (r Record) String() string {
	return fmt.Sprintf("{last_batch: %d, last_item: %d}", r.LastBatch, r.LastItem)
}

func (r Record) validate() error {
	if r.LastBatch < 0 || r.LastItem < 0 {
		return fmt.Errorf("negative values in progress record %s", r)
	}
	if r.LastBatch > 0 && r.LastItem < r.LastBatch-1 {
		return fmt.Errorf("progress record %s names fewer items than batches", r)
	}
	return nil
}

// Store reads and replaces the resume record
type Store interface {
	// Read returns the stored record, or the zero Record when none exists
	Read(ctx context.Context) (Record, error)
	// Write atomically replaces the stored record
	Write(ctx context.Context, batchNumber, itemIndex int) error
	// Reset removes the stored record
	Reset(ctx context.Context) error
	// Location describes where the record lives
	Location() string
	Close() error
}

// Open returns the store selected by cfg
func Open(cfg config.ProgressConfig, log logger.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "json":
		return NewFileStore(cfg.Path, log)
	case "sqlite":
		return OpenSQLiteStore(cfg.Path, log)
	default:
		return nil, fmt.Errorf("unknown progress backend %q", cfg.Backend)
	}
}

// LockPath returns the lock file guarding the store at path
func LockPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".lock")
}
