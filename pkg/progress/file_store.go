package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"
)

// FileStore keeps the record as a JSON object in a single file
type FileStore struct {
	path   string
	logger logger.Logger
}

// NewFileStore creates a store at path, creating its directory if needed
func NewFileStore(path string, log logger.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("progress path is required")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errs.Persistence("open progress", path, err)
	}
	return &FileStore{
		path:   path,
		logger: log.WithField("component", "progress"),
	}, nil
}

// Read loads the record; a missing file yields the zero Record
func (s *FileStore) Read(ctx context.Context) (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.DebugWithFields("No progress record, starting from the beginning", map[string]interface{}{
				"path": s.path,
			})
			return Record{}, nil
		}
		return Record{}, errs.Persistence("read progress", s.path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, errs.Persistence("decode progress", s.path, err)
	}
	if err := rec.validate(); err != nil {
		return Record{}, errs.Persistence("decode progress", s.path, err)
	}

	s.logger.InfoWithFields("Progress loaded", map[string]interface{}{
		"last_batch": rec.LastBatch,
		"last_item":  rec.LastItem,
	})
	return rec, nil
}

// Write replaces the record through a synced temp file, a rename and a
// sync of the parent directory. Readers see either the old or the new
// record in full, and once Write returns the new one survives power loss.
func (s *FileStore) Write(ctx context.Context, batchNumber, itemIndex int) error {
	rec := Record{LastBatch: batchNumber, LastItem: itemIndex}
	if err := rec.validate(); err != nil {
		return errs.Persistence("write progress", s.path, err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errs.Persistence("encode progress", s.path, err)
	}
	data = append(data, '\n')

	file, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errs.Persistence("write progress", s.path, fmt.Errorf("failed to create temporary file: %w", err))
	}
	tempPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.Persistence("write progress", s.path, err)
	}

	// Ensure data is written to disk
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.Persistence("write progress", s.path, fmt.Errorf("failed to sync: %w", err))
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return errs.Persistence("write progress", s.path, err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return errs.Persistence("write progress", s.path, fmt.Errorf("failed to replace progress file: %w", err))
	}

	// The rename is only durable once the directory entry is synced
	if err := syncDir(filepath.Dir(s.path)); err != nil {
		return errs.Persistence("write progress", s.path, fmt.Errorf("failed to sync directory: %w", err))
	}

	s.logger.DebugWithFields("Progress saved", map[string]interface{}{
		"last_batch": batchNumber,
		"last_item":  itemIndex,
	})
	return nil
}

// Reset deletes the progress file
func (s *FileStore) Reset(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errs.Persistence("reset progress", s.path, err)
	}
	s.logger.Info("Progress reset")
	return nil
}

func (s *FileStore) Location() string {
	return s.path
}

func (s *FileStore) Close() error {
	return nil
}

func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		// Directories cannot be opened for syncing
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}
