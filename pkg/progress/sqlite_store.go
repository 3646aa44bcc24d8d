package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS progress (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	last_batch INTEGER NOT NULL,
	last_item  INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteStore keeps the record in a single-row SQLite table
type SQLiteStore struct {
	db     *sql.DB
	dsn    string
	logger logger.Logger
}

// OpenSQLiteStore opens or creates the database at path.
// Use ":memory:" for a throwaway store.
func OpenSQLiteStore(path string, log logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errs.Persistence("open progress", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Persistence("open progress", path, err)
	}
	// One writer, and :memory: databases need a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = FULL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, errs.Persistence("configure progress database", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errs.Persistence("migrate progress database", path, err)
	}

	return &SQLiteStore{
		db:     db,
		dsn:    path,
		logger: log.WithField("component", "progress"),
	}, nil
}

// Read returns the stored row, or the zero Record when the table is empty
func (s *SQLiteStore) Read(ctx context.Context) (Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx,
		`SELECT last_batch, last_item FROM progress WHERE id = 1`,
	).Scan(&rec.LastBatch, &rec.LastItem)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, errs.Persistence("read progress", s.dsn, err)
	}
	if err := rec.validate(); err != nil {
		return Record{}, errs.Persistence("decode progress", s.dsn, err)
	}

	s.logger.InfoWithFields("Progress loaded", map[string]interface{}{
		"last_batch": rec.LastBatch,
		"last_item":  rec.LastItem,
	})
	return rec, nil
}

// Write upserts the single row in one statement
func (s *SQLiteStore) Write(ctx context.Context, batchNumber, itemIndex int) error {
	rec := Record{LastBatch: batchNumber, LastItem: itemIndex}
	if err := rec.validate(); err != nil {
		return errs.Persistence("write progress", s.dsn, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO progress (id, last_batch, last_item, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_batch = excluded.last_batch,
			last_item  = excluded.last_item,
			updated_at = excluded.updated_at`,
		batchNumber, itemIndex, time.Now().Unix(),
	)
	if err != nil {
		return errs.Persistence("write progress", s.dsn, err)
	}

	s.logger.DebugWithFields("Progress saved", map[string]interface{}{
		"last_batch": batchNumber,
		"last_item":  itemIndex,
	})
	return nil
}

// Reset deletes the stored row
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM progress`); err != nil {
		return errs.Persistence("reset progress", s.dsn, err)
	}
	s.logger.Info("Progress reset")
	return nil
}

func (s *SQLiteStore) Location() string {
	return fmt.Sprintf("sqlite:%s", s.dsn)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
