package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"dsfetch/pkg/logger"

	"github.com/google/uuid"
)

// ErrLocked is returned when another run holds the lock
var ErrLocked = errors.New("progress store is locked by another run")

// LockInfo is the content of a lock file
type LockInfo struct {
	Owner      string    `json:"owner"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Stale reports whether the holder was a process on this host that no
// longer exists. Holders on other hosts are never considered stale.
func (i LockInfo) Stale() bool {
	hostname, _ := os.Hostname()
	if i.Hostname == "" || i.Hostname != hostname || i.PID <= 0 {
		return false
	}
	return !processAlive(i.PID)
}

// Lock is an exclusive claim on a storage location, held as a lock file
type Lock struct {
	path string
	info LockInfo
}

// AcquireLock creates the lock file at path. A lock left behind by a dead
// process on this host is taken over with a warning; any other existing
// lock fails with ErrLocked.
func AcquireLock(path string, log logger.Logger) (*Lock, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock, err := createLock(path)
	if !errors.Is(err, ErrLocked) {
		return lock, err
	}

	holder, readErr := ReadLock(path)
	if readErr != nil || !holder.Stale() {
		return nil, err
	}

	log.WarnWithFields("Taking over stale lock", map[string]interface{}{
		"path":        path,
		"pid":         holder.PID,
		"acquired_at": holder.AcquiredAt,
	})
	if err := RemoveLock(path); err != nil {
		return nil, err
	}
	// A run that raced us to the takeover wins; createLock then fails with ErrLocked
	return createLock(path)
}

func createLock(path string) (*Lock, error) {
	hostname, _ := os.Hostname()
	info := LockInfo{
		Owner:      uuid.NewString(),
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now().UTC(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lock: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			if holder, readErr := ReadLock(path); readErr == nil {
				return nil, fmt.Errorf("%w: held by pid %d on %s since %s (remove %s if that run is gone)",
					ErrLocked, holder.PID, holder.Hostname, holder.AcquiredAt.Format(time.RFC3339), path)
			}
			return nil, fmt.Errorf("%w: %s exists", ErrLocked, path)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close lock file: %w", err)
	}

	return &Lock{path: path, info: info}, nil
}

// ReadLock returns the holder recorded in the lock file at path
func ReadLock(path string) (LockInfo, error) {
	var info LockInfo
	data, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("failed to decode lock file: %w", err)
	}
	return info, nil
}

// RemoveLock deletes a lock file regardless of owner
func RemoveLock(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Owner returns the token identifying this holder
func (l *Lock) Owner() string {
	return l.info.Owner
}

// Release removes the lock file if it still carries this lock's owner token
func (l *Lock) Release() error {
	current, err := ReadLock(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if current.Owner != l.info.Owner {
		return fmt.Errorf("lock at %s is now held by %s", l.path, current.Owner)
	}
	return RemoveLock(l.path)
}
