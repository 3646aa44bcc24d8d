package progress

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockIsExclusive(t *testing.T) {
	path := LockPath(filepath.Join(t.TempDir(), "progress.json"))

	first, err := AcquireLock(path, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Owner())

	_, err = AcquireLock(path, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
	assert.Contains(t, err.Error(), "held by pid")

	require.NoError(t, first.Release())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	second, err := AcquireLock(path, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.Owner(), second.Owner())
	require.NoError(t, second.Release())
}

func TestLockReleaseLeavesForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".progress.json.lock")

	stale, err := AcquireLock(path, nil)
	require.NoError(t, err)

	// An operator clears the stale lock and a new run takes over
	require.NoError(t, RemoveLock(path))
	current, err := AcquireLock(path, nil)
	require.NoError(t, err)

	assert.Error(t, stale.Release())

	info, err := ReadLock(path)
	require.NoError(t, err)
	assert.Equal(t, current.Owner(), info.Owner)
	assert.Equal(t, os.Getpid(), info.PID)

	require.NoError(t, current.Release())
}

func TestLockPath(t *testing.T) {
	assert.Equal(t, filepath.Join("data", ".progress.json.lock"), LockPath(filepath.Join("data", "progress.json")))
}

func TestReleaseMissingLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	l, err := AcquireLock(path, nil)
	require.NoError(t, err)
	require.NoError(t, RemoveLock(path))
	assert.NoError(t, l.Release())
}

func TestLockHeldOnOtherHostIsNotStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".progress.json.lock")
	writeLockInfo(t, path, LockInfo{Owner: "other", PID: 1 << 30, Hostname: "elsewhere"})

	_, err := AcquireLock(path, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
}

func writeLockInfo(t *testing.T, path string, info LockInfo) {
	t.Helper()
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}
