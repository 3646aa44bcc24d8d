//go:build unix

package progress

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"dsfetch/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exitedPID returns the pid of a child that has already been reaped
func exitedPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	require.NoError(t, cmd.Run())
	return cmd.ProcessState.Pid()
}

func TestLockLeftByCrashedRunIsTakenOver(t *testing.T) {
	path := LockPath(filepath.Join(t.TempDir(), "progress.json"))
	log := logger.NewTestLogger()

	// The first holder never releases, as after a SIGKILL
	crashed, err := AcquireLock(path, log)
	require.NoError(t, err)

	info, err := ReadLock(path)
	require.NoError(t, err)
	info.PID = exitedPID(t)
	writeLockInfo(t, path, info)
	assert.True(t, info.Stale())

	next, err := AcquireLock(path, log)
	require.NoError(t, err)
	assert.NotEqual(t, crashed.Owner(), next.Owner())
	assert.True(t, log.HasMessage("Taking over stale lock"))

	current, err := ReadLock(path)
	require.NoError(t, err)
	assert.Equal(t, next.Owner(), current.Owner)
	assert.Equal(t, os.Getpid(), current.PID)
	assert.False(t, current.Stale())

	require.NoError(t, next.Release())
}

func TestLockHeldByLiveProcessIsKept(t *testing.T) {
	path := LockPath(filepath.Join(t.TempDir(), "progress.json"))

	first, err := AcquireLock(path, nil)
	require.NoError(t, err)
	defer first.Release()

	// Our own pid is alive, so the lock is not stale
	_, err = AcquireLock(path, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
}
