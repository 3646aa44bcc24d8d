package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"dsfetch/pkg/config"
	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"
	"dsfetch/pkg/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTask returns the given errors in order, then nil
func scriptedTask(results ...error) (Task, *[]Attempt) {
	var seen []Attempt
	return func(ctx context.Context, a Attempt) error {
		seen = append(seen, a)
		if len(seen) <= len(results) {
			return results[len(seen)-1]
		}
		return nil
	}, &seen
}

func newLoop(cooldown time.Duration, maxRestarts int) (*Loop, *logger.TestLogger, *[]time.Duration) {
	tl := logger.NewTestLogger()
	l := New(config.SupervisorConfig{Cooldown: cooldown, MaxRestarts: maxRestarts}, tl, nil)
	var slept []time.Duration
	l.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return l, tl, &slept
}

func TestRunCompletesFirstTime(t *testing.T) {
	l, tl, slept := newLoop(time.Minute, 0)
	task, seen := scriptedTask()

	require.NoError(t, l.Run(context.Background(), task))
	assert.Len(t, *seen, 1)
	assert.Empty(t, *slept)
	assert.True(t, tl.HasMessage("Dataset download completed successfully."))
}

func TestRunRestartsAfterUnexpectedErrors(t *testing.T) {
	l, tl, slept := newLoop(60*time.Second, 0)
	task, seen := scriptedTask(
		errs.Persistence("write batch", "FW_batch_000003.json", errors.New("disk full")),
		errs.SourceUnavailable("open source", 20, errors.New("timeout")),
		errors.New("boom"),
	)

	require.NoError(t, l.Run(context.Background(), task))

	require.Len(t, *seen, 4)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, *slept)
	assert.Equal(t, 3, tl.CountMessage("Unexpected error"))
	assert.Equal(t, 3, tl.CountMessage("Retrying in 60 seconds..."))

	for i, a := range *seen {
		assert.Equal(t, i+1, a.Number)
		_, err := ulid.ParseStrict(a.ID)
		assert.NoError(t, err)
		if i > 0 {
			assert.Greater(t, a.ID, (*seen)[i-1].ID, "run IDs sort by attempt")
		}
	}
}

func TestRunStopsOnInterrupt(t *testing.T) {
	l, tl, slept := newLoop(time.Minute, 0)
	task, seen := scriptedTask(errs.UserInterrupt(context.Canceled))

	err := l.Run(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errs.IsUserInterrupt(err))
	assert.Len(t, *seen, 1)
	assert.Empty(t, *slept)
	assert.True(t, tl.HasMessage("Program interrupted by user. State saved."))
	assert.False(t, tl.HasMessage("Unexpected error"))
}

func TestRunInterruptedDuringCooldown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, tl, _ := newLoop(time.Minute, 0)
	l.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	task, seen := scriptedTask(errors.New("boom"), errors.New("boom"))

	err := l.Run(ctx, task)
	require.Error(t, err)
	assert.True(t, errs.IsUserInterrupt(err))
	assert.Len(t, *seen, 1)
	assert.True(t, tl.HasMessage("Program interrupted by user. State saved."))
}

func TestRunCancelledContextWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l, _, slept := newLoop(time.Minute, 0)

	task := func(ctx context.Context, a Attempt) error {
		cancel()
		return errors.New("read tcp: use of closed network connection")
	}

	err := l.Run(ctx, task)
	assert.True(t, errs.IsUserInterrupt(err))
	assert.Empty(t, *slept)
}

func TestRunStopsOnPermanentError(t *testing.T) {
	l, tl, slept := newLoop(time.Minute, 0)
	perm := errs.Permanent("acquire lock", errors.New("held by pid 42"))
	task, seen := scriptedTask(perm)

	err := l.Run(context.Background(), task)
	assert.Same(t, perm, err)
	assert.Len(t, *seen, 1)
	assert.Empty(t, *slept)
	assert.True(t, tl.HasMessage("Stopping after permanent error"))
}

func TestRunRestartLimit(t *testing.T) {
	l, _, slept := newLoop(time.Second, 2)
	boom := errors.New("boom")
	task, seen := scriptedTask(boom, boom, boom, boom)

	err := l.Run(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRestartLimit)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, *seen, 3)
	assert.Len(t, *slept, 2)
}

func TestRunRecordsRestarts(t *testing.T) {
	tel, err := metrics.Init("test")
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	l, _, _ := newLoop(0, 0)
	l.Metrics = tel.Metrics
	task, _ := scriptedTask(errors.New("a"), errors.New("b"))
	require.NoError(t, l.Run(context.Background(), task))

	totals, err := tel.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals[metrics.NameRestarts])
}
