// Package supervisor restarts the download pipeline after unexpected
// failures until it completes, is interrupted or fails permanently.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"dsfetch/pkg/config"
	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"
	"dsfetch/pkg/metrics"
	"dsfetch/pkg/retry"

	"github.com/oklog/ulid/v2"
)

// Attempt describes one execution of the task
type Attempt struct {
	// ID is a sortable run identifier
	ID string
	// Number counts attempts from 1
	Number int
	// Logger carries the run ID and attempt number
	Logger logger.Logger
}

// Task runs the pipeline once
type Task func(ctx context.Context, attempt Attempt) error

// ErrRestartLimit is returned when MaxRestarts restarts did not help
var ErrRestartLimit = errors.New("restart limit reached")

// Loop is the outer supervision loop
type Loop struct {
	Cooldown time.Duration
	// MaxRestarts caps restarts; 0 means unlimited
	MaxRestarts int
	Logger      logger.Logger
	Metrics     *metrics.Metrics
	// Sleep waits out the cooldown; defaults to retry.Wait
	Sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New creates a loop from the supervisor section of the configuration
func New(cfg config.SupervisorConfig, log logger.Logger, m *metrics.Metrics) *Loop {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Loop{
		Cooldown:    cfg.Cooldown,
		MaxRestarts: cfg.MaxRestarts,
		Logger:      log.WithField("component", "supervisor"),
		Metrics:     m,
	}
}

// Run executes task until it returns nil. A cancelled ctx or a user_interrupt
// error ends the loop with a user_interrupt error. Permanent errors end it
// with that error. Every other error is logged, followed by a cooldown and a
// fresh attempt.
func (l *Loop) Run(ctx context.Context, task Task) error {
	sleep := l.Sleep
	if sleep == nil {
		sleep = retry.Wait
	}
	log := l.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	restarts := 0
	for number := 1; ; number++ {
		if err := ctx.Err(); err != nil {
			log.Info("Program interrupted by user. State saved.")
			return errs.UserInterrupt(err)
		}

		attempt := Attempt{ID: l.newRunID(), Number: number}
		attempt.Logger = log.WithFields(map[string]interface{}{
			"run_id":  attempt.ID,
			"attempt": number,
		})

		err := task(ctx, attempt)
		if err == nil {
			attempt.Logger.Info("Dataset download completed successfully.")
			return nil
		}

		if errs.IsUserInterrupt(err) || ctx.Err() != nil {
			attempt.Logger.Info("Program interrupted by user. State saved.")
			var pErr *errs.Error
			if errors.As(err, &pErr) && pErr.Type == errs.ErrorTypeUserInterrupt {
				return err
			}
			return errs.UserInterrupt(err)
		}

		if errs.IsPermanent(err) {
			attempt.Logger.WithError(err).Error("Stopping after permanent error")
			return err
		}

		attempt.Logger.WithError(err).ErrorWithFields("Unexpected error", map[string]interface{}{
			"error_type": string(errs.TypeOf(err)),
		})

		if l.MaxRestarts > 0 && restarts >= l.MaxRestarts {
			attempt.Logger.ErrorWithFields("Giving up", map[string]interface{}{
				"restarts": restarts,
			})
			return fmt.Errorf("%w after %d restarts: %w", ErrRestartLimit, restarts, err)
		}

		attempt.Logger.Info(fmt.Sprintf("Retrying in %d seconds...", int(l.Cooldown.Seconds())))
		l.Metrics.RecordRestart(context.WithoutCancel(ctx), string(errs.TypeOf(err)))
		restarts++

		if err := sleep(ctx, l.Cooldown); err != nil {
			attempt.Logger.Info("Program interrupted by user. State saved.")
			return errs.UserInterrupt(err)
		}
	}
}

// newRunID returns a ULID for the current time. IDs increase even within
// the same millisecond.
func (l *Loop) newRunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.entropy == nil {
		l.entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	}
	return ulid.MustNew(ulid.Timestamp(time.Now()), l.entropy).String()
}
