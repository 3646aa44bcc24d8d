package retry

import (
	"context"
	"fmt"
	"time"

	"dsfetch/pkg/config"
	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"
)

// Operation is a function that performs an operation that might need retrying
type Operation func(ctx context.Context) error

// OperationWithResult is a function that returns a result and might need retrying
type OperationWithResult[T any] func(ctx context.Context) (T, error)

// Config holds retry configuration
type Config struct {
	// Op names the operation in logs
	Op string
	// MaxAttempts is the maximum number of attempts (0 means unlimited)
	MaxAttempts int
	// Backoff strategy to use
	Backoff BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, delay time.Duration)
	// Logger for retry attempts
	Logger logger.Logger
	// Sleep waits between attempts; defaults to Wait
	Sleep func(ctx context.Context, delay time.Duration) error
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Op:          "operation",
		MaxAttempts: 20,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     DefaultRetryIf,
		Logger:      logger.NewNopLogger(),
	}
}

// FromConfig builds a retry configuration from the retry section of the configuration
func FromConfig(op string, cfg config.RetryConfig, log logger.Logger) *Config {
	return &Config{
		Op:          op,
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     NewExponentialBackoff(cfg),
		RetryIf:     DefaultRetryIf,
		Logger:      log,
	}
}

// DefaultRetryIf retries transient network errors only
func DefaultRetryIf(err error) bool {
	return errs.IsTransient(err)
}

// ExhaustedError is returned when every allowed attempt failed with a retryable error
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retry attempts (%d) exceeded: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do executes op until it succeeds, returns a non-retryable error, ctx is done,
// or MaxAttempts attempts have failed. No wait follows the final attempt.
func Do(ctx context.Context, op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = DefaultExponentialBackoff()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Wait
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"op":      cfg.Op,
					"attempt": attempt,
				})
			}
			return nil
		}

		if !retryIf(err) {
			log.WithError(err).DebugWithFields("error is not retryable", map[string]interface{}{
				"op":      cfg.Op,
				"attempt": attempt,
			})
			return err
		}

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			log.WithError(err).ErrorWithFields("max retry attempts exceeded", map[string]interface{}{
				"op":       cfg.Op,
				"attempts": attempt,
			})
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := backoff.NextDelay(attempt)

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		logger.LogRetry(log, cfg.Op, attempt, cfg.MaxAttempts, delay, err)

		if err := sleep(ctx, delay); err != nil {
			log.WarnWithFields("retry cancelled", map[string]interface{}{
				"op":      cfg.Op,
				"attempt": attempt,
				"reason":  err.Error(),
			})
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, op OperationWithResult[T], cfg *Config) (T, error) {
	var result T

	err := Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	}, cfg)

	return result, err
}
