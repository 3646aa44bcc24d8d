package source

import (
	"context"
	"errors"

	errs "dsfetch/pkg/errors"
	"dsfetch/pkg/logger"
	"dsfetch/pkg/retry"
)

// RetryingOpener retries transient failures of an inner Opener with backoff.
// Non-transient failures are returned at once; running out of attempts
// yields a source_unavailable error.
type RetryingOpener struct {
	opener Opener
	retry  *retry.Config
	logger logger.Logger
}

// NewRetryingOpener wraps opener with the retry policy cfg
func NewRetryingOpener(opener Opener, cfg *retry.Config, log logger.Logger) *RetryingOpener {
	if cfg == nil {
		cfg = retry.DefaultConfig()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.Op == "" {
		c := *cfg
		c.Op = "open source"
		cfg = &c
	}
	return &RetryingOpener{opener: opener, retry: cfg, logger: log}
}

func (o *RetryingOpener) Open(ctx context.Context, id ID) (Stream, error) {
	stream, err := retry.DoWithResult(ctx, func(ctx context.Context) (Stream, error) {
		return o.opener.Open(ctx, id)
	}, o.retry)
	if err == nil {
		return stream, nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		unavailable := errs.SourceUnavailable(o.retry.Op, exhausted.Attempts, exhausted.Err)
		o.logger.WithError(exhausted.Err).ErrorWithFields("Source unavailable", map[string]interface{}{
			"dataset":  id.String(),
			"attempts": exhausted.Attempts,
		})
		return nil, unavailable
	}
	if errors.Is(err, context.Canceled) {
		return nil, errs.UserInterrupt(err)
	}
	return nil, err
}
