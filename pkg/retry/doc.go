// Package retry provides a bounded retry combinator with exponential backoff.
//
// An operation is retried while RetryIf accepts its error, up to MaxAttempts
// attempts. Non-retryable errors are returned unchanged on first sight, and
// running out of attempts yields an *ExhaustedError carrying the attempt
// count and the last cause:
//
//	cfg := retry.FromConfig("open source", appCfg.Retry, log)
//	stream, err := retry.DoWithResult(ctx, func(ctx context.Context) (source.Stream, error) {
//		return opener.Open(ctx, id)
//	}, cfg)
//
// The total time spent waiting is bounded by ScheduleBound(cfg.Backoff, cfg.MaxAttempts).
package retry
