// Package ratelimit throttles requests to the remote dataset API.
//
// TokenBucket holds a fixed number of tokens that are refilled in full once
// per period. Wait blocks until a token is available or the context ends:
//
//	limiter := ratelimit.PerMinute(120)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
//	// issue request
package ratelimit
