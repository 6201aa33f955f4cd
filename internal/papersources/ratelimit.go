// Package papersources holds the outbound transport shared by the PubMed
// client: a token-bucket limiter and an HTTP client that retries throttled
// and failed E-utilities calls.
package papersources

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket. NCBI allows 3 requests per second without an
// API key and 10 with one.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows perSecond sustained requests with bursts of burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks for a token or until ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow takes a token if one is available right now.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Limit reports the sustained rate in requests per second.
func (r *RateLimiter) Limit() float64 {
	return float64(r.limiter.Limit())
}
