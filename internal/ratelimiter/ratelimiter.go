package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate with the token bucket semantics
// used to pace connection acceptance.
//
// Tokens are added at a constant rate (accepts per second) and each accepted
// connection consumes one. Burst capacity allows short spikes of simultaneous
// arrivals above the sustained rate, which is what keeps the no-lost-accept
// property under load while still bounding a connect flood.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing acceptsPerSecond sustained with the
// given burst capacity.
//
// Special cases:
//   - acceptsPerSecond = 0: no limiting (effectively unlimited)
//   - burst below the sustained rate is raised to it, so the bucket can
//     always hold one second of tokens
func New(acceptsPerSecond, burst uint) *RateLimiter {
	if acceptsPerSecond == 0 {
		// Effectively unlimited. rate.Inf has edge cases with Wait, so use
		// a large finite rate instead.
		acceptsPerSecond = 1_000_000_000
		burst = acceptsPerSecond
	}
	if burst < acceptsPerSecond {
		burst = acceptsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(acceptsPerSecond), int(burst)),
	}
}

// Allow reports whether one accept is allowed right now, consuming a token
// if so. This is the fast path; it never blocks.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or the context is cancelled.
// Returns nil once a token was acquired, or the context error.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Limit returns the configured sustained rate in accepts per second.
func (r *RateLimiter) Limit() float64 {
	return float64(r.limiter.Limit())
}

// Burst returns the configured burst capacity.
func (r *RateLimiter) Burst() int {
	return r.limiter.Burst()
}
