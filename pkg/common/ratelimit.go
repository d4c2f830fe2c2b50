package common

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter drops events beyond a steady rate plus burst. Limits can be
// changed while the limiter is in use.
type RateLimiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
}

// NewRateLimiter creates a RateLimiter admitting rps events per second with
// bursts of up to burst events. A non-positive rps admits everything.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(limitFor(rps), burst)}
}

// Allow reports whether an event may happen now. Events that are not
// allowed are dropped by the caller, never delayed.
func (rl *RateLimiter) Allow() bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limiter.Allow()
}

// UpdateLimits replaces the rate and burst.
func (rl *RateLimiter) UpdateLimits(rps float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiter.SetLimit(limitFor(rps))
	rl.limiter.SetBurst(burst)
}

func limitFor(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}
