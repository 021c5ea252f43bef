package task

import (
	"sync"
	"time"
)

const blockDuration = 60 * time.Second

// RateLimiter is a sliding-window request limiter, the per-task counterpart
// to the token-bucket golang.org/x/time/rate used at the HTTP control
// surface: it tracks a store's actual call history instead of a refill
// rate, which lets a task ask a 429 response to pin it closed for exactly
// one minute regardless of how the window would otherwise have recovered.
type RateLimiter struct {
	mu           sync.Mutex
	maxRequests  int
	per          time.Duration
	timestamps   []time.Time
	blockedUntil time.Time
}

// NewRateLimiter creates a limiter allowing maxRequests calls per the
// trailing window of duration per.
func NewRateLimiter(maxRequests int, per time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		per:         per,
	}
}

// Allow reports whether a call may proceed now, recording it if so.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if now.Before(r.blockedUntil) {
		return false
	}

	cutoff := now.Add(-r.per)

	i := 0
	for i < len(r.timestamps) && r.timestamps[i].Before(cutoff) {
		i++
	}

	r.timestamps = r.timestamps[i:]

	if len(r.timestamps) >= r.maxRequests {
		return false
	}

	r.timestamps = append(r.timestamps, now)

	return true
}

// Block pins the limiter closed for a fixed 60 seconds, the marketplace
// API's own retry-after convention on a 429 regardless of the limiter's
// configured window.
func (r *RateLimiter) Block() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.blockedUntil = time.Now().Add(blockDuration)
}
