// Package middleware provides HTTP middleware components for the control API.
package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

const burstCapacityMultiplier = 2

// RateLimiter gates incoming requests against the control API. There is a
// single caller (the shared secret identifies one trusted client, not many),
// so unlike a public-facing API there is no per-client dimension to track.
type RateLimiter interface {
	// Allow reports whether a request should proceed.
	Allow() bool
}

// InMemoryRateLimiter implements RateLimiter with a single token bucket.
type InMemoryRateLimiter struct {
	limiter *rate.Limiter
}

// NewInMemoryRateLimiter creates a limiter accepting rps requests per second
// with a burst of 2×rps, unless burstOverride is non-zero.
func NewInMemoryRateLimiter(rps int, burstOverride int) *InMemoryRateLimiter {
	burst := burstOverride
	if burst <= 0 {
		burst = rps * burstCapacityMultiplier
	}

	return &InMemoryRateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow implements RateLimiter.
func (rl *InMemoryRateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// RateLimit returns a middleware that enforces limiter on every request,
// responding 429 with an RFC 7807 body when exceeded.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				correlationID := GetCorrelationID(r.Context())
				detail := "Rate limit exceeded. Please retry after some time."

				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("failed to write rate limit response",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)

					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
