package api

import (
	"net/http"

	"golang.org/x/time/rate"
)

// NewRateLimiter creates a token bucket refilled at reqPerSec with room for
// burst requests. Non-positive values select 5 rps and a burst of 10.
func NewRateLimiter(reqPerSec float64, burst int) *rate.Limiter {
	if reqPerSec <= 0 {
		reqPerSec = 5
	}
	if burst < 1 {
		burst = 10
	}
	return rate.NewLimiter(rate.Limit(reqPerSec), burst)
}

// RateLimit rejects requests with 429 once the limiter runs dry. The
// limiter is shared by all callers of the wrapped routes.
func RateLimit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				httpError(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
