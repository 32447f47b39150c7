package middleware

import (
	"net"
	"net/http"
	"time"

	"botchat/internal/observability"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	// Maximum number of limiters to keep in memory
	maxLimiters = 10000
	// Limiter is considered inactive if not used for this duration
	limiterTTL = 15 * time.Minute
)

// RateLimiter limits requests per caller. The caller is the asserted user
// identity when present, otherwise the client IP.
type RateLimiter struct {
	limiters *expirable.LRU[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a rate limiter
// requestsPerSecond: maximum average rate of requests per caller
// burst: maximum burst size (tokens bucket capacity)
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](maxLimiters, nil, limiterTTL),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// getLimiter returns the limiter for key, creating one on first use
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Get(key); ok {
		return limiter
	}
	limiter := rate.NewLimiter(rl.rate, rl.burst)
	// a concurrent first request may race here; the loser gets a fresh bucket
	rl.limiters.Add(key, limiter)
	return limiter
}

// Len reports how many callers are being tracked
func (rl *RateLimiter) Len() int {
	return rl.limiters.Len()
}

// Middleware returns a chi-compatible middleware function
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.getLimiter(limiterKey(r)).Allow() {
				observability.HTTPRateLimited.Inc()
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"Rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func limiterKey(r *http.Request) string {
	if userID := requestIdentity(r); userID != "" {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
