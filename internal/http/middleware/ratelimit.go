package middleware

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter throttles callers by client IP with a token bucket per client.
// Idle buckets are pruned inline once the map grows past pruneThreshold, so
// no background goroutine is needed.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*tokenBucket
	rate    float64
	burst   int
	now     func() time.Time
}

type tokenBucket struct {
	tokens float64
	seen   time.Time
}

const (
	pruneThreshold = 4096
	pruneIdleAfter = 10 * time.Minute
)

// NewRateLimiter allows rate requests per second with the given burst per
// client IP.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
}

// Allow reports whether a request from ip fits the budget and consumes a
// token when it does.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if len(rl.clients) > pruneThreshold {
		rl.prune(now)
	}

	b, ok := rl.clients[ip]
	if !ok {
		b = &tokenBucket{tokens: float64(rl.burst)}
		rl.clients[ip] = b
	} else {
		b.tokens += now.Sub(b.seen).Seconds() * rl.rate
		if b.tokens > float64(rl.burst) {
			b.tokens = float64(rl.burst)
		}
	}
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// prune drops clients idle longer than pruneIdleAfter. Caller holds mu.
func (rl *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-pruneIdleAfter)
	for ip, b := range rl.clients {
		if b.seen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// RateLimit rejects requests over the configured rate with 429 and the same
// JSON error shape the handlers use.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			// chi's RealIP middleware rewrites RemoteAddr from
			// X-Real-Ip / X-Forwarded-For before we get here, but a
			// directly set X-Real-Ip still wins for proxied setups.
			if xri := r.Header.Get("X-Real-Ip"); xri != "" {
				ip = xri
			}
			if !limiter.Allow(ip) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded","code":"rate_limited"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
