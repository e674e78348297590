package middleware

import (
	"net/http"
	"sync"
	"time"
)

// Buckets untouched this long are dropped on the next sweep.
const bucketIdleEviction = 10 * time.Minute

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// IPRateLimiter applies a per-client token bucket, keyed by the address
// chi's RealIP middleware resolved. Idle buckets are evicted inline during
// Allow, so the map cannot grow without bound under address churn.
type IPRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	rate      float64
	capacity  float64
	lastSweep time.Time

	now func() time.Time
}

// NewIPRateLimiter allows rate requests/sec per client with the given burst.
func NewIPRateLimiter(rate float64, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		buckets:  make(map[string]*tokenBucket),
		rate:     rate,
		capacity: float64(burst),
		now:      time.Now,
	}
}

// Allow spends one token from the client's bucket, refilling it for the time
// elapsed since the last request.
func (l *IPRateLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > bucketIdleEviction {
		for key, b := range l.buckets {
			if now.Sub(b.lastRefill) > bucketIdleEviction {
				delete(l.buckets, key)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[client]
	if !ok {
		b = &tokenBucket{tokens: l.capacity, lastRefill: now}
		l.buckets[client] = b
	}

	b.tokens = min(l.capacity, b.tokens+now.Sub(b.lastRefill).Seconds()*l.rate)
	b.lastRefill = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimit rejects clients exceeding the configured rate with
// 429 Too Many Requests.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewIPRateLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := r.RemoteAddr
			if xri := r.Header.Get("X-Real-Ip"); xri != "" {
				client = xri
			}
			if !limiter.Allow(client) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
