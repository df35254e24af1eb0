package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// idleBucketAge is how long an untouched bucket survives a sweep.
const idleBucketAge = 10 * time.Minute

// bucket is a token bucket holding fractional tokens.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key. Idle buckets are swept on use,
// so no background goroutine is needed.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	capacity  float64
	rate      float64 // tokens per second
	now       func() time.Time
	lastSweep time.Time
}

func NewRateLimiter(capacity, refillRate int) *RateLimiter {
	return &RateLimiter{
		buckets:  make(map[string]*bucket),
		capacity: float64(capacity),
		rate:     float64(refillRate),
		now:      time.Now,
	}
}

// Take spends one token for key. remaining is the whole tokens left; wait is
// how long until the next token when the call was refused.
func (rl *RateLimiter) Take(key string) (ok bool, remaining int, wait time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > idleBucketAge {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) > idleBucketAge {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: rl.capacity, lastSeen: now}
		rl.buckets[key] = b
	}
	b.tokens = math.Min(rl.capacity, b.tokens+now.Sub(b.lastSeen).Seconds()*rl.rate)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	if rl.rate <= 0 {
		return false, 0, time.Minute
	}
	return false, 0, time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
}

// rateLimitKey groups requests by authenticated client, or by IP when the
// request carries no key.
func rateLimitKey(r *http.Request) string {
	if client := GetClientFromContext(r.Context()); client != "" {
		return "client:" + client
	}
	return "ip:" + clientIP(r)
}

// RateLimitMiddleware creates a rate limiting middleware
// capacity: burst size
// refillRate: tokens added per second
func RateLimitMiddleware(capacity, refillRate int) func(http.Handler) http.Handler {
	return rateLimit(NewRateLimiter(capacity, refillRate))
}

func rateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	limit := strconv.Itoa(int(limiter.capacity))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHealthPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ok, remaining, wait := limiter.Take(rateLimitKey(r))
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, "rate limit exceeded, please try again later", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
