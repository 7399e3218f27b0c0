package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/erauner12/garagesync/internal/auth"
	"github.com/rs/zerolog/log"
)

// bucket is a token bucket: up to capacity tokens, refilled continuously.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per user. A drain replays the whole
// queue back to back, so clients see 429 as an ordinary failed attempt
// and retry on the next pass.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	rate     float64 // tokens per second
	now      func() time.Time
}

// NewRateLimiter creates a limiter from the advertised policy.
func NewRateLimiter(cfg RateLimitInfo) *RateLimiter {
	window := cfg.WindowSeconds
	if window <= 0 {
		window = 60
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.MaxRequests
	}
	return &RateLimiter{
		buckets:  make(map[string]*bucket),
		capacity: float64(burst),
		rate:     float64(cfg.MaxRequests) / float64(window),
		now:      time.Now,
	}
}

// Allow consumes a token for userID. When none is left it reports how long
// until the next one.
func (rl *RateLimiter) Allow(userID string) (allowed bool, remaining int, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[userID]
	if !ok {
		rl.pruneLocked(now)
		b = &bucket{tokens: rl.capacity, lastSeen: now}
		rl.buckets[userID] = b
	}

	b.tokens = math.Min(rl.capacity, b.tokens+now.Sub(b.lastSeen).Seconds()*rl.rate)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	wait := time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
	return false, 0, wait
}

// pruneLocked drops buckets idle for more than an hour.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	for userID, b := range rl.buckets {
		if now.Sub(b.lastSeen) > time.Hour {
			delete(rl.buckets, userID)
		}
	}
}

// RateLimitMiddleware enforces cfg per authenticated user.
// Each call creates its own limiter so routes can carry different limits.
func RateLimitMiddleware(cfg RateLimitInfo) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(cfg)
	return rateLimit(limiter, cfg)
}

func rateLimit(limiter *RateLimiter, cfg RateLimitInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.UserID(r.Context())
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, wait := limiter.Allow(userID)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				retryAfter := int(math.Ceil(wait.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				log.Ctx(r.Context()).Warn().
					Str("userId", userID).
					Str("path", r.URL.Path).
					Int("retryAfter", retryAfter).
					Msg("rate limit exceeded")

				writeError(w, r, http.StatusTooManyRequests,
					"rate limit exceeded, retry after "+strconv.Itoa(retryAfter)+"s")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
