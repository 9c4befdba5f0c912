package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"triage_server/pkg/apperr"
	"triage_server/pkg/ratelimit"
)

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		return c.Next()
	}
}

// UserRateLimiter keeps one token bucket per authenticated user.
type UserRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*userBucket
	rate    int
	window  time.Duration
}

type userBucket struct {
	bucket   *ratelimit.TokenBucket
	lastSeen time.Time
}

// NewUserRateLimiter allows rate requests per window and user.
func NewUserRateLimiter(rate int, window time.Duration) *UserRateLimiter {
	return &UserRateLimiter{
		buckets: make(map[string]*userBucket),
		rate:    rate,
		window:  window,
	}
}

func (l *UserRateLimiter) allow(userID string, now time.Time) bool {
	l.mu.Lock()
	b, ok := l.buckets[userID]
	if !ok {
		b = &userBucket{bucket: ratelimit.NewTokenBucket(l.rate, l.window)}
		// request strings alias fasthttp buffers that are reused
		l.buckets[utils.CopyString(userID)] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.bucket.Allow()
}

// Prune drops buckets idle for longer than idle.
func (l *UserRateLimiter) Prune(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
			n++
		}
	}
	return n
}

// Handler rejects requests beyond the limit with 429. Must run after JWTAuth.
func (l *UserRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := UserID(c)
		if userID == "" {
			userID = c.IP()
		}
		if !l.allow(userID, time.Now()) {
			c.Set(fiber.HeaderRetryAfter, "1")
			return apperr.New(apperr.CodeRateLimited, "too many requests", fiber.StatusTooManyRequests)
		}
		return c.Next()
	}
}
