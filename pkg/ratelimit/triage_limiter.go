// Package ratelimit provides the call ceiling shared by every classification
// request: a concurrency semaphore in front of a lock-free token bucket.
package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var ErrLimiterClosed = errors.New("rate limiter closed")

// =============================================================================
// Token Bucket
// =============================================================================

// TokenBucket implements lock-free token bucket rate limiting using atomic operations.
type TokenBucket struct {
	tokens       int64 // atomic
	maxTokens    int64 // atomic
	refillRate   int64 // atomic
	intervalNs   int64 // atomic
	lastRefillNs int64 // atomic (UnixNano)
}

// NewTokenBucket creates a bucket refilled with rate tokens every interval.
func NewTokenBucket(rate int, interval time.Duration) *TokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	tokens := int64(rate)
	return &TokenBucket{
		tokens:       tokens,
		maxTokens:    tokens,
		refillRate:   tokens,
		intervalNs:   int64(interval),
		lastRefillNs: time.Now().UnixNano(),
	}
}

func (b *TokenBucket) refill(now int64) {
	intervalNs := atomic.LoadInt64(&b.intervalNs)
	lastRefill := atomic.LoadInt64(&b.lastRefillNs)

	elapsed := now - lastRefill
	if elapsed < intervalNs {
		return
	}
	tokensToAdd := (elapsed / intervalNs) * atomic.LoadInt64(&b.refillRate)
	maxTokens := atomic.LoadInt64(&b.maxTokens)

	if !atomic.CompareAndSwapInt64(&b.lastRefillNs, lastRefill, now) {
		return
	}
	for {
		current := atomic.LoadInt64(&b.tokens)
		next := current + tokensToAdd
		if next > maxTokens {
			next = maxTokens
		}
		if atomic.CompareAndSwapInt64(&b.tokens, current, next) {
			return
		}
	}
}

// Allow takes a token if one is available.
func (b *TokenBucket) Allow() bool {
	b.refill(time.Now().UnixNano())

	for {
		current := atomic.LoadInt64(&b.tokens)
		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&b.tokens, current, current-1) {
			return true
		}
	}
}

// Wait blocks until a token is available or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context) error {
	if b.Allow() {
		return nil
	}

	// poll at a fraction of the refill interval
	step := time.Duration(atomic.LoadInt64(&b.intervalNs)) / 10
	if step < time.Millisecond {
		step = time.Millisecond
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if b.Allow() {
				return nil
			}
		}
	}
}

// SetRate updates the rate limit atomically.
func (b *TokenBucket) SetRate(rate int) {
	atomic.StoreInt64(&b.maxTokens, int64(rate))
	atomic.StoreInt64(&b.refillRate, int64(rate))
}

// Available returns the current token count.
func (b *TokenBucket) Available() int64 {
	return atomic.LoadInt64(&b.tokens)
}

// =============================================================================
// Gate: Semaphore -> Token Bucket
// =============================================================================

// Config holds gate configuration.
type Config struct {
	MaxConcurrent     int // in-flight calls (default: 4)
	RequestsPerSecond int // token refill per second (default: 5)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     4,
		RequestsPerSecond: 5,
	}
}

// Gate bounds both concurrency and rate of outbound calls.
type Gate struct {
	semaphore chan struct{}
	bucket    *TokenBucket
	inFlight  int32
}

// NewGate creates a gate from cfg, filling zero values with defaults.
func NewGate(cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	return &Gate{
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		bucket:    NewTokenBucket(cfg.RequestsPerSecond, time.Second),
	}
}

// Acquire waits for a concurrency slot and a rate token.
// The returned release func must be called once the call completes.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	select {
	case g.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := g.bucket.Wait(ctx); err != nil {
		<-g.semaphore
		return nil, err
	}

	atomic.AddInt32(&g.inFlight, 1)
	var released int32
	return func() {
		if atomic.CompareAndSwapInt32(&released, 0, 1) {
			atomic.AddInt32(&g.inFlight, -1)
			<-g.semaphore
		}
	}, nil
}

// InFlight returns the number of calls holding a slot.
func (g *Gate) InFlight() int {
	return int(atomic.LoadInt32(&g.inFlight))
}
