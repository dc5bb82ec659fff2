// Package ratelimit implements token bucket rate limiting keyed per caller.
//
// The bucket allows a burst up to its capacity and then a sustained rate of
// refillRate tokens per interval. PIN issuance uses it so a visitor cannot
// spray the phone confirmation channel.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a thread-safe token bucket rate limiter.
//
// The bucket starts full. Every Allow call consumes one token, and tokens
// come back at refillRate per interval, never exceeding capacity. Refill is
// computed lazily from the time elapsed since the last refill, so an idle
// bucket costs nothing.
//
// Example usage:
//
//	bucket := NewTokenBucket(3, 1, time.Minute)
//	if !bucket.Allow() {
//	    // caller is over its budget
//	}
type TokenBucket struct {
	capacity   int           // Maximum number of tokens the bucket can hold
	tokens     int           // Current number of tokens in the bucket
	refillRate int           // Number of tokens added per interval
	interval   time.Duration // Refill period
	lastRefill time.Time     // Last time tokens were added to the bucket
	mu         sync.Mutex    // Protects all bucket state
	hitCount   int64         // Number of requests that were rate limited
	totalCount int64         // Total number of requests processed

	now func() time.Time
}

// NewTokenBucket creates a full bucket that regains refillRate tokens every
// interval. A non-positive interval means one second.
func NewTokenBucket(capacity, refillRate int, interval time.Duration) *TokenBucket {
	if interval <= 0 {
		interval = time.Second
	}
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		interval:   interval,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow attempts to consume one token from the bucket.
//
// Returns:
//   - true if a token was available and consumed
//   - false if the bucket is empty and the request should be limited
//
// Every call counts toward the totals reported by Stats.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.totalCount++

	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	tokensToAdd := int(float64(elapsed) / float64(tb.interval) * float64(tb.refillRate))
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	tb.hitCount++
	return false
}

// Stats returns the number of limited requests and the total processed.
func (tb *TokenBucket) Stats() (hits, total int64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.hitCount, tb.totalCount
}
