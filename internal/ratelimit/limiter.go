package ratelimit

import (
	"sync"
	"time"

	"github.com/patrickwarner/coregflow/internal/observability"
)

// Config holds the configuration for rate limiting.
type Config struct {
	Capacity   int           // Token bucket capacity (burst allowance)
	RefillRate int           // Tokens added per Interval
	Interval   time.Duration // Refill period
	Enabled    bool          // Whether rate limiting is active
}

// KeyedLimiter gives every key its own token bucket, created on first use.
//
// Keys are visit ids for the PIN channel, so one visitor exhausting their
// budget never throttles another. Limited requests are counted through the
// injected metrics registry.
//
// Example usage:
//
//	config := Config{Capacity: 3, RefillRate: 1, Interval: time.Minute, Enabled: true}
//	limiter := NewKeyedLimiter(config, observability.NewPrometheusRegistry())
//
//	if limiter.Allow(visitID) {
//	    // issue the PIN
//	} else {
//	    // reject with 429
//	}
type KeyedLimiter struct {
	buckets map[string]*TokenBucket       // Map of key to token bucket
	mu      sync.RWMutex                  // Protects the buckets map
	config  Config                        // Rate limiting configuration
	metrics observability.MetricsRegistry // Counts limited requests
}

// NewKeyedLimiter creates a limiter with the given configuration.
func NewKeyedLimiter(config Config, metrics observability.MetricsRegistry) *KeyedLimiter {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &KeyedLimiter{
		buckets: make(map[string]*TokenBucket),
		config:  config,
		metrics: metrics,
	}
}

// Allow reports whether a request for key may proceed.
//
// Parameters:
//   - key: identifier of the caller being limited, usually a visit id
//
// Returns:
//   - true if the request should be allowed (token available)
//   - false if the request should be rate limited (no tokens available)
//
// If rate limiting is disabled via config, this method always returns true.
// Buckets for new keys are created under the write lock with a second lookup,
// so concurrent first calls share one bucket.
func (l *KeyedLimiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}

	l.mu.RLock()
	bucket, exists := l.buckets[key]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		bucket, exists = l.buckets[key]
		if !exists {
			bucket = NewTokenBucket(l.config.Capacity, l.config.RefillRate, l.config.Interval)
			l.buckets[key] = bucket
		}
		l.mu.Unlock()
	}

	allowed := bucket.Allow()
	if !allowed {
		l.metrics.IncrementPinRateLimitHits()
	}
	return allowed
}

// Stats returns the limited and total request counts per key.
func (l *KeyedLimiter) Stats() map[string][2]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string][2]int64, len(l.buckets))
	for key, bucket := range l.buckets {
		hits, total := bucket.Stats()
		stats[key] = [2]int64{hits, total}
	}
	return stats
}
