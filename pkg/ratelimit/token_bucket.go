package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket manages a token bucket limiter per identifier. Each bucket holds
// MaxRequests tokens and refills at MaxRequests per Window.
type TokenBucket struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

// NewTokenBucket creates a per-client token bucket limiter
func NewTokenBucket(config *Config, opts ...Option) (*TokenBucket, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &TokenBucket{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(config.MaxRequests) / config.Window.Seconds()),
		burst:    config.MaxRequests,
		now:      buildOptions(opts).now,
	}, nil
}

// getLimiter returns the bucket for id, creating it on first use
func (t *TokenBucket) getLimiter(id string) *rate.Limiter {
	t.mu.RLock()
	limiter, exists := t.limiters[id]
	t.mu.RUnlock()

	if exists {
		return limiter
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := t.limiters[id]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(t.rate, t.burst)
	t.limiters[id] = limiter

	return limiter
}

// Check takes a token from id's bucket if one is available
func (t *TokenBucket) Check(id string) Result {
	limiter := t.getLimiter(id)
	now := t.now()

	allowed := limiter.AllowN(now, 1)
	tokens := limiter.TokensAt(now)

	result := Result{
		Allowed:   allowed,
		Limit:     t.burst,
		Remaining: int(math.Max(0, math.Floor(tokens))),
		ResetTime: now,
	}

	// Time until the next whole token is available
	if tokens < 1 {
		wait := (1 - tokens) / float64(t.rate)
		result.ResetTime = now.Add(time.Duration(wait * float64(time.Second)))
	}

	return result
}

// Cleanup removes buckets that have refilled completely; a full bucket is
// indistinguishable from a fresh one
func (t *TokenBucket) Cleanup() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for id, limiter := range t.limiters {
		if limiter.TokensAt(now) >= float64(t.burst) {
			delete(t.limiters, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identifiers
func (t *TokenBucket) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.limiters)
}
