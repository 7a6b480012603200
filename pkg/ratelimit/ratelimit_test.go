package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		valid  bool
	}{
		{"default", *DefaultConfig(), true},
		{"zero window", Config{Window: 0, MaxRequests: 1}, false},
		{"zero max", Config{Window: time.Second, MaxRequests: 0}, false},
		{"unknown algorithm", Config{Window: time.Second, MaxRequests: 1, Algorithm: "leaky"}, false},
		{"token bucket with skip", Config{Window: time.Second, MaxRequests: 1, Algorithm: AlgorithmTokenBucket, SkipFailedRequests: true}, false},
		{"token bucket", Config{Window: time.Second, MaxRequests: 1, Algorithm: AlgorithmTokenBucket}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm(" Token-Bucket ")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmTokenBucket, a)

	a, err = ParseAlgorithm("FIXED_WINDOW")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmFixedWindow, a)

	_, err = ParseAlgorithm("leaky")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_SelectsAlgorithm(t *testing.T) {
	l, err := New(&Config{Window: time.Second, MaxRequests: 3})
	require.NoError(t, err)
	assert.IsType(t, &FixedWindow{}, l)

	l, err = New(&Config{Window: time.Second, MaxRequests: 3, Algorithm: AlgorithmTokenBucket})
	require.NoError(t, err)
	assert.IsType(t, &TokenBucket{}, l)

	_, err = New(&Config{Window: -time.Second, MaxRequests: 3})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFixedWindow_Check(t *testing.T) {
	clock := newFakeClock()
	limiter, err := NewFixedWindow(&Config{Window: time.Second, MaxRequests: 3}, WithClock(clock.Now))
	require.NoError(t, err)

	var allowed []bool
	var remaining []int
	for i := 0; i < 4; i++ {
		r := limiter.Check("1.2.3.4")
		allowed = append(allowed, r.Allowed)
		remaining = append(remaining, r.Remaining)
		clock.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, []bool{true, true, true, false}, allowed)
	assert.Equal(t, []int{2, 1, 0, 0}, remaining)

	// After the window elapses a fresh window opens
	clock.Advance(time.Second)
	r := limiter.Check("1.2.3.4")
	assert.True(t, r.Allowed)
	assert.Equal(t, 2, r.Remaining)

	entry, ok := limiter.Peek("1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, 1, entry.Count)
}

func TestFixedWindow_DeniedKeepsResetTime(t *testing.T) {
	clock := newFakeClock()
	limiter, err := NewFixedWindow(&Config{Window: 10 * time.Second, MaxRequests: 1}, WithClock(clock.Now))
	require.NoError(t, err)

	first := limiter.Check("a")
	clock.Advance(2500 * time.Millisecond)
	denied := limiter.Check("a")

	assert.False(t, denied.Allowed)
	assert.Equal(t, first.ResetTime, denied.ResetTime)
	assert.Equal(t, 8*time.Second, denied.RetryAfter(clock.Now()), "retry-after rounds up to whole seconds")

	entry, _ := limiter.Peek("a")
	assert.Equal(t, 1, entry.Count, "denied requests are not counted")
}

func TestFixedWindow_IdentifiersAreIndependent(t *testing.T) {
	clock := newFakeClock()
	limiter, err := NewFixedWindow(&Config{Window: time.Second, MaxRequests: 1}, WithClock(clock.Now))
	require.NoError(t, err)

	assert.True(t, limiter.Check("a").Allowed)
	assert.False(t, limiter.Check("a").Allowed)
	assert.True(t, limiter.Check("b").Allowed)
	assert.Equal(t, 2, limiter.Len())
}

func TestFixedWindow_BoundaryBurst(t *testing.T) {
	clock := newFakeClock()
	limiter, err := NewFixedWindow(&Config{Window: time.Second, MaxRequests: 5}, WithClock(clock.Now))
	require.NoError(t, err)

	limiter.Check("a")
	clock.Advance(999 * time.Millisecond)
	admitted := 0
	for i := 0; i < 4; i++ {
		if limiter.Check("a").Allowed {
			admitted++
		}
	}
	clock.Advance(2 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if limiter.Check("a").Allowed {
			admitted++
		}
	}

	// Nine requests within ~3ms across the boundary: fixed windows allow it
	assert.Equal(t, 9, admitted)
}

func TestFixedWindow_Refund(t *testing.T) {
	clock := newFakeClock()
	limiter, err := NewFixedWindow(&Config{Window: time.Second, MaxRequests: 2}, WithClock(clock.Now))
	require.NoError(t, err)

	first := limiter.Check("a")
	limiter.Check("a")
	limiter.Refund("a", first.ResetTime)
	assert.True(t, limiter.Check("a").Allowed)
	assert.False(t, limiter.Check("a").Allowed)

	// Refunds never drive the count below zero or touch unknown ids
	limiter.Refund("unknown", first.ResetTime)
	clock.Advance(2 * time.Second)
	limiter.Refund("a", first.ResetTime)
	entry, _ := limiter.Peek("a")
	assert.Equal(t, 2, entry.Count, "refund after the window rolled over is ignored")
}

func TestFixedWindow_RefundIgnoresLaterWindow(t *testing.T) {
	clock := newFakeClock()
	limiter, err := NewFixedWindow(&Config{Window: time.Second, MaxRequests: 1, SkipFailedRequests: true}, WithClock(clock.Now))
	require.NoError(t, err)

	// A slow request is admitted in the first window
	slow := limiter.Check("a")
	require.True(t, slow.Allowed)

	// Another request opens the next window before the slow one completes
	clock.Advance(1100 * time.Millisecond)
	next := limiter.Check("a")
	require.True(t, next.Allowed)
	require.False(t, next.ResetTime.Equal(slow.ResetTime))

	// The slow request fails and is refunded against its own window only
	limiter.Refund("a", slow.ResetTime)
	entry, ok := limiter.Peek("a")
	require.True(t, ok)
	assert.Equal(t, 1, entry.Count)
	assert.False(t, limiter.Check("a").Allowed, "the new window is already full")

	limiter.Refund("a", next.ResetTime)
	assert.True(t, limiter.Check("a").Allowed)
}

func TestFixedWindow_Cleanup(t *testing.T) {
	clock := newFakeClock()
	limiter, err := NewFixedWindow(&Config{Window: time.Second, MaxRequests: 2}, WithClock(clock.Now))
	require.NoError(t, err)

	limiter.Check("old")
	clock.Advance(600 * time.Millisecond)
	limiter.Check("new")
	clock.Advance(500 * time.Millisecond)

	assert.Equal(t, 1, limiter.Cleanup())
	_, ok := limiter.Peek("old")
	assert.False(t, ok)
	_, ok = limiter.Peek("new")
	assert.True(t, ok)
}

func TestFixedWindow_ConcurrentNeverExceedsLimit(t *testing.T) {
	limiter, err := NewFixedWindow(&Config{Window: time.Hour, MaxRequests: 50})
	require.NoError(t, err)

	var admitted int64
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if limiter.Check("shared").Allowed {
					atomic.AddInt64(&admitted, 1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), admitted)
}

func TestConfig_ShouldRefund(t *testing.T) {
	c := Config{SkipSuccessfulRequests: true}
	assert.True(t, c.ShouldRefund(200, false))
	assert.False(t, c.ShouldRefund(500, false))
	assert.False(t, c.ShouldRefund(200, true))

	c = Config{SkipFailedRequests: true}
	assert.False(t, c.ShouldRefund(204, false))
	assert.True(t, c.ShouldRefund(404, false))
	assert.True(t, c.ShouldRefund(0, true))
}

func TestResult_RetryAfterNeverNegative(t *testing.T) {
	now := time.Now()
	r := Result{ResetTime: now.Add(-time.Second)}
	assert.Equal(t, time.Duration(0), r.RetryAfter(now))
}

func TestTokenBucket_Check(t *testing.T) {
	clock := newFakeClock()
	limiter, err := NewTokenBucket(&Config{Window: time.Second, MaxRequests: 2, Algorithm: AlgorithmTokenBucket}, WithClock(clock.Now))
	require.NoError(t, err)

	assert.True(t, limiter.Check("a").Allowed)
	assert.True(t, limiter.Check("a").Allowed)

	denied := limiter.Check("a")
	assert.False(t, denied.Allowed)
	assert.Equal(t, 0, denied.Remaining)
	assert.True(t, denied.ResetTime.After(clock.Now()))

	// One token refills every 500ms
	clock.Advance(500 * time.Millisecond)
	assert.True(t, limiter.Check("a").Allowed)
}

func TestTokenBucket_Cleanup(t *testing.T) {
	clock := newFakeClock()
	limiter, err := NewTokenBucket(&Config{Window: time.Second, MaxRequests: 2, Algorithm: AlgorithmTokenBucket}, WithClock(clock.Now))
	require.NoError(t, err)

	limiter.Check("a")
	assert.Equal(t, 1, limiter.Len())
	assert.Equal(t, 0, limiter.Cleanup(), "partially drained bucket is kept")

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, limiter.Cleanup())
	assert.Equal(t, 0, limiter.Len())
}
