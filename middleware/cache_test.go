package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/optlayer/optlayer"
	"github.com/optlayer/optlayer/pkg/cache"
)

func TestCache_BasicCaching(t *testing.T) {
	s := newTestOptimizer(t, nil)
	handler, calls := countingHandler(http.StatusOK, map[string]string{"result": "ok"}, nil)
	h := s.optimizer.WithCaching(handler)

	// First call - cache miss
	resp1, err := h(context.Background(), newRequest("GET", "/items?b=2&a=1"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"result": "ok"}, resp1.Body)
	assert.Equal(t, "MISS", resp1.Header.Get(CacheHeader))
	assert.Equal(t, 1, *calls, "Handler should be called on cache miss")

	// Second call with reordered query - cache hit
	resp2, err := h(context.Background(), newRequest("GET", "/items?a=1&b=2"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "HIT", resp2.Header.Get(CacheHeader))
	assert.JSONEq(t, `{"result":"ok"}`, string(resp2.Body.(json.RawMessage)))
	assert.Equal(t, 1, *calls, "Handler should not be called on cache hit")

	// Different query - cache miss
	_, err = h(context.Background(), newRequest("GET", "/items?a=1"))
	require.NoError(t, err)
	assert.Equal(t, 2, *calls)

	stats := s.cache.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
}

func TestCache_PreservesStatusCode(t *testing.T) {
	s := newTestOptimizer(t, nil)
	handler, _ := countingHandler(http.StatusCreated, "made", nil)
	h := s.optimizer.WithCaching(handler)

	_, err := h(context.Background(), newRequest("GET", "/things"))
	require.NoError(t, err)

	resp, err := h(context.Background(), newRequest("GET", "/things"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, json.RawMessage(`"made"`), resp.Body)
}

func TestCache_DoesNotCacheFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
	}{
		{"client error", http.StatusNotFound, nil},
		{"server error", http.StatusInternalServerError, nil},
		{"handler error", 0, errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestOptimizer(t, nil)
			handler, calls := countingHandler(tt.status, "body", tt.err)
			h := s.optimizer.WithCaching(handler)

			for i := 0; i < 2; i++ {
				_, err := h(context.Background(), newRequest("GET", "/fail"))
				if tt.err != nil {
					assert.Same(t, tt.err, err)
				}
			}

			assert.Equal(t, 2, *calls)
			assert.Equal(t, 0, s.cache.Len())
		})
	}
}

func TestCache_SerializationFailureSkipsCaching(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := newTestOptimizer(t, nil, WithLogger(zap.New(core)))

	handler, calls := countingHandler(http.StatusOK, map[string]interface{}{"ch": make(chan int)}, nil)
	h := s.optimizer.WithCaching(handler)

	for i := 0; i < 2; i++ {
		resp, err := h(context.Background(), newRequest("GET", "/stream"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	assert.Equal(t, 2, *calls)
	assert.Equal(t, 0, s.cache.Len())
	assert.Equal(t, 2, logs.FilterMessage("response is not serializable, skipping cache").Len())
}

func TestCache_TTLExpiration(t *testing.T) {
	s := newTestOptimizer(t, nil)
	handler, calls := countingHandler(http.StatusOK, "v", nil)
	h := s.optimizer.WithCaching(handler, WithCacheTTL(time.Second))

	_, _ = h(context.Background(), newRequest("GET", "/ttl"))
	_, _ = h(context.Background(), newRequest("GET", "/ttl"))
	assert.Equal(t, 1, *calls)

	s.clock.Advance(2 * time.Second)

	resp, err := h(context.Background(), newRequest("GET", "/ttl"))
	require.NoError(t, err)
	assert.Equal(t, "MISS", resp.Header.Get(CacheHeader))
	assert.Equal(t, 2, *calls, "Expired entry should be refreshed")
}

func TestCache_StaticKey(t *testing.T) {
	s := newTestOptimizer(t, nil)
	handler, calls := countingHandler(http.StatusOK, "shared", nil)
	h := s.optimizer.WithCaching(handler, WithCacheKey("dashboard"))

	_, _ = h(context.Background(), newRequest("GET", "/a"))
	resp, err := h(context.Background(), newRequest("GET", "/b?x=1"))
	require.NoError(t, err)

	assert.Equal(t, "HIT", resp.Header.Get(CacheHeader))
	assert.Equal(t, 1, *calls)
	_, found := s.cache.Get("dashboard")
	assert.True(t, found)
}

func TestCache_MethodAndPathFilters(t *testing.T) {
	s := newTestOptimizer(t, nil)
	handler, calls := countingHandler(http.StatusOK, "x", nil)
	h := s.optimizer.WithCaching(handler, WithOnlyMethods("get"), WithSkipPaths("/live"))

	for i := 0; i < 2; i++ {
		_, _ = h(context.Background(), newRequest("POST", "/orders"))
	}
	assert.Equal(t, 2, *calls, "POST should not be cached")

	for i := 0; i < 2; i++ {
		_, _ = h(context.Background(), newRequest("GET", "/live"))
	}
	assert.Equal(t, 4, *calls, "Skipped path should not be cached")

	for i := 0; i < 2; i++ {
		_, _ = h(context.Background(), newRequest("GET", "/orders"))
	}
	assert.Equal(t, 5, *calls)
}

func TestCache_KeyGeneratorFailures(t *testing.T) {
	tests := []struct {
		name string
		gen  cache.KeyFunc
	}{
		{"error", func(*optlayer.Request) (string, error) { return "", errors.New("no key") }},
		{"panic", func(*optlayer.Request) (string, error) { panic("broken generator") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestOptimizer(t, nil)
			handler, calls := countingHandler(http.StatusOK, "x", nil)
			h := s.optimizer.WithCaching(handler, WithKeyGenerator(tt.gen))

			for i := 0; i < 2; i++ {
				resp, err := h(context.Background(), newRequest("GET", "/k"))
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, resp.StatusCode)
			}
			assert.Equal(t, 2, *calls)
		})
	}
}

func TestCache_CorruptEntryIsDiscarded(t *testing.T) {
	s := newTestOptimizer(t, nil)
	s.cache.Set("GET:/corrupt", []byte("not json"))

	handler, calls := countingHandler(http.StatusOK, "fresh", nil)
	h := s.optimizer.WithCaching(handler)

	resp, err := h(context.Background(), newRequest("GET", "/corrupt"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", resp.Body)
	assert.Equal(t, 1, *calls)

	resp, err = h(context.Background(), newRequest("GET", "/corrupt"))
	require.NoError(t, err)
	assert.Equal(t, "HIT", resp.Header.Get(CacheHeader))
}

func TestCache_RecordsLookupsAndSurvivesCollectorPanics(t *testing.T) {
	collector := &recordingCollector{}
	s := newTestOptimizer(t, nil, WithCollector(collector))
	handler, _ := countingHandler(http.StatusOK, "x", nil)
	h := s.optimizer.WithCaching(handler)

	_, _ = h(context.Background(), newRequest("GET", "/c"))
	_, _ = h(context.Background(), newRequest("GET", "/c"))
	assert.Equal(t, 1, collector.cacheHits)
	assert.Equal(t, 1, collector.cacheMisses)

	collector.panicOn = "cache"
	resp, err := h(context.Background(), newRequest("GET", "/c"))
	require.NoError(t, err)
	assert.Equal(t, "HIT", resp.Header.Get(CacheHeader))
}

func TestCache_DisabledWithoutManager(t *testing.T) {
	o := NewOptimizer(nil, nil, nil)
	handler, calls := countingHandler(http.StatusOK, "x", nil)
	h := o.WithCaching(handler)

	for i := 0; i < 2; i++ {
		resp, err := h(context.Background(), newRequest("GET", "/n"))
		require.NoError(t, err)
		assert.Empty(t, resp.Header.Get(CacheHeader))
	}
	assert.Equal(t, 2, *calls)
}
