package middleware

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/optlayer/optlayer"
	"github.com/optlayer/optlayer/pkg/cache"
	"github.com/optlayer/optlayer/pkg/monitor"
	"github.com/optlayer/optlayer/pkg/ratelimit"
)

// fakeClock is a manually advanced time source shared by all components
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

type testSetup struct {
	clock     *fakeClock
	cache     *cache.Manager[[]byte]
	limiter   ratelimit.Limiter
	monitor   *monitor.Monitor
	optimizer *Optimizer
}

// newTestOptimizer builds an optimizer with a 1 minute cache, a limit of 3
// requests per 10 seconds and a 100 metric monitor
func newTestOptimizer(t *testing.T, rl *ratelimit.Config, opts ...OptimizerOption) *testSetup {
	t.Helper()

	clock := newFakeClock()

	c, err := cache.New[[]byte](&cache.Config{TTL: time.Minute, MaxSize: 100, Strategy: cache.StrategyLRU}, cache.WithClock(clock.Now))
	require.NoError(t, err)

	if rl == nil {
		rl = &ratelimit.Config{Window: 10 * time.Second, MaxRequests: 3}
	}
	l, err := ratelimit.New(rl, ratelimit.WithClock(clock.Now))
	require.NoError(t, err)

	m, err := monitor.New(100, monitor.WithClock(clock.Now))
	require.NoError(t, err)

	opts = append([]OptimizerOption{WithClock(clock.Now)}, opts...)

	return &testSetup{
		clock:     clock,
		cache:     c,
		limiter:   l,
		monitor:   m,
		optimizer: NewOptimizer(c, l, m, opts...),
	}
}

func newRequest(method, target string) *optlayer.Request {
	u, err := url.Parse(target)
	if err != nil {
		panic(err)
	}
	return &optlayer.Request{
		Method: method,
		Path:   u.Path,
		Query:  u.Query(),
		Header: make(http.Header),
	}
}

// countingHandler returns a handler that counts its invocations
func countingHandler(status int, body interface{}, err error) (optlayer.Handler, *int) {
	calls := 0
	var mu sync.Mutex
	return func(ctx context.Context, req *optlayer.Request) (*optlayer.Response, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		if err != nil {
			return nil, err
		}
		return optlayer.NewResponse(status, body), nil
	}, &calls
}

// recordingCollector records calls made through the MetricsCollector interface
type recordingCollector struct {
	mu          sync.Mutex
	requests    []int
	errors      int
	active      int
	cacheHits   int
	cacheMisses int
	rateLimited int
	panicOn     string
}

func (r *recordingCollector) maybePanic(name string) {
	if r.panicOn == name {
		panic("collector failure in " + name)
	}
}

func (r *recordingCollector) RecordRequest(endpoint, method string, statusCode int, duration time.Duration) {
	r.maybePanic("request")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, statusCode)
}

func (r *recordingCollector) RecordError(endpoint, errorType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors++
}

func (r *recordingCollector) RecordActiveRequests(endpoint string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active += delta
}

func (r *recordingCollector) RecordCacheResult(hit bool) {
	r.maybePanic("cache")
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.cacheHits++
	} else {
		r.cacheMisses++
	}
}

func (r *recordingCollector) RecordRateLimited(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimited++
}

func (r *recordingCollector) GetRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
