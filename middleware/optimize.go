// Package middleware composes response caching, rate limiting and performance
// monitoring around optlayer handlers.
package middleware

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/optlayer/optlayer"
	"github.com/optlayer/optlayer/pkg/cache"
	"github.com/optlayer/optlayer/pkg/config"
	"github.com/optlayer/optlayer/pkg/metrics"
	"github.com/optlayer/optlayer/pkg/monitor"
	"github.com/optlayer/optlayer/pkg/ratelimit"
)

// Optimizer owns the state shared by the optimization layers. Build one at
// startup and wrap every handler through it.
type Optimizer struct {
	cache     *cache.Manager[[]byte]
	limiter   ratelimit.Limiter
	monitor   *monitor.Monitor
	logger    *zap.Logger
	collector metrics.MetricsCollector
	identify  IdentifierFunc
	now       func() time.Time
}

// OptimizerOption configures an Optimizer
type OptimizerOption func(*Optimizer)

// WithLogger sets the logger used by all layers
func WithLogger(logger *zap.Logger) OptimizerOption {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCollector exports request, cache and rate limit telemetry to a metrics collector
func WithCollector(collector metrics.MetricsCollector) OptimizerOption {
	return func(o *Optimizer) {
		o.collector = collector
	}
}

// WithDefaultIdentifier sets how callers are identified for rate limiting and
// monitoring. Defaults to ClientIP.
func WithDefaultIdentifier(fn IdentifierFunc) OptimizerOption {
	return func(o *Optimizer) {
		if fn != nil {
			o.identify = fn
		}
	}
}

// WithClock overrides the clock used to time requests
func WithClock(now func() time.Time) OptimizerOption {
	return func(o *Optimizer) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOptimizer creates an Optimizer. A nil component disables its layer.
func NewOptimizer(c *cache.Manager[[]byte], l ratelimit.Limiter, m *monitor.Monitor, opts ...OptimizerOption) *Optimizer {
	o := &Optimizer{
		cache:    c,
		limiter:  l,
		monitor:  m,
		logger:   zap.NewNop(),
		identify: ClientIP,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// NewOptimizerFromConfig builds the cache, limiter and monitor from a loaded
// configuration. A configured JWT secret makes bearer token subjects the
// default identifier, falling back to the client IP.
func NewOptimizerFromConfig(cfg *config.Config, opts ...OptimizerOption) (*Optimizer, error) {
	c, err := cache.New[[]byte](&cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	l, err := ratelimit.New(&cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	m, err := monitor.New(cfg.MonitorMaxMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}

	if cfg.JWTSecret != "" {
		opts = append([]OptimizerOption{WithDefaultIdentifier(BearerSubject(cfg.JWTSecret, ClientIP))}, opts...)
	}

	return NewOptimizer(c, l, m, opts...), nil
}

// Cache returns the response cache, or nil when caching is disabled
func (o *Optimizer) Cache() *cache.Manager[[]byte] {
	return o.cache
}

// Limiter returns the rate limiter, or nil when rate limiting is disabled
func (o *Optimizer) Limiter() ratelimit.Limiter {
	return o.limiter
}

// Monitor returns the performance monitor, or nil when monitoring is disabled
func (o *Optimizer) Monitor() *monitor.Monitor {
	return o.monitor
}

// Logger returns the optimizer's logger
func (o *Optimizer) Logger() *zap.Logger {
	return o.logger
}

// Options toggles the layers applied by WithOptimizations
type Options struct {
	EnableMonitoring bool
	EnableRateLimit  bool
	EnableCaching    bool

	CacheOptions     []CacheOption
	RateLimitOptions []RateLimitOption
}

// DefaultOptions enables every layer
func DefaultOptions() Options {
	return Options{
		EnableMonitoring: true,
		EnableRateLimit:  true,
		EnableCaching:    true,
	}
}

// WithOptimizations wraps h in the enabled layers. The order is fixed:
// monitoring is outermost so it sees rate limited and cached responses, and
// caching is innermost so rejected requests never reach the cache.
func (o *Optimizer) WithOptimizations(h optlayer.Handler, opts Options) optlayer.Handler {
	chain := optlayer.NewChain()
	if opts.EnableMonitoring {
		chain.Append(o.Monitoring())
	}
	if opts.EnableRateLimit {
		chain.Append(o.RateLimiting(opts.RateLimitOptions...))
	}
	if opts.EnableCaching {
		chain.Append(o.Caching(opts.CacheOptions...))
	}
	return chain.Then(h)
}

// WithCaching wraps h with response caching
func (o *Optimizer) WithCaching(h optlayer.Handler, opts ...CacheOption) optlayer.Handler {
	return optlayer.Wrap(h, o.Caching(opts...))
}

// WithRateLimit wraps h with rate limiting
func (o *Optimizer) WithRateLimit(h optlayer.Handler, opts ...RateLimitOption) optlayer.Handler {
	return optlayer.Wrap(h, o.RateLimiting(opts...))
}

// WithPerformanceMonitoring wraps h with latency and status recording
func (o *Optimizer) WithPerformanceMonitoring(h optlayer.Handler) optlayer.Handler {
	return optlayer.Wrap(h, o.Monitoring())
}

// guard runs fn and recovers a panic, so that optimization bookkeeping can
// never take a request down with it
func (o *Optimizer) guard(layer string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("optimization layer panicked, continuing without it",
				zap.String("layer", layer),
				zap.Any("panic", r),
			)
			ok = false
		}
	}()

	fn()
	return true
}
