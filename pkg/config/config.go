// Package config loads optimization layer settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/optlayer/optlayer/pkg/cache"
	"github.com/optlayer/optlayer/pkg/logging"
	"github.com/optlayer/optlayer/pkg/monitor"
	"github.com/optlayer/optlayer/pkg/ratelimit"
)

// Prefix is prepended to every environment variable name
const Prefix = "OPTLAYER_"

// Config aggregates the settings of every component
type Config struct {
	Log       logging.Config
	Cache     cache.Config
	RateLimit ratelimit.Config

	MonitorMaxMetrics int

	CacheCleanupInterval     time.Duration
	RateLimitCleanupInterval time.Duration

	HTTPAddr string
	GRPCAddr string

	TracingEnabled  bool
	JaegerEndpoint  string
	ServiceName     string
	TracingSampling float64

	// JWTSecret enables bearer token identification when set
	JWTSecret string
}

// Default returns the configuration used when no variables are set
func Default() *Config {
	return &Config{
		Log:                      logging.DefaultConfig(),
		Cache:                    *cache.DefaultConfig(),
		RateLimit:                *ratelimit.DefaultConfig(),
		MonitorMaxMetrics:        monitor.DefaultMaxMetrics,
		CacheCleanupInterval:     5 * time.Minute,
		RateLimitCleanupInterval: 15 * time.Minute,
		HTTPAddr:                 ":8080",
		GRPCAddr:                 ":50051",
		ServiceName:              "optlayer",
		TracingSampling:          1.0,
	}
}

// Load reads OPTLAYER_* variables over the defaults and validates the result
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	c := Default()
	r := &reader{getenv: getenv}

	c.Log.Level = r.str("LOG_LEVEL", c.Log.Level)
	c.Log.Development = r.boolean("LOG_DEVELOPMENT", c.Log.Development)

	c.Cache.TTL = r.duration("CACHE_TTL", c.Cache.TTL)
	c.Cache.MaxSize = r.integer("CACHE_MAX_SIZE", c.Cache.MaxSize)
	c.Cache.Strategy = r.strategy("CACHE_STRATEGY", c.Cache.Strategy)

	c.RateLimit.Window = r.duration("RATE_LIMIT_WINDOW", c.RateLimit.Window)
	c.RateLimit.MaxRequests = r.integer("RATE_LIMIT_MAX_REQUESTS", c.RateLimit.MaxRequests)
	c.RateLimit.Algorithm = r.algorithm("RATE_LIMIT_ALGORITHM", c.RateLimit.Algorithm)
	c.RateLimit.SkipSuccessfulRequests = r.boolean("RATE_LIMIT_SKIP_SUCCESSFUL", c.RateLimit.SkipSuccessfulRequests)
	c.RateLimit.SkipFailedRequests = r.boolean("RATE_LIMIT_SKIP_FAILED", c.RateLimit.SkipFailedRequests)

	c.MonitorMaxMetrics = r.integer("MONITOR_MAX_METRICS", c.MonitorMaxMetrics)
	c.CacheCleanupInterval = r.duration("CACHE_CLEANUP_INTERVAL", c.CacheCleanupInterval)
	c.RateLimitCleanupInterval = r.duration("RATE_LIMIT_CLEANUP_INTERVAL", c.RateLimitCleanupInterval)

	c.HTTPAddr = r.str("HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = r.str("GRPC_ADDR", c.GRPCAddr)

	c.TracingEnabled = r.boolean("TRACING_ENABLED", c.TracingEnabled)
	c.JaegerEndpoint = r.str("JAEGER_ENDPOINT", c.JaegerEndpoint)
	c.ServiceName = r.str("SERVICE_NAME", c.ServiceName)
	c.TracingSampling = r.float("TRACING_SAMPLING_RATE", c.TracingSampling)

	c.JWTSecret = r.str("JWT_SECRET", c.JWTSecret)

	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every component configuration
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if c.MonitorMaxMetrics <= 0 {
		return fmt.Errorf("%w: monitor max metrics must be positive, got %d", monitor.ErrInvalidConfig, c.MonitorMaxMetrics)
	}
	if c.CacheCleanupInterval <= 0 || c.RateLimitCleanupInterval <= 0 {
		return errors.New("cleanup intervals must be positive")
	}
	if c.TracingSampling < 0 || c.TracingSampling > 1 {
		return fmt.Errorf("tracing sampling rate must be within [0, 1], got %v", c.TracingSampling)
	}
	return nil
}

type reader struct {
	getenv func(string) string
	errs   []error
}

// str returns the value of an environment variable or a default value
func (r *reader) str(key, defaultValue string) string {
	if value := r.getenv(Prefix + key); value != "" {
		return value
	}
	return defaultValue
}

func (r *reader) integer(key string, defaultValue int) int {
	raw := r.getenv(Prefix + key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", Prefix, key, err))
		return defaultValue
	}
	return v
}

func (r *reader) float(key string, defaultValue float64) float64 {
	raw := r.getenv(Prefix + key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", Prefix, key, err))
		return defaultValue
	}
	return v
}

func (r *reader) boolean(key string, defaultValue bool) bool {
	raw := r.getenv(Prefix + key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", Prefix, key, err))
		return defaultValue
	}
	return v
}

func (r *reader) duration(key string, defaultValue time.Duration) time.Duration {
	raw := r.getenv(Prefix + key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", Prefix, key, err))
		return defaultValue
	}
	return v
}

func (r *reader) strategy(key string, defaultValue cache.Strategy) cache.Strategy {
	raw := r.getenv(Prefix + key)
	if raw == "" {
		return defaultValue
	}
	v, err := cache.ParseStrategy(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", Prefix, key, err))
		return defaultValue
	}
	return v
}

func (r *reader) algorithm(key string, defaultValue ratelimit.Algorithm) ratelimit.Algorithm {
	raw := r.getenv(Prefix + key)
	if raw == "" {
		return defaultValue
	}
	v, err := ratelimit.ParseAlgorithm(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", Prefix, key, err))
		return defaultValue
	}
	return v
}
