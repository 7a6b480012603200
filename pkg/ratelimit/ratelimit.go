// Package ratelimit bounds the request rate per caller identifier.
//
// The default algorithm is a fixed window counter: every identifier gets a
// window of Config.Window that admits Config.MaxRequests requests. A client
// can therefore pass up to twice MaxRequests across a window boundary. The
// token bucket algorithm smooths that burst at the cost of per-client timers.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidConfig is returned when a limiter is constructed with an invalid configuration
var ErrInvalidConfig = errors.New("ratelimit: invalid configuration")

// Algorithm selects the limiting algorithm
type Algorithm string

const (
	// AlgorithmFixedWindow counts requests in fixed, non-sliding windows
	AlgorithmFixedWindow Algorithm = "fixed_window"

	// AlgorithmTokenBucket refills MaxRequests tokens evenly over Window
	AlgorithmTokenBucket Algorithm = "token_bucket"
)

// ParseAlgorithm converts a case-insensitive name into an Algorithm. Dashes
// are accepted in place of underscores.
func ParseAlgorithm(name string) (Algorithm, error) {
	a := Algorithm(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_"))
	switch a {
	case AlgorithmFixedWindow, AlgorithmTokenBucket:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, name)
	}
}

// Config holds rate limiter configuration
type Config struct {
	Window      time.Duration
	MaxRequests int

	// SkipSuccessfulRequests refunds requests whose response status is below 400
	SkipSuccessfulRequests bool

	// SkipFailedRequests refunds requests that failed or returned status >= 400
	SkipFailedRequests bool

	Algorithm Algorithm
}

// DefaultConfig returns the default configuration: 100 requests per 15 minutes
func DefaultConfig() *Config {
	return &Config{
		Window:      15 * time.Minute,
		MaxRequests: 100,
		Algorithm:   AlgorithmFixedWindow,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfig, c.Window)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidConfig, c.MaxRequests)
	}
	switch c.Algorithm {
	case "", AlgorithmFixedWindow:
	case AlgorithmTokenBucket:
		if c.SkipSuccessfulRequests || c.SkipFailedRequests {
			return fmt.Errorf("%w: skip options are not supported by the token bucket algorithm", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, c.Algorithm)
	}
	return nil
}

// ShouldRefund reports whether a completed request should be given back to
// the caller's quota under the skip options
func (c *Config) ShouldRefund(statusCode int, failed bool) bool {
	if failed || statusCode >= 400 {
		return c.SkipFailedRequests
	}
	return c.SkipSuccessfulRequests
}

// Result is the outcome of a Check
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time
}

// RetryAfter returns the time until the window resets, rounded up to whole
// seconds. It never returns a negative duration.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetTime.Sub(now)
	if d <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

// Limiter decides whether a request from an identifier is admitted
type Limiter interface {
	// Check records a request from id and reports whether it is allowed
	Check(id string) Result

	// Cleanup drops state for identifiers that are no longer limited and
	// returns the number of identifiers removed
	Cleanup() int

	// Len returns the number of tracked identifiers
	Len() int
}

// Refunder is implemented by limiters that can give back a counted request.
// Config exposes the skip options that decide when a refund applies.
type Refunder interface {
	Refund(id string, window time.Time)
	Config() Config
}

// Option configures optional limiter behaviour
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) *options {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New creates a limiter for the configured algorithm
func New(config *Config, opts ...Option) (Limiter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Algorithm == AlgorithmTokenBucket {
		return NewTokenBucket(config, opts...)
	}
	return NewFixedWindow(config, opts...)
}
