// Package chaos injects latency, error responses and handler failures into
// optlayer handlers, for exercising the optimization layer under load tests
// and in demos
package chaos

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/optlayer/optlayer"
)

// ErrInjected is returned by handlers failed through WithFailures
var ErrInjected = errors.New("chaos: injected failure")

// ChaosConfig holds configuration for chaos engineering
type ChaosConfig struct {
	// Latency injection
	LatencyEnabled     bool
	LatencyMin         time.Duration
	LatencyMax         time.Duration
	LatencyProbability float64

	// Error response injection
	ErrorEnabled     bool
	ErrorStatusCodes []int
	ErrorProbability float64

	// Handler failure injection
	FailureEnabled     bool
	FailureProbability float64

	// Only affect these paths (if set)
	TargetPaths map[string]bool

	// Conditional enabling
	EnableCondition func() bool

	Seed int64
}

// ChaosOption is a functional option for chaos configuration
type ChaosOption func(*ChaosConfig)

// WithLatency enables latency injection
func WithLatency(min, max time.Duration, probability float64) ChaosOption {
	return func(c *ChaosConfig) {
		c.LatencyEnabled = true
		c.LatencyMin = min
		c.LatencyMax = max
		c.LatencyProbability = probability
	}
}

// WithErrors replaces responses with an error status drawn from statusCodes
func WithErrors(statusCodes []int, probability float64) ChaosOption {
	return func(c *ChaosConfig) {
		if len(statusCodes) == 0 {
			return
		}
		c.ErrorEnabled = true
		c.ErrorStatusCodes = statusCodes
		c.ErrorProbability = probability
	}
}

// WithFailures makes the handler return ErrInjected
func WithFailures(probability float64) ChaosOption {
	return func(c *ChaosConfig) {
		c.FailureEnabled = true
		c.FailureProbability = probability
	}
}

// WithPaths limits chaos to the given request paths
func WithPaths(paths ...string) ChaosOption {
	return func(c *ChaosConfig) {
		if c.TargetPaths == nil {
			c.TargetPaths = make(map[string]bool)
		}
		for _, p := range paths {
			c.TargetPaths[p] = true
		}
	}
}

// WithCondition sets a condition for enabling chaos
func WithCondition(condition func() bool) ChaosOption {
	return func(c *ChaosConfig) {
		c.EnableCondition = condition
	}
}

// WithSeed makes injection decisions reproducible
func WithSeed(seed int64) ChaosOption {
	return func(c *ChaosConfig) {
		c.Seed = seed
	}
}

// lockedRand is a rand.Rand safe for concurrent use
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}

// New creates a chaos middleware
func New(opts ...ChaosOption) optlayer.Middleware {
	config := &ChaosConfig{
		EnableCondition: func() bool { return true },
		Seed:            time.Now().UnixNano(),
	}

	for _, opt := range opts {
		opt(config)
	}

	rnd := &lockedRand{r: rand.New(rand.NewSource(config.Seed))}

	return func(ctx context.Context, req *optlayer.Request, next optlayer.Handler) (*optlayer.Response, error) {
		if !config.EnableCondition() {
			return next(ctx, req)
		}
		if len(config.TargetPaths) > 0 && !config.TargetPaths[req.Path] {
			return next(ctx, req)
		}

		// Latency injection
		if config.LatencyEnabled && rnd.Float64() < config.LatencyProbability {
			delay := randomDuration(rnd, config.LatencyMin, config.LatencyMax)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		// Error response injection
		if config.ErrorEnabled && rnd.Float64() < config.ErrorProbability {
			code := config.ErrorStatusCodes[rnd.Intn(len(config.ErrorStatusCodes))]
			return optlayer.NewResponse(code, map[string]string{
				"error": "chaos: injected " + http.StatusText(code),
			}), nil
		}

		// Handler failure injection
		if config.FailureEnabled && rnd.Float64() < config.FailureProbability {
			return nil, ErrInjected
		}

		return next(ctx, req)
	}
}

// randomDuration returns a random duration between min and max
func randomDuration(rnd *lockedRand, min, max time.Duration) time.Duration {
	if min >= max {
		return min
	}
	return min + time.Duration(rnd.Int63n(int64(max-min)))
}

// Presets for common chaos scenarios

// FlakyChaos simulates a flaky backend with latency and unavailable responses
func FlakyChaos(probability float64) optlayer.Middleware {
	return New(
		WithLatency(50*time.Millisecond, 500*time.Millisecond, probability),
		WithErrors([]int{http.StatusBadGateway, http.StatusServiceUnavailable}, probability/2),
	)
}

// OverloadedChaos simulates an overloaded backend
func OverloadedChaos(probability float64) optlayer.Middleware {
	return New(
		WithLatency(1*time.Second, 5*time.Second, probability),
		WithErrors([]int{http.StatusServiceUnavailable, http.StatusGatewayTimeout}, probability/2),
		WithFailures(probability/4),
	)
}
