// Package monitor records per-request latency and status telemetry in a
// bounded buffer and answers windowed aggregate queries over it.
package monitor

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrInvalidConfig is returned when a monitor is constructed with an invalid bound
var ErrInvalidConfig = errors.New("monitor: invalid configuration")

const (
	// DefaultMaxMetrics bounds the metrics buffer
	DefaultMaxMetrics = 10000

	// DefaultTimeRange is the window used by dashboards when none is given
	DefaultTimeRange = time.Hour
)

// Metric is a single recorded request. It is immutable once recorded.
type Metric struct {
	Endpoint     string        `json:"endpoint"`
	Method       string        `json:"method"`
	ResponseTime time.Duration `json:"responseTime"`
	StatusCode   int           `json:"statusCode"`
	Timestamp    time.Time     `json:"timestamp"`
	UserAgent    string        `json:"userAgent,omitempty"`
	ClientID     string        `json:"clientId,omitempty"`
}

// Averaging selects how per-endpoint average response times are computed
type Averaging int

const (
	// AverageExact computes the arithmetic mean of all samples in range
	AverageExact Averaging = iota

	// AverageStreaming folds each sample as (avg + sample) / 2, weighting
	// recent samples more heavily. Kept for dashboards built on that series.
	AverageStreaming
)

// Option configures a Monitor
type Option func(*Monitor)

// WithClock overrides the time source, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithEndpointAveraging selects the per-endpoint averaging mode
func WithEndpointAveraging(mode Averaging) Option {
	return func(m *Monitor) {
		m.averaging = mode
	}
}

// Monitor is a bounded, append-only metrics log. When full, the oldest metric
// is overwritten. It is safe for concurrent use.
type Monitor struct {
	mu        sync.RWMutex
	buf       []Metric
	head      int // index of the oldest metric
	size      int
	now       func() time.Time
	averaging Averaging
}

// New creates a monitor that retains at most maxMetrics metrics
func New(maxMetrics int, opts ...Option) (*Monitor, error) {
	if maxMetrics <= 0 {
		return nil, fmt.Errorf("%w: max metrics must be positive, got %d", ErrInvalidConfig, maxMetrics)
	}

	m := &Monitor{
		buf: make([]Metric, maxMetrics),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Record appends a metric, stamping it with the current time
func (m *Monitor) Record(metric Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metric.Timestamp = m.now()

	capacity := len(m.buf)
	if m.size < capacity {
		m.buf[(m.head+m.size)%capacity] = metric
		m.size++
		return
	}

	// Full: overwrite the oldest
	m.buf[m.head] = metric
	m.head = (m.head + 1) % capacity
}

// Len returns the number of retained metrics
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.size
}

// Capacity returns the maximum number of retained metrics
func (m *Monitor) Capacity() int {
	return len(m.buf)
}

// Recent returns up to n metrics, newest first
func (m *Monitor) Recent(n int) []Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n > m.size {
		n = m.size
	}
	if n <= 0 {
		return nil
	}

	out := make([]Metric, 0, n)
	for i := m.size - 1; i >= m.size-n; i-- {
		out = append(out, m.at(i))
	}
	return out
}

// Reset discards all retained metrics
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buf = make([]Metric, len(m.buf))
	m.head = 0
	m.size = 0
}

// at returns the i-th oldest metric. Callers must hold m.mu.
func (m *Monitor) at(i int) Metric {
	return m.buf[(m.head+i)%len(m.buf)]
}

// EndpointStats aggregates one endpoint
type EndpointStats struct {
	Count         int     `json:"count"`
	AverageTimeMs float64 `json:"avgTime"`
}

// Stats aggregates the metrics of a time range
type Stats struct {
	TotalRequests         int                       `json:"totalRequests"`
	AverageResponseTimeMs float64                   `json:"averageResponseTime"`
	ErrorRate             float64                   `json:"errorRate"`
	StatusCodes           map[int]int               `json:"statusCodes"`
	Endpoints             map[string]*EndpointStats `json:"endpoints"`
}

// Stats aggregates the metrics recorded within timeRange of now. A
// non-positive timeRange uses DefaultTimeRange.
func (m *Monitor) Stats(timeRange time.Duration) Stats {
	if timeRange <= 0 {
		timeRange = DefaultTimeRange
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		StatusCodes: make(map[int]int),
		Endpoints:   make(map[string]*EndpointStats),
	}

	cutoff := m.now().Add(-timeRange)
	var totalMs float64
	failures := 0

	for i := 0; i < m.size; i++ {
		metric := m.at(i)
		if !metric.Timestamp.After(cutoff) {
			continue
		}

		ms := durationMs(metric.ResponseTime)
		stats.TotalRequests++
		totalMs += ms
		stats.StatusCodes[metric.StatusCode]++
		if metric.StatusCode >= 400 {
			failures++
		}

		ep, ok := stats.Endpoints[metric.Endpoint]
		if !ok {
			ep = &EndpointStats{}
			stats.Endpoints[metric.Endpoint] = ep
		}
		ep.Count++
		switch {
		case ep.Count == 1:
			ep.AverageTimeMs = ms
		case m.averaging == AverageStreaming:
			ep.AverageTimeMs = (ep.AverageTimeMs + ms) / 2
		default:
			ep.AverageTimeMs += (ms - ep.AverageTimeMs) / float64(ep.Count)
		}
	}

	if stats.TotalRequests == 0 {
		return stats
	}

	stats.AverageResponseTimeMs = totalMs / float64(stats.TotalRequests)
	stats.ErrorRate = math.Round(float64(failures)/float64(stats.TotalRequests)*100) / 100

	return stats
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
