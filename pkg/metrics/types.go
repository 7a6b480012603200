// Package metrics exports optimization layer telemetry to Prometheus
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector receives request, cache and rate limit events from the
// optimization layers
type MetricsCollector interface {
	RecordRequest(endpoint string, method string, statusCode int, duration time.Duration)
	RecordError(endpoint string, errorType string)
	RecordActiveRequests(endpoint string, delta int)

	// RecordCacheResult counts a response cache lookup as a hit or a miss
	RecordCacheResult(hit bool)

	// RecordRateLimited counts a request answered with 429
	RecordRateLimited(endpoint string)

	GetRegistry() *prometheus.Registry
}

// Config controls metric naming and cardinality
type Config struct {
	Namespace string
	Subsystem string

	// Latency histogram, in seconds. Nil buckets disable the histogram.
	HistogramBuckets []float64

	// EndpointLabel adds the request path as a label. Turn it off when
	// paths carry identifiers and would explode cardinality.
	EndpointLabel bool

	ConstLabels prometheus.Labels
}

// DefaultConfig names metrics optlayer_http_* with an endpoint label and
// latency buckets from 1ms to 10s
func DefaultConfig() *Config {
	return &Config{
		Namespace:        "optlayer",
		Subsystem:        "http",
		HistogramBuckets: prometheus.ExponentialBucketsRange(0.001, 10, 12),
		EndpointLabel:    true,
		ConstLabels:      prometheus.Labels{},
	}
}

// ConfigOption is a function that configures a Config
type ConfigOption func(*Config)

func WithNamespace(namespace string) ConfigOption {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithSubsystem(subsystem string) ConfigOption {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithHistogramBuckets replaces the latency buckets
func WithHistogramBuckets(buckets []float64) ConfigOption {
	return func(c *Config) {
		c.HistogramBuckets = buckets
	}
}

// WithConstLabels attaches fixed labels, e.g. the instance or region, to
// every metric
func WithConstLabels(labels map[string]string) ConfigOption {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithoutHistogram drops the latency histogram and keeps only counters
func WithoutHistogram() ConfigOption {
	return func(c *Config) {
		c.HistogramBuckets = nil
	}
}

// WithoutPerEndpointMetrics drops the endpoint label
func WithoutPerEndpointMetrics() ConfigOption {
	return func(c *Config) {
		c.EndpointLabel = false
	}
}
