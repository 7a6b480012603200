package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector is a MetricsCollector backed by its own registry
type PrometheusCollector struct {
	config   *Config
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec // nil without buckets
	activeRequests  *prometheus.GaugeVec
	errorsTotal     *prometheus.CounterVec

	cacheLookups     *prometheus.CounterVec
	rateLimitedTotal *prometheus.CounterVec
}

// NewPrometheusCollector creates a collector and registers its metrics
func NewPrometheusCollector(opts ...ConfigOption) (*PrometheusCollector, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	p := &PrometheusCollector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	p.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts(p.opts("requests_total", "Requests completed by the optimization layer")),
		p.labelNames("method", "code"),
	)
	p.activeRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts(p.opts("active_requests", "Requests currently inside the optimization layer")),
		p.labelNames(),
	)
	p.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts(p.opts("errors_total", "Errors returned by wrapped handlers")),
		p.labelNames("error_type"),
	)
	p.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts(p.opts("cache_lookups_total", "Response cache lookups by result")),
		[]string{"result"},
	)
	p.rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts(p.opts("rate_limited_total", "Requests rejected by the rate limiter")),
		p.labelNames(),
	)

	collectors := []prometheus.Collector{
		p.requestsTotal,
		p.activeRequests,
		p.errorsTotal,
		p.cacheLookups,
		p.rateLimitedTotal,
	}

	if len(config.HistogramBuckets) > 0 {
		o := p.opts("request_duration_seconds", "Request latency through the optimization layer")
		p.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   o.Namespace,
			Subsystem:   o.Subsystem,
			Name:        o.Name,
			Help:        o.Help,
			ConstLabels: o.ConstLabels,
			Buckets:     config.HistogramBuckets,
		}, p.labelNames("method", "code"))
		collectors = append(collectors, p.requestDuration)
	}

	for _, c := range collectors {
		if err := p.registry.Register(c); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// opts fills the naming fields shared by every metric. The result converts
// directly to CounterOpts and GaugeOpts.
func (p *PrometheusCollector) opts(name, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace:   p.config.Namespace,
		Subsystem:   p.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: p.config.ConstLabels,
	}
}

func (p *PrometheusCollector) labelNames(rest ...string) []string {
	if !p.config.EndpointLabel {
		return rest
	}
	return append([]string{"endpoint"}, rest...)
}

func (p *PrometheusCollector) labelValues(endpoint string, rest ...string) []string {
	if !p.config.EndpointLabel {
		return rest
	}
	return append([]string{endpoint}, rest...)
}

// RecordRequest counts a completed request and observes its latency
func (p *PrometheusCollector) RecordRequest(endpoint string, method string, statusCode int, duration time.Duration) {
	values := p.labelValues(endpoint, method, strconv.Itoa(statusCode))

	p.requestsTotal.WithLabelValues(values...).Inc()
	if p.requestDuration != nil {
		p.requestDuration.WithLabelValues(values...).Observe(duration.Seconds())
	}
}

func (p *PrometheusCollector) RecordError(endpoint string, errorType string) {
	p.errorsTotal.WithLabelValues(p.labelValues(endpoint, errorType)...).Inc()
}

func (p *PrometheusCollector) RecordActiveRequests(endpoint string, delta int) {
	p.activeRequests.WithLabelValues(p.labelValues(endpoint)...).Add(float64(delta))
}

func (p *PrometheusCollector) RecordCacheResult(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheLookups.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) RecordRateLimited(endpoint string) {
	p.rateLimitedTotal.WithLabelValues(p.labelValues(endpoint)...).Inc()
}

// RegisterGauge exposes a value computed at scrape time, such as the number
// of cached entries or tracked clients
func (p *PrometheusCollector) RegisterGauge(name, help string, fn func() float64) error {
	return p.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts(p.opts(name, help)), fn))
}

// GetRegistry returns the registry to serve, e.g. with promhttp.HandlerFor
func (p *PrometheusCollector) GetRegistry() *prometheus.Registry {
	return p.registry
}
