// Package tracing installs an OpenTelemetry tracer provider that exports
// request spans to Jaeger.
package tracing

import (
	"context"
	"fmt"
	"net"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config describes the exporter and the resource attached to every span.
// CollectorEndpoint takes precedence over AgentEndpoint when both are set.
type Config struct {
	Enabled bool

	ServiceName    string
	ServiceVersion string
	Environment    string

	CollectorEndpoint string // http://host:14268/api/traces
	AgentEndpoint     string // host:port of the UDP agent

	SamplingRate   float64
	MaxExportBatch int
	MaxQueueSize   int

	ExtraAttributes map[string]string
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		ServiceName:    "optlayer",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		AgentEndpoint:  "localhost:6831",
		SamplingRate:   1.0,
		MaxExportBatch: 512,
		MaxQueueSize:   2048,
	}
}

// Option is a functional option for tracing configuration
type Option func(*Config)

func WithServiceName(name string) Option {
	return func(c *Config) { c.ServiceName = name }
}

func WithServiceVersion(version string) Option {
	return func(c *Config) { c.ServiceVersion = version }
}

func WithEnvironment(env string) Option {
	return func(c *Config) { c.Environment = env }
}

// WithCollectorEndpoint sends spans over HTTP to a Jaeger collector. An
// empty endpoint keeps the agent.
func WithCollectorEndpoint(endpoint string) Option {
	return func(c *Config) { c.CollectorEndpoint = endpoint }
}

// WithAgentEndpoint sets the UDP agent address, host or host:port
func WithAgentEndpoint(endpoint string) Option {
	return func(c *Config) { c.AgentEndpoint = endpoint }
}

// WithSamplingRate sets the fraction of new traces that are sampled.
// Traces continued from an upstream parent follow the parent's decision.
func WithSamplingRate(rate float64) Option {
	return func(c *Config) { c.SamplingRate = rate }
}

// WithAttribute adds a resource attribute such as team or region
func WithAttribute(key, value string) Option {
	return func(c *Config) {
		if c.ExtraAttributes == nil {
			c.ExtraAttributes = make(map[string]string)
		}
		c.ExtraAttributes[key] = value
	}
}

// Disabled turns tracing off. Setup then returns a nil provider, which
// Shutdown accepts.
func Disabled() Option {
	return func(c *Config) { c.Enabled = false }
}

// Sampler maps the sampling rate to a sampler
func (c *Config) Sampler() sdktrace.Sampler {
	switch {
	case c.SamplingRate >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case c.SamplingRate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SamplingRate))
	}
}

func (c *Config) endpoint() jaeger.EndpointOption {
	if c.CollectorEndpoint != "" {
		return jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(c.CollectorEndpoint))
	}

	host, port, err := net.SplitHostPort(c.AgentEndpoint)
	if err != nil {
		return jaeger.WithAgentEndpoint(jaeger.WithAgentHost(c.AgentEndpoint))
	}
	return jaeger.WithAgentEndpoint(jaeger.WithAgentHost(host), jaeger.WithAgentPort(port))
}

func (c *Config) resource() (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(c.ServiceVersion),
		semconv.DeploymentEnvironment(c.Environment),
	}
	for key, value := range c.ExtraAttributes {
		attrs = append(attrs, attribute.String(key, value))
	}

	return resource.New(context.Background(),
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithProcess(),
	)
}

// Setup builds a batching tracer provider for the configured Jaeger endpoint
// and installs it globally, together with W3C trace context and baggage
// propagation.
func Setup(opts ...Option) (*sdktrace.TracerProvider, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	if !config.Enabled {
		return nil, nil
	}

	exporter, err := jaeger.New(config.endpoint())
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := config.resource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(config.MaxExportBatch),
			sdktrace.WithMaxQueueSize(config.MaxQueueSize),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(config.Sampler()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// Shutdown flushes pending spans and stops the provider
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
