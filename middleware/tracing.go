package middleware

import (
	"context"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/optlayer/optlayer"
)

// TracingConfig holds configuration for tracing middleware
type TracingConfig struct {
	Tracer       trace.Tracer
	TracerName   string
	Propagator   propagation.TextMapPropagator
	RecordErrors bool
	ExtraAttrs   []attribute.KeyValue
}

// TracingOption is a functional option for tracing configuration
type TracingOption func(*TracingConfig)

// WithTracer sets a custom tracer
func WithTracer(tracer trace.Tracer) TracingOption {
	return func(c *TracingConfig) {
		c.Tracer = tracer
	}
}

// WithTracerName sets the tracer name
func WithTracerName(name string) TracingOption {
	return func(c *TracingConfig) {
		c.TracerName = name
	}
}

// WithPropagator sets a custom propagator
func WithPropagator(propagator propagation.TextMapPropagator) TracingOption {
	return func(c *TracingConfig) {
		c.Propagator = propagator
	}
}

// WithoutErrorRecording stops handler errors from being recorded as span events
func WithoutErrorRecording() TracingOption {
	return func(c *TracingConfig) {
		c.RecordErrors = false
	}
}

// WithExtraAttributes adds extra attributes to all spans
func WithExtraAttributes(attrs ...attribute.KeyValue) TracingOption {
	return func(c *TracingConfig) {
		c.ExtraAttrs = append(c.ExtraAttrs, attrs...)
	}
}

// Tracing creates a server span per request, continuing any trace context
// carried in the request headers
func Tracing(opts ...TracingOption) optlayer.Middleware {
	config := &TracingConfig{
		TracerName:   "optlayer",
		Propagator:   otel.GetTextMapPropagator(),
		RecordErrors: true,
	}

	for _, opt := range opts {
		opt(config)
	}

	if config.Tracer == nil {
		config.Tracer = otel.Tracer(config.TracerName)
	}

	return func(ctx context.Context, req *optlayer.Request, next optlayer.Handler) (*optlayer.Response, error) {
		if req.Header != nil {
			ctx = config.Propagator.Extract(ctx, propagation.HeaderCarrier(req.Header))
		}

		ctx, span := config.Tracer.Start(ctx, req.Method+" "+req.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(config.ExtraAttrs...),
		)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.route", req.Path),
		)

		resp, err := next(ctx, req)

		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			if config.RecordErrors {
				span.RecordError(err)
			}
			return resp, err
		}

		if resp != nil {
			span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
			if cache := resp.Header.Get(CacheHeader); cache != "" {
				span.SetAttributes(attribute.String("optlayer.cache", cache))
			}
			if resp.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, strconv.Itoa(resp.StatusCode))
				return resp, nil
			}
		}
		span.SetStatus(codes.Ok, "")

		return resp, nil
	}
}
