package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/optlayer/optlayer"
)

// LoggingConfig holds configuration for logging middleware
type LoggingConfig struct {
	LogRequestBody  bool
	LogResponseBody bool
	ExtraFields     map[string]interface{}
	Identifier      IdentifierFunc
}

// LoggingOption is a functional option for logging configuration
type LoggingOption func(*LoggingConfig)

// WithRequestBody enables request body logging
func WithRequestBody() LoggingOption {
	return func(c *LoggingConfig) {
		c.LogRequestBody = true
	}
}

// WithResponseBody enables response body logging
func WithResponseBody() LoggingOption {
	return func(c *LoggingConfig) {
		c.LogResponseBody = true
	}
}

// WithExtraFields adds extra fields to all log entries
func WithExtraFields(fields map[string]interface{}) LoggingOption {
	return func(c *LoggingConfig) {
		c.ExtraFields = fields
	}
}

// WithLoggedIdentity adds the caller identity to every log entry
func WithLoggedIdentity(fn IdentifierFunc) LoggingOption {
	return func(c *LoggingConfig) {
		c.Identifier = fn
	}
}

// Logging creates a request logging middleware
func Logging(logger *zap.Logger, opts ...LoggingOption) optlayer.Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}

	config := &LoggingConfig{}
	for _, opt := range opts {
		opt(config)
	}

	return func(ctx context.Context, req *optlayer.Request, next optlayer.Handler) (*optlayer.Response, error) {
		start := time.Now()

		fields := []zap.Field{
			zap.String("method", req.Method),
			zap.String("path", req.Path),
		}
		for k, v := range config.ExtraFields {
			fields = append(fields, zap.Any(k, v))
		}
		if config.Identifier != nil {
			fields = append(fields, zap.String("client", config.Identifier(ctx, req)))
		}

		if config.LogRequestBody {
			logger.Debug("request started", append(fields, zap.Any("request", req.Body))...)
		}

		resp, err := next(ctx, req)

		duration := time.Since(start)
		fields = append(fields,
			zap.Duration("duration", duration),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)

		if err != nil {
			logger.Error("request failed", append(fields, zap.Error(err))...)
			return resp, err
		}

		status := http.StatusOK
		if resp != nil {
			status = resp.StatusCode
			if hit := resp.Header.Get(CacheHeader); hit != "" {
				fields = append(fields, zap.String("cache", hit))
			}
			if config.LogResponseBody {
				fields = append(fields, zap.Any("response", resp.Body))
			}
		}
		fields = append(fields, zap.Int("status", status))

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request completed with server error", fields...)
		case status == http.StatusTooManyRequests:
			logger.Warn("request rate limited", fields...)
		default:
			logger.Info("request completed", fields...)
		}

		return resp, nil
	}
}

// SlowRequestLog warns about requests that take longer than threshold
func SlowRequestLog(logger *zap.Logger, threshold time.Duration) optlayer.Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(ctx context.Context, req *optlayer.Request, next optlayer.Handler) (*optlayer.Response, error) {
		start := time.Now()

		resp, err := next(ctx, req)

		duration := time.Since(start)
		if duration > threshold {
			logger.Warn("slow request detected",
				zap.String("method", req.Method),
				zap.String("path", req.Path),
				zap.Duration("duration", duration),
				zap.Duration("threshold", threshold),
			)
		}

		return resp, err
	}
}
