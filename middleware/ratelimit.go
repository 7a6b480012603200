package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/optlayer/optlayer"
	"github.com/optlayer/optlayer/pkg/ratelimit"
)

// Rate limit response headers
const (
	RetryAfterHeader         = "Retry-After"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitLimitHeader     = "X-RateLimit-Limit"
)

// RateLimitConfig holds configuration for the rate limiting layer
type RateLimitConfig struct {
	Identifier IdentifierFunc
}

// RateLimitOption is a functional option for rate limit configuration
type RateLimitOption func(*RateLimitConfig)

// WithIdentifierFunc overrides the optimizer's identifier for this layer
func WithIdentifierFunc(fn IdentifierFunc) RateLimitOption {
	return func(c *RateLimitConfig) {
		c.Identifier = fn
	}
}

// rateLimitBody is returned with 429 responses
type rateLimitBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// RateLimiting returns the rate limiting layer as a middleware. Rejected
// requests get a 429 response with Retry-After in seconds. Accepted requests
// carry the remaining quota in X-RateLimit-Remaining.
func (o *Optimizer) RateLimiting(opts ...RateLimitOption) optlayer.Middleware {
	config := &RateLimitConfig{}
	for _, opt := range opts {
		opt(config)
	}

	return func(ctx context.Context, req *optlayer.Request, next optlayer.Handler) (*optlayer.Response, error) {
		if o.limiter == nil {
			return next(ctx, req)
		}

		identify := config.Identifier
		if identify == nil {
			identify = o.identify
		}

		var id string
		var result ratelimit.Result
		if !o.guard("ratelimit", func() {
			id = identify(ctx, req)
			setIdentity(ctx, id)
			result = o.limiter.Check(id)
		}) {
			return next(ctx, req)
		}

		if !result.Allowed {
			return o.rejected(req, id, result), nil
		}

		resp, err := next(ctx, req)

		o.guard("ratelimit", func() {
			o.refund(id, result.ResetTime, resp, err)
		})

		if resp != nil {
			resp.SetHeader(RateLimitRemainingHeader, strconv.Itoa(result.Remaining))
			resp.SetHeader(RateLimitLimitHeader, strconv.Itoa(result.Limit))
		}

		return resp, err
	}
}

func (o *Optimizer) rejected(req *optlayer.Request, id string, result ratelimit.Result) *optlayer.Response {
	retryAfter := int(result.RetryAfter(o.now()) / time.Second)

	o.logger.Warn("rate limit exceeded",
		zap.String("client", id),
		zap.String("path", req.Path),
		zap.Int("limit", result.Limit),
		zap.Int("retry_after_seconds", retryAfter),
	)
	if o.collector != nil {
		o.guard("ratelimit", func() {
			o.collector.RecordRateLimited(req.Path)
		})
	}

	resp := optlayer.NewResponse(http.StatusTooManyRequests, rateLimitBody{
		Error:      "Too many requests",
		RetryAfter: retryAfter,
	})
	resp.SetHeader(RetryAfterHeader, strconv.Itoa(retryAfter))
	resp.SetHeader(RateLimitRemainingHeader, "0")
	resp.SetHeader(RateLimitLimitHeader, strconv.Itoa(result.Limit))
	return resp
}

// refund applies the skip options once the handler outcome is known
func (o *Optimizer) refund(id string, window time.Time, resp *optlayer.Response, err error) {
	refunder, ok := o.limiter.(ratelimit.Refunder)
	if !ok {
		return
	}

	status := http.StatusInternalServerError
	if err == nil && resp != nil {
		status = resp.StatusCode
	}

	c := refunder.Config()
	if c.ShouldRefund(status, err != nil) {
		refunder.Refund(id, window)
	}
}
