package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/optlayer/optlayer"
	"github.com/optlayer/optlayer/pkg/monitor"
)

// Monitoring returns the performance monitoring layer as a middleware. It
// records latency, status, user agent and client identity for every request.
// A handler error is recorded as a 500 and returned unchanged.
func (o *Optimizer) Monitoring() optlayer.Middleware {
	return func(ctx context.Context, req *optlayer.Request, next optlayer.Handler) (resp *optlayer.Response, err error) {
		if o.monitor == nil && o.collector == nil {
			return next(ctx, req)
		}

		ctx, identity := withIdentitySlot(ctx)

		start := o.now()
		o.activeRequests(req.Path, 1)
		defer o.activeRequests(req.Path, -1)

		defer func() {
			if r := recover(); r != nil {
				o.record(ctx, req, *identity, http.StatusInternalServerError, o.now().Sub(start), fmt.Errorf("panic: %v", r))
				panic(r)
			}
		}()

		resp, err = next(ctx, req)

		status := http.StatusOK
		switch {
		case err != nil:
			status = http.StatusInternalServerError
		case resp != nil && resp.StatusCode != 0:
			status = resp.StatusCode
		}

		o.record(ctx, req, *identity, status, o.now().Sub(start), err)

		return resp, err
	}
}

// record writes the metric to the monitor and the collector. Sink failures
// are logged and never reach the caller. An empty clientID is resolved with
// the optimizer's identifier.
func (o *Optimizer) record(ctx context.Context, req *optlayer.Request, clientID string, status int, elapsed time.Duration, handlerErr error) {
	o.guard("monitoring", func() {
		if o.monitor != nil {
			if clientID == "" {
				clientID = o.identify(ctx, req)
			}
			o.monitor.Record(monitor.Metric{
				Endpoint:     req.Path,
				Method:       req.Method,
				ResponseTime: elapsed,
				StatusCode:   status,
				UserAgent:    req.HeaderValue("User-Agent"),
				ClientID:     clientID,
			})
		}

		if o.collector != nil {
			o.collector.RecordRequest(req.Path, req.Method, status, elapsed)
			if handlerErr != nil {
				o.collector.RecordError(req.Path, "handler")
			}
		}
	})

	if handlerErr != nil {
		o.logger.Error("handler failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Duration("duration", elapsed),
			zap.Error(handlerErr),
		)
	}
}

func (o *Optimizer) activeRequests(path string, delta int) {
	if o.collector == nil {
		return
	}
	o.guard("monitoring", func() {
		o.collector.RecordActiveRequests(path, delta)
	})
}
