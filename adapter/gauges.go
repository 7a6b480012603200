package adapter

import (
	"errors"

	"github.com/optlayer/optlayer/middleware"
	"github.com/optlayer/optlayer/pkg/metrics"
)

// RegisterGauges exposes the optimizer's state sizes as scrape-time gauges
func RegisterGauges(opt *middleware.Optimizer, collector *metrics.PrometheusCollector) error {
	var errs []error

	if c := opt.Cache(); c != nil {
		errs = append(errs,
			collector.RegisterGauge("cache_entries", "Number of cached responses, including expired ones not yet purged", func() float64 {
				return float64(c.Len())
			}),
			collector.RegisterGauge("cache_hit_ratio", "Cache hits divided by lookups since start", func() float64 {
				return c.Stats().HitRate
			}),
		)
	}

	if l := opt.Limiter(); l != nil {
		errs = append(errs, collector.RegisterGauge("ratelimit_tracked_clients", "Number of identifiers with rate limit state", func() float64 {
			return float64(l.Len())
		}))
	}

	if m := opt.Monitor(); m != nil {
		errs = append(errs, collector.RegisterGauge("monitor_buffered_metrics", "Number of request metrics held by the performance monitor", func() float64 {
			return float64(m.Len())
		}))
	}

	return errors.Join(errs...)
}
