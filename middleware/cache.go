package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/optlayer/optlayer"
	"github.com/optlayer/optlayer/pkg/cache"
)

// CacheHeader reports whether a response was served from the cache
const CacheHeader = "X-Cache"

// CacheConfig holds configuration for the caching layer
type CacheConfig struct {
	KeyGenerator cache.KeyGenerator // Key generation strategy
	TTL          time.Duration      // Zero uses the cache default
	OnlyMethods  map[string]bool    // Only cache these request methods (if set)
	SkipPaths    map[string]bool    // Paths that are never cached
}

// CacheOption is a functional option for cache configuration
type CacheOption func(*CacheConfig)

// WithCacheKey caches every request under one fixed key
func WithCacheKey(key string) CacheOption {
	return func(c *CacheConfig) {
		c.KeyGenerator = cache.StaticKey(key)
	}
}

// WithKeyGenerator sets the key generation strategy
func WithKeyGenerator(gen cache.KeyGenerator) CacheOption {
	return func(c *CacheConfig) {
		c.KeyGenerator = gen
	}
}

// WithCacheTTL sets the TTL for responses cached by this layer
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *CacheConfig) {
		c.TTL = ttl
	}
}

// WithOnlyMethods restricts caching to the given request methods
func WithOnlyMethods(methods ...string) CacheOption {
	return func(c *CacheConfig) {
		if c.OnlyMethods == nil {
			c.OnlyMethods = make(map[string]bool)
		}
		for _, m := range methods {
			c.OnlyMethods[strings.ToUpper(m)] = true
		}
	}
}

// WithSkipPaths disables caching for the given paths
func WithSkipPaths(paths ...string) CacheOption {
	return func(c *CacheConfig) {
		if c.SkipPaths == nil {
			c.SkipPaths = make(map[string]bool)
		}
		for _, p := range paths {
			c.SkipPaths[p] = true
		}
	}
}

// cachedResponse wraps a response for caching
type cachedResponse struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body"`
}

// Caching returns the caching layer as a middleware. A hit returns the cached
// status and body with X-Cache: HIT without calling the handler. On a miss
// the handler runs and responses with status below 400 are stored.
func (o *Optimizer) Caching(opts ...CacheOption) optlayer.Middleware {
	config := &CacheConfig{
		KeyGenerator: cache.NewRequestKeyGenerator(),
	}

	for _, opt := range opts {
		opt(config)
	}

	return func(ctx context.Context, req *optlayer.Request, next optlayer.Handler) (*optlayer.Response, error) {
		if o.cache == nil || !shouldCache(req, config) {
			return next(ctx, req)
		}

		key, ok := o.cacheKey(req, config)
		if !ok {
			return next(ctx, req)
		}

		if resp, hit := o.lookup(key); hit {
			return resp, nil
		}

		resp, err := next(ctx, req)
		if err != nil || resp == nil {
			return resp, err
		}

		resp.SetHeader(CacheHeader, "MISS")
		if resp.StatusCode < http.StatusBadRequest {
			o.store(key, resp, config.TTL)
		}

		return resp, nil
	}
}

// shouldCache determines if a request should be cached
func shouldCache(req *optlayer.Request, config *CacheConfig) bool {
	if config.SkipPaths[req.Path] {
		return false
	}

	// If OnlyMethods is set, only cache those methods
	if len(config.OnlyMethods) > 0 {
		return config.OnlyMethods[strings.ToUpper(req.Method)]
	}

	return true
}

func (o *Optimizer) cacheKey(req *optlayer.Request, config *CacheConfig) (key string, ok bool) {
	ok = o.guard("cache", func() {
		var err error
		key, err = config.KeyGenerator.GenerateKey(req)
		if err != nil {
			o.logger.Debug("cache key generation failed, skipping cache",
				zap.String("path", req.Path),
				zap.Error(err),
			)
		}
	})
	return key, ok && key != ""
}

func (o *Optimizer) lookup(key string) (resp *optlayer.Response, hit bool) {
	o.guard("cache", func() {
		data, found := o.cache.Get(key)
		if found {
			var cached cachedResponse
			if err := json.Unmarshal(data, &cached); err != nil {
				o.logger.Warn("discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
				o.cache.Delete(key)
				found = false
			} else {
				status := cached.StatusCode
				if status == 0 {
					status = http.StatusOK
				}
				resp = optlayer.NewResponse(status, cached.Body)
				resp.SetHeader(CacheHeader, "HIT")
				hit = true
			}
		}

		if o.collector != nil {
			o.collector.RecordCacheResult(found)
		}
		o.logger.Debug("cache lookup", zap.String("key", key), zap.Bool("hit", found))
	})
	return resp, hit
}

func (o *Optimizer) store(key string, resp *optlayer.Response, ttl time.Duration) {
	o.guard("cache", func() {
		body, err := cache.MarshalBody(resp.Body)
		if err != nil {
			o.logger.Debug("response is not serializable, skipping cache",
				zap.String("key", key),
				zap.Error(err),
			)
			return
		}

		data, err := json.Marshal(cachedResponse{StatusCode: resp.StatusCode, Body: body})
		if err != nil {
			return
		}

		o.cache.SetWithTTL(key, data, ttl)
	})
}
