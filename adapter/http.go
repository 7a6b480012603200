// Package adapter bridges optlayer handlers to net/http and gRPC servers.
package adapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/optlayer/optlayer"
	"github.com/optlayer/optlayer/middleware"
	"github.com/optlayer/optlayer/pkg/cache"
	"github.com/optlayer/optlayer/pkg/monitor"
)

// MaxBodyBytes bounds request bodies read by HTTPHandler
const MaxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

// HTTPHandler serves h over net/http. JSON request bodies are passed to the
// handler as json.RawMessage and response bodies are written as JSON. A
// handler error becomes a 500 response.
func HTTPHandler(h optlayer.Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := NewRequest(r)
		if err != nil {
			writeJSON(w, logger, http.StatusBadRequest, nil, errorBody{Error: err.Error()})
			return
		}

		resp, err := h(r.Context(), req)
		if err != nil {
			writeJSON(w, logger, http.StatusInternalServerError, nil, errorBody{Error: "Internal server error"})
			return
		}

		if resp == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		status := resp.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, logger, status, resp.Header, resp.Body)
	})
}

// NewRequest converts an http.Request into an optlayer.Request
func NewRequest(r *http.Request) (*optlayer.Request, error) {
	req := &optlayer.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	}

	if r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxBodyBytes {
		return nil, errors.New("request body too large")
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return req, nil
	}
	if !json.Valid(data) {
		return nil, errors.New("request body is not valid JSON")
	}
	req.Body = json.RawMessage(data)

	return req, nil
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, header http.Header, body interface{}) {
	for k, vs := range header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	if body == nil {
		w.WriteHeader(status)
		return
	}

	data, err := cache.MarshalBody(body)
	if err != nil {
		logger.Error("failed to encode response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logger.Debug("failed to write response", zap.Error(err))
	}
}

// RateLimitStats reports the rate limiter state
type RateLimitStats struct {
	TrackedClients int `json:"trackedClients"`
}

// StatsResponse is served by StatsHandler
type StatsResponse struct {
	Performance *monitor.Stats  `json:"performance,omitempty"`
	Cache       *cache.Stats    `json:"cache,omitempty"`
	RateLimit   *RateLimitStats `json:"rateLimit,omitempty"`
}

// StatsHandler serves the optimizer's monitor, cache and limiter statistics.
// The "range" query parameter selects the monitor window, for example 15m.
func StatsHandler(opt *middleware.Optimizer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timeRange := monitor.DefaultTimeRange
		if raw := r.URL.Query().Get("range"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				writeJSON(w, opt.Logger(), http.StatusBadRequest, nil, errorBody{Error: "invalid range"})
				return
			}
			timeRange = d
		}

		var resp StatsResponse
		if m := opt.Monitor(); m != nil {
			stats := m.Stats(timeRange)
			resp.Performance = &stats
		}
		if c := opt.Cache(); c != nil {
			stats := c.Stats()
			resp.Cache = &stats
		}
		if l := opt.Limiter(); l != nil {
			resp.RateLimit = &RateLimitStats{TrackedClients: l.Len()}
		}

		writeJSON(w, opt.Logger(), http.StatusOK, nil, resp)
	})
}
