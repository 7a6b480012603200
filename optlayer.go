// Package optlayer provides an in-process request optimization layer: response
// caching, per-client rate limiting and performance monitoring composed as
// middleware around request handlers.
package optlayer

import (
	"context"
	"net/http"
	"net/url"
)

// Request describes an inbound request independently of the host framework
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   interface{}
}

// HeaderValue returns the first value of the named header, or ""
func (r *Request) HeaderValue(name string) string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get(name)
}

// Response describes the outcome of a handler. Body must be JSON-serializable
// for the response to be cacheable.
type Response struct {
	StatusCode int
	Body       interface{}
	Header     http.Header
}

// NewResponse creates a response with an empty header set
func NewResponse(statusCode int, body interface{}) *Response {
	return &Response{
		StatusCode: statusCode,
		Body:       body,
		Header:     make(http.Header),
	}
}

// SetHeader sets a response header, allocating the header map if needed
func (r *Response) SetHeader(name, value string) {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set(name, value)
}

// Handler is the business handler contract consumed by the layer
type Handler func(ctx context.Context, req *Request) (*Response, error)

// Middleware wraps a Handler. It receives the next handler in the chain and
// decides whether and how to invoke it.
type Middleware func(ctx context.Context, req *Request, next Handler) (*Response, error)

// Chain represents a chain of middleware
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain. The first middleware is the outermost.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{
		middlewares: middlewares,
	}
}

// Append adds middleware to the end of the chain
func (c *Chain) Append(middlewares ...Middleware) *Chain {
	c.middlewares = append(c.middlewares, middlewares...)
	return c
}

// Prepend adds middleware to the beginning of the chain
func (c *Chain) Prepend(middlewares ...Middleware) *Chain {
	c.middlewares = append(middlewares, c.middlewares...)
	return c
}

// Len returns the number of middleware in the chain
func (c *Chain) Len() int {
	return len(c.middlewares)
}

// Then returns a Handler that runs the chain around h
func (c *Chain) Then(h Handler) Handler {
	current := h

	// Apply middleware in reverse order so they execute in the correct order
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		current = Wrap(current, c.middlewares[i])
	}

	return current
}

// Wrap applies a single middleware to a handler
func Wrap(h Handler, m Middleware) Handler {
	return func(ctx context.Context, req *Request) (*Response, error) {
		return m(ctx, req, h)
	}
}
