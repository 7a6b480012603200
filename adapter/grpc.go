package adapter

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/optlayer/optlayer"
	"github.com/optlayer/optlayer/middleware"
	"github.com/optlayer/optlayer/pkg/cache"
)

// GRPCMethod is the request method reported for unary RPCs
const GRPCMethod = "RPC"

// GRPCConfig configures UnaryServerInterceptor
type GRPCConfig struct {
	// Options selects the optimization layers
	Options middleware.Options

	// ResponseTypes maps full method names to a response prototype. Only
	// methods listed here are cached, since a cached body must be decoded
	// back into the method's response message.
	ResponseTypes map[string]proto.Message
}

// DefaultGRPCConfig enables every layer and keys cached responses by a hash of
// the request message
func DefaultGRPCConfig() GRPCConfig {
	opts := middleware.DefaultOptions()
	opts.CacheOptions = []middleware.CacheOption{
		middleware.WithKeyGenerator(cache.NewBodyHashKeyGenerator()),
	}
	return GRPCConfig{
		Options:       opts,
		ResponseTypes: make(map[string]proto.Message),
	}
}

// UnaryServerInterceptor applies the optimizer to unary RPCs. The request
// path is the full method name and headers come from incoming metadata.
// Rate limited calls fail with ResourceExhausted and other error statuses
// map to their closest gRPC code.
func UnaryServerInterceptor(opt *middleware.Optimizer, cfg GRPCConfig) grpc.UnaryServerInterceptor {
	uncachedOpts := cfg.Options
	uncachedOpts.EnableCaching = false

	// Both chains are built once; the per-call handler travels in the context
	cached := opt.WithOptimizations(invokeUnary, cfg.Options)
	uncached := opt.WithOptimizations(invokeUnary, uncachedOpts)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		prototype, cacheable := cfg.ResponseTypes[info.FullMethod]

		h := uncached
		if cacheable {
			h = cached
		}

		ctx = context.WithValue(ctx, unaryHandlerKey{}, handler)
		resp, err := h(ctx, newRPCRequest(ctx, info.FullMethod, req))
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, nil
		}

		setResponseHeaders(ctx, opt.Logger(), resp.Header)

		if resp.StatusCode >= http.StatusBadRequest {
			return nil, statusError(resp)
		}

		raw, ok := resp.Body.(json.RawMessage)
		if !ok || !cacheable {
			return resp.Body, nil
		}

		msg := proto.Clone(prototype)
		proto.Reset(msg)
		if err := protojson.Unmarshal(raw, msg); err != nil {
			opt.Logger().Warn("cached response does not decode, calling handler",
				zap.String("method", info.FullMethod),
				zap.Error(err),
			)
			return handler(ctx, req)
		}
		return msg, nil
	}
}

type unaryHandlerKey struct{}

func invokeUnary(ctx context.Context, r *optlayer.Request) (*optlayer.Response, error) {
	handler, ok := ctx.Value(unaryHandlerKey{}).(grpc.UnaryHandler)
	if !ok {
		return nil, status.Error(codes.Internal, "no unary handler in context")
	}
	resp, err := handler(ctx, r.Body)
	if err != nil {
		return nil, err
	}
	return optlayer.NewResponse(http.StatusOK, resp), nil
}

func newRPCRequest(ctx context.Context, method string, body interface{}) *optlayer.Request {
	header := make(http.Header)
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for k, vs := range md {
			// Binary metadata is not meaningful as an HTTP header
			if strings.HasSuffix(k, "-bin") {
				continue
			}
			for _, v := range vs {
				header.Add(k, v)
			}
		}
	}

	// Fall back to the transport peer when no proxy supplied an address
	if header.Get("X-Forwarded-For") == "" && header.Get("X-Real-IP") == "" {
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			host, _, err := net.SplitHostPort(p.Addr.String())
			if err != nil {
				host = p.Addr.String()
			}
			header.Set("X-Real-IP", host)
		}
	}

	return &optlayer.Request{
		Method: GRPCMethod,
		Path:   method,
		Header: header,
		Body:   body,
	}
}

func setResponseHeaders(ctx context.Context, logger *zap.Logger, header http.Header) {
	if len(header) == 0 {
		return
	}

	md := metadata.MD{}
	for k, vs := range header {
		md.Append(strings.ToLower(k), vs...)
	}

	// Fails outside a server transport stream, e.g. when invoked directly
	if err := grpc.SetHeader(ctx, md); err != nil {
		logger.Debug("failed to set response metadata", zap.Error(err))
	}
}

func statusError(resp *optlayer.Response) error {
	code := CodeFromHTTP(resp.StatusCode)
	if code == codes.ResourceExhausted {
		if retry := resp.Header.Get(middleware.RetryAfterHeader); retry != "" {
			return status.Errorf(code, "rate limit exceeded, retry after %s seconds", retry)
		}
	}
	return status.Error(code, http.StatusText(resp.StatusCode))
}

// CodeFromHTTP maps an HTTP status code to the closest gRPC code
func CodeFromHTTP(statusCode int) codes.Code {
	switch statusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return codes.OK
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.Aborted
	case http.StatusPreconditionFailed:
		return codes.FailedPrecondition
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusNotImplemented:
		return codes.Unimplemented
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	case http.StatusInternalServerError:
		return codes.Internal
	default:
		return codes.Unknown
	}
}
