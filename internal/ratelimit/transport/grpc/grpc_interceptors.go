// Package grpctransport provides gRPC interceptors.
package grpctransport

import (
	"context"
	"path"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"ratelimiter/internal/ratelimit/observability"
)

// RequestIDHeader carries the caller supplied request id.
const RequestIDHeader = "x-request-id"

func grpcRequestIDInterceptor(logger observability.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := incomingRequestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, requestID))
		start := time.Now()
		resp, err := handler(ctx, req)
		if logger != nil {
			fields := map[string]any{
				"method":      info.FullMethod,
				"request_id":  requestID,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			if err != nil {
				fields["error"] = err.Error()
				fields["code"] = status.Code(err).String()
				logger.Error("grpc request error", fields)
			} else {
				logger.Debug("grpc request", fields)
			}
		}
		return resp, err
	}
}

func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(RequestIDHeader); len(values) > 0 && values[0] != "" {
			return values[0]
		}
	}
	return uuid.NewString()
}

func grpcTracingMetricsInterceptor(tracer observability.Tracer, metrics observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := grpcMethodName(info.FullMethod)
		var span observability.Span
		if tracer != nil {
			ctx, span = tracer.StartSpan(ctx, "grpc."+method)
			span.SetAttribute("rpc.method", method)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		if span != nil {
			if err != nil {
				span.SetAttribute("rpc.code", status.Code(err).String())
				span.RecordError(err)
			}
			span.End()
		}
		if metrics != nil {
			metrics.ObserveLatency("grpc "+method, time.Since(start))
		}
		return resp, err
	}
}

func grpcMethodName(fullMethod string) string {
	if fullMethod == "" {
		return "unknown"
	}
	return path.Base(fullMethod)
}
