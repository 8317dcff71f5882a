// Package grpctransport provides gRPC error helpers.
package grpctransport

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ratelimiter/internal/ratelimit/core"
)

func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	grpcCode := codes.Internal
	switch core.CodeOf(err) {
	case core.CodeValidation:
		grpcCode = codes.InvalidArgument
	case core.CodeConflict:
		grpcCode = codes.AlreadyExists
	case core.CodeNotFound:
		grpcCode = codes.NotFound
	case core.CodeStore:
		grpcCode = codes.Unavailable
	}
	return status.Error(grpcCode, err.Error())
}
