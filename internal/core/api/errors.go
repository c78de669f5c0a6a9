package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/cascade/internal/types"
)

// Error mapping for handlers.
// Auth errors are mapped in the auth package interceptor.
// Unknown scopes, including scopes owned by another tenant, map to NOT_FOUND.
// Context timeouts map to DEADLINE_EXCEEDED.
// Anything else from the store maps to UNAVAILABLE.
func storeError(err error) error {
	switch {
	case errors.Is(err, types.ErrScopeNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Errorf(codes.Unavailable, "failed to load rule set: %v", err)
	}
}

// invalidArgument reports a malformed request.
func invalidArgument(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}
