// Package grpc exposes hosted onboarding sessions over gRPC.
//
// Requests are validated here before reaching the kernel, and kernel or
// wizard errors are translated to stable status codes.
package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/kernel"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/wizard"
)

// =============================================================================
// ARGUMENT VALIDATION
// =============================================================================

// validateRequired checks if a field is non-empty.
func validateRequired(field, fieldName string) error {
	if field == "" {
		return InvalidArgument(fieldName)
	}
	return nil
}

func validateBranchMode(mode session.BranchMode) error {
	switch mode {
	case session.BranchUseExisting, session.BranchOverride:
		return nil
	}
	return status.Errorf(codes.InvalidArgument, "mode must be %q or %q", session.BranchUseExisting, session.BranchOverride)
}

// =============================================================================
// ERROR CODES
// =============================================================================

// InvalidArgument returns a gRPC InvalidArgument error for a missing field.
func InvalidArgument(fieldName string) error {
	return status.Errorf(codes.InvalidArgument, "%s is required", fieldName)
}

// NotFound returns a gRPC NotFound error.
func NotFound(resourceType, id string) error {
	return status.Errorf(codes.NotFound, "%s not found: %s", resourceType, id)
}

// Internal wraps an internal error with context.
func Internal(operation string, cause error) error {
	return status.Errorf(codes.Internal, "%s failed: %v", operation, cause)
}

// FailedPrecondition returns an error for actions the session cannot take now.
func FailedPrecondition(resource, currentState, attemptedAction string) error {
	return status.Errorf(codes.FailedPrecondition,
		"%s in state %s cannot %s", resource, currentState, attemptedAction)
}

// ResourceExhausted returns an error for quota/limit violations.
func ResourceExhausted(resourceType, limit string) error {
	return status.Errorf(codes.ResourceExhausted,
		"%s limit exceeded: %s", resourceType, limit)
}

// Unauthenticated returns an error telling the caller to sign in.
func Unauthenticated(target string) error {
	return status.Errorf(codes.Unauthenticated, "not signed in, redirect to %s", target)
}

// toStatus maps kernel and wizard errors to status errors. Errors that
// already carry a status pass through.
func toStatus(operation, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var redirect *kernel.RedirectError
	var limited *kernel.RateLimitedError
	switch {
	case errors.As(err, &redirect):
		return Unauthenticated(redirect.Target)
	case errors.Is(err, commbus.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.As(err, &limited):
		return ResourceExhausted("session start", limited.Result.LimitType)
	case errors.Is(err, kernel.ErrSessionNotFound):
		return NotFound("session", sessionID)
	case errors.Is(err, kernel.ErrShuttingDown):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, wizard.ErrWrongStep),
		errors.Is(err, wizard.ErrInputNotReady),
		errors.Is(err, wizard.ErrNotStarted),
		errors.Is(err, session.ErrBranchLocked):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", operation, err)
	case errors.Is(err, wizard.ErrClosed):
		return NotFound("session", sessionID)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return Internal(operation, err)
}
