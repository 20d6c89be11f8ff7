package grpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/kernel"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/wizard"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"redirect", &kernel.RedirectError{Target: "/login", Err: commbus.ErrUnauthenticated}, codes.Unauthenticated},
		{"bare unauthenticated", commbus.ErrUnauthenticated, codes.Unauthenticated},
		{"rate limited", &kernel.RateLimitedError{Result: kernel.ExceededLimit("minute", 10, 10, 0)}, codes.ResourceExhausted},
		{"not found", kernel.ErrSessionNotFound, codes.NotFound},
		{"closed", wizard.ErrClosed, codes.NotFound},
		{"shutting down", kernel.ErrShuttingDown, codes.Unavailable},
		{"wrong step", wizard.ErrWrongStep, codes.FailedPrecondition},
		{"typing", wizard.ErrInputNotReady, codes.FailedPrecondition},
		{"branch locked", fmt.Errorf("edit: %w", session.ErrBranchLocked), codes.FailedPrecondition},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"canceled", context.Canceled, codes.Canceled},
		{"existing status", status.Error(codes.Aborted, "x"), codes.Aborted},
		{"unknown", errors.New("disk on fire"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, ok := status.FromError(toStatus("op", "sess-1", tt.err))
			assert.True(t, ok)
			assert.Equal(t, tt.code, st.Code())
		})
	}
	assert.NoError(t, toStatus("op", "", nil))
}

func TestRedirectMessageNamesLogin(t *testing.T) {
	err := toStatus("start", "", &kernel.RedirectError{Target: "/login", Err: commbus.ErrUnauthenticated})
	assert.Contains(t, status.Convert(err).Message(), "/login")
}

func TestValidateBranchMode(t *testing.T) {
	assert.NoError(t, validateBranchMode(session.BranchUseExisting))
	assert.NoError(t, validateBranchMode(session.BranchOverride))
	assert.Equal(t, codes.InvalidArgument, status.Code(validateBranchMode(session.BranchUnset)))
	assert.Equal(t, codes.InvalidArgument, status.Code(validateBranchMode("maybe")))
}

func TestErrorBuilders(t *testing.T) {
	assert.Equal(t, codes.InvalidArgument, status.Code(InvalidArgument("session_id")))
	assert.Equal(t, codes.NotFound, status.Code(NotFound("session", "x")))
	assert.Equal(t, codes.Internal, status.Code(Internal("op", errors.New("x"))))
	assert.Equal(t, codes.FailedPrecondition, status.Code(FailedPrecondition("session", "done", "confirm")))
	assert.Equal(t, codes.ResourceExhausted, status.Code(ResourceExhausted("document", "10 bytes")))
	assert.Equal(t, codes.Unauthenticated, status.Code(Unauthenticated("/login")))
	assert.NoError(t, validateRequired("x", "field"))
	assert.Error(t, validateRequired("", "field"))
}
