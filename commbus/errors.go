package commbus

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthenticated is returned by an IdentityProvider when the caller has no identity.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNoHandler matches every *NoHandlerError.
	ErrNoHandler = errors.New("no handler registered")

	// ErrDropped is returned for a query that middleware swallowed, such as
	// one addressed to a discarded session.
	ErrDropped = errors.New("message dropped by middleware")
)

// NoHandlerError names a command or query type nobody handles.
type NoHandlerError struct {
	MessageType string
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("no handler registered for %s", e.MessageType)
}

func (e *NoHandlerError) Is(target error) bool { return target == ErrNoHandler }

// DuplicateHandlerError is returned by RegisterHandler when the type already has one.
type DuplicateHandlerError struct {
	MessageType string
}

func (e *DuplicateHandlerError) Error() string {
	return "duplicate handler for " + e.MessageType
}

// QueryTimeoutError is returned when a query handler outlives the bus
// timeout. It unwraps to context.DeadlineExceeded.
type QueryTimeoutError struct {
	MessageType string
	Timeout     time.Duration
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("query %s timed out after %s", e.MessageType, e.Timeout)
}

func (e *QueryTimeoutError) Unwrap() error { return context.DeadlineExceeded }
