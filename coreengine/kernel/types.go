package kernel

import (
	"errors"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
)

// Logger interface for kernel logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSessionNotFound is returned for unknown or foreign session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrShuttingDown is returned by StartSession after Shutdown.
	ErrShuttingDown = errors.New("kernel shutting down")
)

// RedirectError tells the caller to navigate elsewhere instead of rendering
// the wizard. It wraps the cause, typically commbus.ErrUnauthenticated.
type RedirectError struct {
	Target string
	Err    error
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirect to %s: %v", e.Target, e.Err)
}

func (e *RedirectError) Unwrap() error { return e.Err }

// RateLimitedError is returned when a user starts sessions too quickly.
type RateLimitedError struct {
	Result *RateLimitResult
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%d per %s, retry after %s",
		e.Result.Current, e.Result.Limit, e.Result.LimitType, e.Result.RetryAfter)
}

// =============================================================================
// SESSION INFO
// =============================================================================

// SessionInfo summarises a hosted session.
type SessionInfo struct {
	SessionID    string       `json:"session_id"`
	UserID       string       `json:"user_id"`
	Step         session.Step `json:"step"`
	Done         bool         `json:"done"`
	LastActivity time.Time    `json:"last_activity"`
}

// =============================================================================
// KERNEL EVENTS
// =============================================================================

// KernelEventType represents types of kernel events.
type KernelEventType string

const (
	KernelEventSessionCreated   KernelEventType = "session.created"
	KernelEventSessionCompleted KernelEventType = "session.completed"
	KernelEventSessionDiscarded KernelEventType = "session.discarded"
	KernelEventRateLimited      KernelEventType = "session.rate_limited"
)

// KernelEvent represents an event emitted by the kernel.
type KernelEvent struct {
	EventType KernelEventType `json:"event_type"`
	SessionID string          `json:"session_id,omitempty"`
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      map[string]any  `json:"data,omitempty"`
}

// KernelEventHandler handles kernel events. Handlers run synchronously.
type KernelEventHandler func(*KernelEvent)
