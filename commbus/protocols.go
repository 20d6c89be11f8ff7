// Package commbus holds the interfaces the onboarding engine is written
// against and the in-process bus that carries its events.
//
// Core packages depend on the collaborator interfaces here (identity,
// profile, completion record, automation webhook), never on the Firebase or
// HTTP adapters that implement them.
package commbus

import (
	"context"
	"time"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Identity is the authenticated principal behind a session.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// Profile holds the prefilled fields read once when a session starts.
// Any field may be empty.
type Profile struct {
	DisplayName  string `json:"display_name"`
	BusinessName string `json:"business_name"`
	ServicePhone string `json:"service_phone"`
}

// IdentityProvider resolves the caller's identity from an opaque token.
// Implementations return ErrUnauthenticated when there is no identity.
type IdentityProvider interface {
	CurrentIdentity(ctx context.Context, token string) (Identity, error)
}

// ProfileReader reads the user's stored profile.
type ProfileReader interface {
	ReadProfile(ctx context.Context, userID string) (Profile, error)
}

// RecordStore persists the onboarding completion flag.
type RecordStore interface {
	MarkOnboardingComplete(ctx context.Context, userID string) error
}

// AutomationWebhook delivers the consolidated configuration payload.
// Submit performs exactly one request; callers never retry.
type AutomationWebhook interface {
	Submit(ctx context.Context, payload any) error
}

// =============================================================================
// BUS
// =============================================================================

// Message is anything carried by the bus. Category is "event", "query", or
// "command".
type Message interface {
	Category() string
}

// Query is a message answered by exactly one handler.
type Query interface {
	Message
	IsQuery()
}

// HandlerFunc handles one message. Event subscribers return a nil result.
type HandlerFunc func(ctx context.Context, message Message) (any, error)

// Middleware wraps every message. Before may return a nil message to drop it.
type Middleware interface {
	Before(ctx context.Context, message Message) (Message, error)
	After(ctx context.Context, message Message, result any, err error) (any, error)
}

// CommBus is what the kernel, wizard, and finalizer publish to.
//
//	Publish    fan-out to every subscriber
//	Send       one handler, no result
//	QuerySync  one handler, result or timeout
type CommBus interface {
	Publish(ctx context.Context, event Message) error
	Send(ctx context.Context, command Message) error
	QuerySync(ctx context.Context, query Query) (any, error)

	// Subscribe returns an unsubscribe func.
	Subscribe(eventType string, handler HandlerFunc) func()
	RegisterHandler(messageType string, handler HandlerFunc) error
	AddMiddleware(middleware Middleware)
}

// =============================================================================
// INFRASTRUCTURE
// =============================================================================

// Logger is the structured logger every package accepts.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Clock abstracts time so typing delays can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

var (
	_ Clock  = SystemClock{}
	_ Logger = NopLogger{}
)
