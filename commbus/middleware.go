package commbus

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs all message traffic through a structured Logger.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	if logger == nil {
		logger = NopLogger{}
	}
	return &LoggingMiddleware{logger: logger}
}

// Before logs message receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	m.logger.Debug("commbus_message",
		"category", message.Category(),
		"message_type", GetMessageType(message),
	)
	return message, nil
}

// After logs message completion.
func (m *LoggingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	msgType := GetMessageType(message)
	if err != nil {
		m.logger.Warn("commbus_message_failed", "message_type", msgType, "error", err.Error())
	} else {
		m.logger.Debug("commbus_message_completed", "message_type", msgType)
	}
	return result, nil
}

// =============================================================================
// SESSION FILTER MIDDLEWARE
// =============================================================================

// sessionScoped is implemented by every onboarding message.
type sessionScoped interface {
	sessionID() string
}

func (m *SessionStarted) sessionID() string      { return m.SessionID }
func (m *StepCompleted) sessionID() string       { return m.SessionID }
func (m *SubmissionCompleted) sessionID() string { return m.SessionID }
func (m *OnboardingFinished) sessionID() string  { return m.SessionID }
func (m *SessionDiscarded) sessionID() string    { return m.SessionID }

// SessionIDOf returns the session a message belongs to, or "" if it is not session scoped.
func SessionIDOf(message Message) string {
	if s, ok := message.(sessionScoped); ok {
		return s.sessionID()
	}
	return ""
}

// MutedSessionsMiddleware drops events for sessions that have been muted,
// such as sessions being torn down during shutdown.
type MutedSessionsMiddleware struct {
	muted map[string]time.Time
	ttl   time.Duration
	clock Clock
	mu    sync.Mutex
}

// NewMutedSessionsMiddleware creates the middleware. Mutes expire after ttl.
func NewMutedSessionsMiddleware(ttl time.Duration, clock Clock) *MutedSessionsMiddleware {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MutedSessionsMiddleware{
		muted: make(map[string]time.Time),
		ttl:   ttl,
		clock: clock,
	}
}

// Mute suppresses further events for the session.
func (m *MutedSessionsMiddleware) Mute(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted[sessionID] = m.clock.Now().Add(m.ttl)
}

// Before aborts events for muted sessions.
func (m *MutedSessionsMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	id := SessionIDOf(message)
	if id == "" {
		return message, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.muted[id]
	if !ok {
		return message, nil
	}
	if m.clock.Now().After(until) {
		delete(m.muted, id)
		return message, nil
	}
	return nil, nil
}

// After is a pass-through.
func (m *MutedSessionsMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	return result, err
}
