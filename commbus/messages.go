// Package commbus provides CommBus Message Definitions.
//
// Categories:
//   - EVENT: Fire-and-forget, fan-out to subscribers
//   - QUERY: Request-response, single handler
//   - COMMAND: Fire-and-forget, single handler
package commbus

import "time"

// =============================================================================
// MESSAGE CATEGORIES
// =============================================================================

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
	// MessageCategoryCommand represents fire-and-forget, single handler.
	MessageCategoryCommand MessageCategory = "command"
)

// =============================================================================
// SESSION LIFECYCLE EVENTS
// =============================================================================

// SessionStarted is emitted when an authenticated session has been initialised.
// Subscribers: metrics, logging.
type SessionStarted struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
}

// Category implements the Message interface.
func (m *SessionStarted) Category() string { return string(MessageCategoryEvent) }

// StepCompleted is emitted each time a step commits and the script advances.
type StepCompleted struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Step      int    `json:"step"`
	StepName  string `json:"step_name"`
	// Path is how the step was left: "commit", "use_existing", "override" or "skip".
	Path string `json:"path"`
}

// Category implements the Message interface.
func (m *StepCompleted) Category() string { return string(MessageCategoryEvent) }

// SubmissionCompleted is emitted after the single webhook attempt, successful or not.
type SubmissionCompleted struct {
	SessionID  string  `json:"session_id"`
	UserID     string  `json:"user_id"`
	Status     string  `json:"status"` // "success", "error"
	DurationMS int     `json:"duration_ms"`
	Error      *string `json:"error,omitempty"`
	// DocumentAttached reports whether the payload carried an encoded document.
	DocumentAttached bool `json:"document_attached"`
}

// Category implements the Message interface.
func (m *SubmissionCompleted) Category() string { return string(MessageCategoryEvent) }

// OnboardingFinished is emitted when the wizard reaches Done.
type OnboardingFinished struct {
	SessionID     string `json:"session_id"`
	UserID        string `json:"user_id"`
	FlagPersisted bool   `json:"flag_persisted"`
	RedirectTo    string `json:"redirect_to"`
}

// Category implements the Message interface.
func (m *OnboardingFinished) Category() string { return string(MessageCategoryEvent) }

// SessionDiscarded is emitted when a session is dropped before or after completion.
type SessionDiscarded struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Step      int    `json:"step"`
	Reason    string `json:"reason"` // "client", "idle", "shutdown"
}

// Category implements the Message interface.
func (m *SessionDiscarded) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// QUERIES
// =============================================================================

// GetSessionStatus asks the session registry for a session's progress.
type GetSessionStatus struct {
	SessionID string `json:"session_id"`
}

// Category implements the Message interface.
func (m *GetSessionStatus) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetSessionStatus) IsQuery() {}

// SessionStatusResponse is the response to GetSessionStatus.
type SessionStatusResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Step      int    `json:"step"`
	Done      bool   `json:"done"`
	Found     bool   `json:"found"`
}

// =============================================================================
// COMMANDS
// =============================================================================

// DiscardSession instructs the session registry to drop a session.
type DiscardSession struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// Category implements the Message interface.
func (m *DiscardSession) Category() string { return string(MessageCategoryCommand) }

// =============================================================================
// MESSAGE TYPE REGISTRY
// =============================================================================

// TypedMessage is implemented by messages that name their own routing type.
type TypedMessage interface {
	Message
	MessageType() string
}

// GetMessageType returns the routing type name of a message.
func GetMessageType(msg Message) string {
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	switch msg.(type) {
	case *SessionStarted:
		return "SessionStarted"
	case *StepCompleted:
		return "StepCompleted"
	case *SubmissionCompleted:
		return "SubmissionCompleted"
	case *OnboardingFinished:
		return "OnboardingFinished"
	case *SessionDiscarded:
		return "SessionDiscarded"
	case *GetSessionStatus:
		return "GetSessionStatus"
	case *DiscardSession:
		return "DiscardSession"
	default:
		return "Unknown"
	}
}
