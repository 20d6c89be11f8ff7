package commbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// MESSAGE CATEGORY TESTS
// =============================================================================

func TestMessageCategories(t *testing.T) {
	tests := []struct {
		msg      Message
		category string
		typeName string
	}{
		{&SessionStarted{}, "event", "SessionStarted"},
		{&StepCompleted{}, "event", "StepCompleted"},
		{&SubmissionCompleted{}, "event", "SubmissionCompleted"},
		{&OnboardingFinished{}, "event", "OnboardingFinished"},
		{&SessionDiscarded{}, "event", "SessionDiscarded"},
		{&GetSessionStatus{}, "query", "GetSessionStatus"},
		{&DiscardSession{}, "command", "DiscardSession"},
	}

	for _, tt := range tests {
		t.Run(tt.typeName, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.msg.Category())
			assert.Equal(t, tt.typeName, GetMessageType(tt.msg))
		})
	}
}

type customMessage struct{}

func (customMessage) Category() string    { return "event" }
func (customMessage) MessageType() string { return "Custom" }

type anonymousMessage struct{}

func (anonymousMessage) Category() string { return "event" }

func TestGetMessageType_TypedAndUnknown(t *testing.T) {
	assert.Equal(t, "Custom", GetMessageType(customMessage{}))
	assert.Equal(t, "Unknown", GetMessageType(anonymousMessage{}))
}

func TestSessionIDOf(t *testing.T) {
	assert.Equal(t, "s1", SessionIDOf(&StepCompleted{SessionID: "s1"}))
	assert.Equal(t, "s2", SessionIDOf(&OnboardingFinished{SessionID: "s2"}))
	assert.Equal(t, "", SessionIDOf(&GetSessionStatus{SessionID: "s3"}))
}
