package script

import (
	"testing"
	"time"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from session.Step
		path Path
		to   session.Step
		ok   bool
	}{
		{session.StepGoal, PathCommit, session.StepBusinessName, true},
		{session.StepGoal, PathSkip, session.StepGoal, false},
		{session.StepBusinessName, PathUseExisting, session.StepIndustry, true},
		{session.StepBusinessName, PathOverride, session.StepIndustry, true},
		{session.StepBusinessName, PathCommit, session.StepBusinessName, false},
		{session.StepHours, PathSkip, session.StepHours, false},
		{session.StepDocument, PathSkip, session.StepReviewLink, true},
		{session.StepReviewLink, PathCommit, session.StepDone, true},
		{session.StepReviewLink, PathSkip, session.StepDone, true},
		{session.StepDone, PathCommit, session.StepDone, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+string(tt.path), func(t *testing.T) {
			to, err := Transition(tt.from, tt.path)
			assert.Equal(t, tt.to, to)
			assert.Equal(t, tt.ok, err == nil)
			assert.Equal(t, tt.ok, Allows(tt.from, tt.path))
		})
	}
}

func TestEntryMessagesForEveryStep(t *testing.T) {
	s := New(Timing{Typing: time.Second, Short: 200 * time.Millisecond})
	st := session.NewState("s", "u", session.Prefill{
		DisplayName:  "Dana",
		BusinessName: "Acme",
		ServicePhone: "5551234567",
	}, time.Unix(0, 0))

	for step := session.StepGoal; step <= session.StepDone; step++ {
		st.Step = step
		lines := s.Entry(st)
		require.NotEmpty(t, lines, step.String())
		for _, l := range lines {
			assert.NotEmpty(t, l.Text)
			assert.True(t, l.Delay == time.Second || l.Delay == 200*time.Millisecond)
		}
	}
}

func TestEntryParameterisedByState(t *testing.T) {
	s := New(Timing{})
	st := session.NewState("s", "u", session.Prefill{DisplayName: "Dana", BusinessName: "Acme", ServicePhone: "555"}, time.Unix(0, 0))

	assert.Contains(t, s.Entry(st)[0].Text, "Dana")

	st.Step = session.StepBusinessName
	st.Goal = "Generate Leads"
	lines := s.Entry(st)
	assert.Contains(t, lines[0].Text, "generate leads")
	assert.Contains(t, lines[1].Text, `"Acme"`)

	require.NoError(t, st.BusinessName.Override())
	require.NoError(t, st.BusinessName.Edit("Acme Spa"))
	st.Step = session.StepIndustry
	assert.Contains(t, s.Entry(st)[0].Text, "Acme Spa")
}

func TestEntryWithoutPrefill(t *testing.T) {
	s := New(Timing{})
	st := session.NewState("s", "u", session.Prefill{}, time.Unix(0, 0))

	assert.Equal(t, "Hi there! I'm your setup assistant.", s.Entry(st)[0].Text)

	st.Step = session.StepBusinessName
	assert.Equal(t, "What's the name of your business?", s.Entry(st)[1].Text)
}

func TestEchoes(t *testing.T) {
	assert.Equal(t, "Yes, use 5551234567", EchoUseExisting(session.StepPhone, "5551234567"))
	assert.Equal(t, "Yes, it's Acme", EchoUseExisting(session.StepBusinessName, "Acme"))
	assert.Equal(t, "09:00 - 18:00", EchoHours("09:00", "18:00"))
	assert.Equal(t, "I'll do this later", EchoSkip(session.StepReviewLink))
	assert.Equal(t, "Skip for now", EchoSkip(session.StepDocument))
	assert.NotEmpty(t, OverridePrompt(session.StepPhone))
	assert.Empty(t, OverridePrompt(session.StepHours))
}
