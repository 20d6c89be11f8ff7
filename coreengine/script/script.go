// Package script defines the onboarding conversation: the directed graph of
// steps, the agent utterances played on entering each step, and the echo text
// played back for each user action.
package script

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/sequencer"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
)

// Path is how a step is left.
type Path string

const (
	// PathCommit leaves a step with a validated value.
	PathCommit Path = "commit"
	// PathUseExisting leaves a branch step keeping the prefilled value.
	PathUseExisting Path = "use_existing"
	// PathOverride leaves a branch step with a confirmed override.
	PathOverride Path = "override"
	// PathSkip leaves a skippable step with an absent value.
	PathSkip Path = "skip"
)

var allowedPaths = map[session.Step][]Path{
	session.StepGoal:         {PathCommit},
	session.StepBusinessName: {PathUseExisting, PathOverride},
	session.StepIndustry:     {PathCommit},
	session.StepPhone:        {PathUseExisting, PathOverride},
	session.StepHours:        {PathCommit},
	session.StepDocument:     {PathCommit, PathSkip},
	session.StepReviewLink:   {PathCommit, PathSkip},
}

// Transition returns the step reached by leaving from via path.
func Transition(from session.Step, path Path) (session.Step, error) {
	for _, p := range allowedPaths[from] {
		if p == path {
			return from.Next(), nil
		}
	}
	return from, &session.TransitionError{From: from, To: from.Next()}
}

// Allows reports whether path leaves step.
func Allows(step session.Step, path Path) bool {
	_, err := Transition(step, path)
	return err == nil
}

// Timing holds the simulated typing delays.
type Timing struct {
	// Typing precedes a full message.
	Typing time.Duration
	// Short precedes a quick follow-up.
	Short time.Duration
}

// Script produces utterances for a session.
type Script struct {
	timing Timing
}

// New creates a Script with the given delays.
func New(timing Timing) *Script {
	return &Script{timing: timing}
}

func (s *Script) say(text string) sequencer.Utterance {
	return sequencer.Utterance{Text: text, Delay: s.timing.Typing}
}

func (s *Script) quick(text string) sequencer.Utterance {
	return sequencer.Utterance{Text: text, Delay: s.timing.Short}
}

// =============================================================================
// ENTRY MESSAGES
// =============================================================================

// Entry returns the utterances played when st enters its current step.
func (s *Script) Entry(st *session.State) []sequencer.Utterance {
	switch st.Step {
	case session.StepGoal:
		return []sequencer.Utterance{
			s.say(greeting(st.Prefill.DisplayName)),
			s.quick("I'll ask a few quick questions to set up your messaging assistant."),
			s.say("First, what's the main thing you want it to help with?"),
		}
	case session.StepBusinessName:
		if st.Prefill.BusinessName == "" {
			return []sequencer.Utterance{
				s.quick(goalAck(st.Goal)),
				s.say("What's the name of your business?"),
			}
		}
		return []sequencer.Utterance{
			s.quick(goalAck(st.Goal)),
			s.say(fmt.Sprintf("Is your business still called %q?", st.Prefill.BusinessName)),
		}
	case session.StepIndustry:
		return []sequencer.Utterance{
			s.quick(fmt.Sprintf("Thanks! I'll refer to you as %s.", st.ResolvedBusinessName())),
			s.say("Which industry are you in?"),
		}
	case session.StepPhone:
		if st.Prefill.ServicePhone == "" {
			return []sequencer.Utterance{
				s.say("What phone number should customers reach you on?"),
			}
		}
		return []sequencer.Utterance{
			s.say(fmt.Sprintf("Should customers reach you at %s?", st.Prefill.ServicePhone)),
		}
	case session.StepHours:
		return []sequencer.Utterance{
			s.quick(fmt.Sprintf("Got it, %s.", st.ResolvedPhone())),
			s.say("What are your business hours? I've filled in a typical day, adjust as needed."),
		}
	case session.StepDocument:
		return []sequencer.Utterance{
			s.say("Do you have a document the assistant should learn from, like a menu, price list or FAQ?"),
			s.quick("Upload a PDF, or skip this for now."),
		}
	case session.StepReviewLink:
		return []sequencer.Utterance{
			s.say("Last one: where should happy customers leave you a review?"),
		}
	case session.StepDone:
		return []sequencer.Utterance{
			s.say("All set! Your assistant is being configured."),
			s.quick("Taking you to your dashboard..."),
		}
	}
	return nil
}

// OverridePrompt labels the Phase B input of a branch step.
func OverridePrompt(step session.Step) string {
	switch step {
	case session.StepBusinessName:
		return "Enter your business name"
	case session.StepPhone:
		return "Enter the phone number (digits only)"
	}
	return ""
}

func greeting(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Hi there! I'm your setup assistant."
	}
	return fmt.Sprintf("Hi %s! I'm your setup assistant.", name)
}

func goalAck(goal string) string {
	if goal == "" {
		return "Great."
	}
	return fmt.Sprintf("Great, we'll focus on %s.", strings.ToLower(goal))
}

// =============================================================================
// ECHOES
// =============================================================================

// EchoUseExisting is the user reply for keeping a prefilled value.
func EchoUseExisting(step session.Step, existing string) string {
	if step == session.StepPhone {
		return fmt.Sprintf("Yes, use %s", existing)
	}
	return fmt.Sprintf("Yes, it's %s", existing)
}

// EchoHours renders an opening-hours range.
func EchoHours(openAt, closeAt string) string {
	return fmt.Sprintf("%s - %s", openAt, closeAt)
}

// EchoDocument is the user reply for an attached document.
func EchoDocument(name string) string {
	return fmt.Sprintf("Attached %s", name)
}

// EchoReview renders a platform and link.
func EchoReview(platform, link string) string {
	return fmt.Sprintf("%s: %s", platform, link)
}

// EchoSkip is the user reply for a skipped step.
func EchoSkip(step session.Step) string {
	if step == session.StepReviewLink {
		return "I'll do this later"
	}
	return "Skip for now"
}
