// Package session provides the in-memory record of one onboarding run.
//
// State holds only confirmed values. Drafts live with the collectors, except
// for branch overrides, whose draft is part of the Branch tagged union.
package session

import "fmt"

// Step identifies a state of the onboarding script.
type Step int

const (
	// StepGoal asks for the primary goal.
	StepGoal Step = iota + 1
	// StepBusinessName confirms or overrides the prefilled business name.
	StepBusinessName
	// StepIndustry asks for the industry.
	StepIndustry
	// StepPhone confirms or overrides the prefilled service phone.
	StepPhone
	// StepHours collects opening and closing time.
	StepHours
	// StepDocument optionally attaches a knowledge document.
	StepDocument
	// StepReviewLink optionally collects a review platform and link.
	StepReviewLink
	// StepDone is the terminal state, reachable only from StepReviewLink.
	StepDone
)

var stepNames = map[Step]string{
	StepGoal:         "goal",
	StepBusinessName: "business_name",
	StepIndustry:     "industry",
	StepPhone:        "phone",
	StepHours:        "hours",
	StepDocument:     "document",
	StepReviewLink:   "review_link",
	StepDone:         "done",
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	return s >= StepGoal && s <= StepDone
}

// IsTerminal reports whether s is Done.
func (s Step) IsTerminal() bool { return s == StepDone }

// IsBranch reports whether s has a use-existing/override choice.
func (s Step) IsBranch() bool { return s == StepBusinessName || s == StepPhone }

// Skippable reports whether s offers a skip affordance.
func (s Step) Skippable() bool { return s == StepDocument || s == StepReviewLink }

// Next returns the step that follows s. Done has no successor.
func (s Step) Next() Step {
	if s >= StepDone {
		return StepDone
	}
	return s + 1
}

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	// SpeakerAgent is the scripted assistant.
	SpeakerAgent Speaker = "agent"
	// SpeakerUser is the person onboarding.
	SpeakerUser Speaker = "user"
)

// SubmissionState tracks the single allowed submission attempt.
type SubmissionState string

const (
	SubmissionNotSubmitted SubmissionState = "not_submitted"
	SubmissionSubmitting   SubmissionState = "submitting"
	SubmissionSubmitted    SubmissionState = "submitted"
)
