package session

import (
	"fmt"
	"time"
)

// Prefill holds profile values read once when the session starts.
type Prefill struct {
	DisplayName  string `json:"display_name"`
	BusinessName string `json:"business_name"`
	ServicePhone string `json:"service_phone"`
}

// Document is an attached file. A nil *Document means absent.
type Document struct {
	Name string `json:"name"`
	Data []byte `json:"-"`
}

// TransitionError reports an attempted step change that is not the single
// forward edge out of the current step.
type TransitionError struct {
	From Step
	To   Step
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// State is the record of confirmed values for one onboarding run.
//
// State is not safe for concurrent use; the owning wizard serialises access.
// Transcript carries its own lock because the sequencer appends to it.
type State struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Prefill   Prefill   `json:"prefill"`

	Step Step `json:"step"`

	Goal           string    `json:"goal,omitempty"`
	BusinessName   Branch    `json:"-"`
	Industry       Choice    `json:"industry"`
	Phone          Branch    `json:"-"`
	OpenTime       string    `json:"open_time,omitempty"`
	CloseTime      string    `json:"close_time,omitempty"`
	Document       *Document `json:"document,omitempty"`
	ReviewPlatform Choice    `json:"review_platform"`
	ReviewLink     *string   `json:"review_link,omitempty"`

	Submission SubmissionState `json:"submission"`

	Transcript *Transcript `json:"-"`
}

// NewState creates the state for a fresh run positioned at StepGoal.
func NewState(sessionID, userID string, prefill Prefill, now time.Time) *State {
	return &State{
		SessionID:  sessionID,
		UserID:     userID,
		CreatedAt:  now,
		Prefill:    prefill,
		Step:       StepGoal,
		Submission: SubmissionNotSubmitted,
		Transcript: NewTranscript(),
	}
}

// Advance moves to the next step. Steps are never skipped or revisited.
func (s *State) Advance(to Step) error {
	if s.Step.IsTerminal() || to != s.Step.Next() {
		return &TransitionError{From: s.Step, To: to}
	}
	s.Step = to
	return nil
}

// ResolvedBusinessName returns the effective business name.
func (s *State) ResolvedBusinessName() string {
	return s.BusinessName.Resolve(s.Prefill.BusinessName)
}

// ResolvedPhone returns the effective service phone.
func (s *State) ResolvedPhone() string {
	return s.Phone.Resolve(s.Prefill.ServicePhone)
}

// UseCurrentPhone reports whether the prefilled phone was kept.
func (s *State) UseCurrentPhone() bool {
	return s.Phone.Mode() == BranchUseExisting
}

// DocumentSkipped reports whether step 6 was left without a document.
func (s *State) DocumentSkipped() bool {
	return s.Step > StepDocument && s.Document == nil
}

// ReviewSkipped reports whether step 7 was left via skip.
func (s *State) ReviewSkipped() bool {
	return s.Step > StepReviewLink && s.ReviewLink == nil
}

// Clone returns a copy that shares only the transcript.
func (s *State) Clone() *State {
	c := *s
	if s.Document != nil {
		d := *s.Document
		d.Data = append([]byte(nil), s.Document.Data...)
		c.Document = &d
	}
	if s.ReviewLink != nil {
		l := *s.ReviewLink
		c.ReviewLink = &l
	}
	return &c
}
