package wizard

import (
	"context"
	"fmt"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
)

// Snapshot is a point-in-time view of a session for rendering.
type Snapshot struct {
	SessionID  string                  `json:"session_id"`
	UserID     string                  `json:"user_id"`
	Step       session.Step            `json:"step"`
	StepName   string                  `json:"step_name"`
	Done       bool                    `json:"done"`
	InputReady bool                    `json:"input_ready"`
	Typing     bool                    `json:"typing"`
	Transcript []session.Entry         `json:"transcript"`
	Affordance Affordance              `json:"affordance"`
	Submission session.SubmissionState `json:"submission"`
	Redirect   string                  `json:"redirect,omitempty"`
}

// Snapshot returns the current view. The affordance is AffordanceNone
// whenever input is not ready.
func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	step := w.state.Step
	s := Snapshot{
		SessionID:  w.state.SessionID,
		UserID:     w.state.UserID,
		Step:       step,
		StepName:   step.String(),
		Done:       step.IsTerminal(),
		InputReady: w.inputReady(),
		Typing:     w.seq.Typing(),
		Transcript: w.state.Transcript.Entries(),
		Affordance: Affordance{Kind: AffordanceNone, Step: step},
		Submission: w.state.Submission,
		Redirect:   w.redirect,
	}
	if s.InputReady {
		if c, ok := w.collectors[step]; ok {
			s.Affordance = c.affordance(w.state, &w.drafts)
			s.Affordance.Step = step
		}
	}
	return s
}

// =============================================================================
// GENERIC ACTIONS
// =============================================================================

// ActionKind names a user action.
type ActionKind string

const (
	ActionSelectOption   ActionKind = "select_option"
	ActionUseExisting    ActionKind = "use_existing"
	ActionOverride       ActionKind = "override"
	ActionUpdateDraft    ActionKind = "update_draft"
	ActionAttachDocument ActionKind = "attach_document"
	ActionConfirm        ActionKind = "confirm"
	ActionSkip           ActionKind = "skip"
)

// Action is a serialisable user action, used by transports and replays.
type Action struct {
	Kind         ActionKind `json:"kind" yaml:"kind"`
	Value        string     `json:"value,omitempty" yaml:"value,omitempty"`
	Field        DraftField `json:"field,omitempty" yaml:"field,omitempty"`
	DocumentName string     `json:"document_name,omitempty" yaml:"document_name,omitempty"`
	DocumentData []byte     `json:"document_data,omitempty" yaml:"document_data,omitempty"`
}

// Apply performs a. It reports whether the step advanced.
func (w *Wizard) Apply(ctx context.Context, a Action) (bool, error) {
	switch a.Kind {
	case ActionSelectOption:
		return w.SelectOption(ctx, a.Value)
	case ActionUseExisting:
		return w.UseExisting(ctx)
	case ActionOverride:
		return false, w.ChooseOverride()
	case ActionUpdateDraft:
		return false, w.UpdateDraft(a.Field, a.Value)
	case ActionAttachDocument:
		return false, w.AttachDocument(a.DocumentName, a.DocumentData)
	case ActionConfirm:
		return w.Confirm(ctx)
	case ActionSkip:
		return w.Skip(ctx)
	}
	return false, fmt.Errorf("unknown action %q", a.Kind)
}
