// Package wizard drives one onboarding session: it plays the script through
// the sequencer, routes user actions to the active step's collector, and
// hands the finished state to the finalizer exactly once.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/config"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/finalizer"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/script"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/sequencer"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/validate"
)

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("wizard already started")
	// ErrNotStarted is returned by actions before Start.
	ErrNotStarted = errors.New("wizard not started")
	// ErrInputNotReady is returned by actions while the agent is still typing
	// or the session is finalizing.
	ErrInputNotReady = errors.New("input not ready")
	// ErrWrongStep is returned by actions that do not apply to the current step.
	ErrWrongStep = errors.New("action not available at this step")
	// ErrClosed is returned once the wizard has been closed.
	ErrClosed = errors.New("wizard closed")
)

// Logger interface for wizard logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Finalizer consumes a finished session. Implemented by *finalizer.Finalizer.
type Finalizer interface {
	Finalize(ctx context.Context, st *session.State) finalizer.Outcome
}

// DraftField names an editable draft value.
type DraftField string

const (
	// FieldOverride is the Phase B text of a branch step.
	FieldOverride DraftField = "override"
	// FieldOption is the selected option of a select step.
	FieldOption DraftField = "option"
	// FieldOther is the companion text for "Other".
	FieldOther DraftField = "other"
	// FieldOpenTime is the opening time (HH:MM).
	FieldOpenTime DraftField = "open_time"
	// FieldCloseTime is the closing time (HH:MM).
	FieldCloseTime DraftField = "close_time"
	// FieldReviewLink is the review URL.
	FieldReviewLink DraftField = "review_link"
)

// Wizard owns one session's state. All exported methods are safe for
// concurrent use; actions are serialised.
type Wizard struct {
	cfg        *config.OnboardingConfig
	state      *session.State
	script     *script.Script
	seq        *sequencer.Sequencer
	collectors map[session.Step]collector
	finalizer  Finalizer
	bus        commbus.CommBus
	clock      commbus.Clock
	logger     Logger

	mu           sync.Mutex
	drafts       drafts
	started      bool
	closed       bool
	redirect     string
	outcome      *finalizer.Outcome
	lastActivity time.Time

	settled   chan struct{}
	finished  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Wizard.
type Option func(*Wizard)

// WithClock sets the clock for typing and redirect delays.
func WithClock(c commbus.Clock) Option {
	return func(w *Wizard) { w.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(w *Wizard) { w.logger = l }
}

// WithBus publishes session events to b.
func WithBus(b commbus.CommBus) Option {
	return func(w *Wizard) { w.bus = b }
}

// WithFinalizer sets the submission finalizer.
func WithFinalizer(f Finalizer) Option {
	return func(w *Wizard) { w.finalizer = f }
}

// New creates an unstarted wizard over st.
func New(cfg *config.OnboardingConfig, st *session.State, opts ...Option) *Wizard {
	if cfg == nil {
		cfg = config.GetOnboardingConfig()
	}
	w := &Wizard{
		cfg:        cfg,
		state:      st,
		script:     script.New(script.Timing{Typing: cfg.TypingDelay(), Short: cfg.ShortTypingDelay()}),
		collectors: newCollectors(cfg),
		clock:      commbus.SystemClock{},
		logger:     commbus.NopLogger{},
		drafts: drafts{
			openTime:  cfg.DefaultOpenTime,
			closeTime: cfg.DefaultCloseTime,
		},
		settled:  make(chan struct{}),
		finished: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.finalizer == nil {
		w.finalizer = finalizer.New(nil, nil, finalizer.WithLogger(w.logger), finalizer.WithClock(w.clock))
	}
	w.seq = sequencer.New(w.clock, st.Transcript, w.logger)
	w.lastActivity = w.clock.Now()
	return w
}

// SessionID returns the session id.
func (w *Wizard) SessionID() string { return w.state.SessionID }

// UserID returns the owning user.
func (w *Wizard) UserID() string { return w.state.UserID }

// OnEvent forwards sequencer events to fn. fn must not call back into the wizard.
func (w *Wizard) OnEvent(fn func(sequencer.Event)) { w.seq.OnEvent(fn) }

// Start plays the first step's messages. It may be called once.
func (w *Wizard) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	w.lastActivity = w.clock.Now()
	w.seq.Start()
	w.seq.Enqueue(w.script.Entry(w.state)...)
	w.mu.Unlock()

	w.logger.Info("wizard_started", "session_id", w.state.SessionID, "user_id", w.state.UserID)
	w.publish(ctx, &commbus.SessionStarted{
		SessionID: w.state.SessionID,
		UserID:    w.state.UserID,
		StartedAt: w.state.CreatedAt,
	})
	return nil
}

// Close stops playback. A finalization already in flight still completes,
// but no redirect is emitted.
func (w *Wizard) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.done)
		w.mu.Unlock()
		w.seq.Stop()
	})
}

// =============================================================================
// ACTIONS
// =============================================================================

// SelectOption picks an option. On the goal step this commits immediately;
// on select steps it updates the draft.
func (w *Wizard) SelectOption(ctx context.Context, option string) (bool, error) {
	w.mu.Lock()
	switch w.state.Step {
	case session.StepGoal:
		if err := w.checkReady(); err != nil {
			w.mu.Unlock()
			return false, err
		}
		w.drafts.goal = option
		return w.commitLocked(ctx)
	case session.StepIndustry, session.StepReviewLink:
		w.mu.Unlock()
		return false, w.UpdateDraft(FieldOption, option)
	}
	w.mu.Unlock()
	return false, ErrWrongStep
}

// UseExisting keeps the prefilled value on a branch step. It reports false
// when there is no prefilled value to keep.
func (w *Wizard) UseExisting(ctx context.Context) (bool, error) {
	w.mu.Lock()
	if err := w.checkReady(); err != nil {
		w.mu.Unlock()
		return false, err
	}
	bc, ok := w.collectors[w.state.Step].(*branchCollector)
	if !ok {
		w.mu.Unlock()
		return false, ErrWrongStep
	}
	echo, path, err := bc.useExisting(w.state)
	if errors.Is(err, ErrNotAdvanceable) {
		w.mu.Unlock()
		return false, nil
	}
	if err != nil {
		w.mu.Unlock()
		return false, err
	}
	return w.advanceLocked(ctx, echo, path)
}

// ChooseOverride enters Phase B of a branch step. Nothing is appended to
// the transcript until the override is confirmed.
func (w *Wizard) ChooseOverride() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkReady(); err != nil {
		return err
	}
	bc, ok := w.collectors[w.state.Step].(*branchCollector)
	if !ok {
		return ErrWrongStep
	}
	w.touch()
	return bc.branch(w.state).Override()
}

// ChooseBranch dispatches a Phase A choice.
func (w *Wizard) ChooseBranch(ctx context.Context, mode session.BranchMode) (bool, error) {
	switch mode {
	case session.BranchUseExisting:
		return w.UseExisting(ctx)
	case session.BranchOverride:
		return false, w.ChooseOverride()
	}
	return false, fmt.Errorf("unknown branch mode %q", mode)
}

// UpdateDraft edits a draft value of the current step.
func (w *Wizard) UpdateDraft(field DraftField, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkReady(); err != nil {
		return err
	}

	step := w.state.Step
	switch {
	case field == FieldOverride && step.IsBranch():
		if step == session.StepPhone {
			value = validate.DigitsOnly(value)
		}
		bc := w.collectors[step].(*branchCollector)
		if err := bc.branch(w.state).Edit(value); err != nil {
			return err
		}
	case field == FieldOption && step == session.StepIndustry:
		w.drafts.industry.Option = value
	case field == FieldOther && step == session.StepIndustry:
		w.drafts.industry.Other = value
	case field == FieldOption && step == session.StepReviewLink:
		w.drafts.review.Option = value
	case field == FieldOther && step == session.StepReviewLink:
		w.drafts.review.Other = value
	case field == FieldReviewLink && step == session.StepReviewLink:
		w.drafts.reviewLink = strings.TrimSpace(value)
	case field == FieldOpenTime && step == session.StepHours:
		w.drafts.openTime = value
	case field == FieldCloseTime && step == session.StepHours:
		w.drafts.closeTime = value
	default:
		return ErrWrongStep
	}
	w.touch()
	return nil
}

// AttachDocument sets the document draft. Confirm attaches it.
func (w *Wizard) AttachDocument(name string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkReady(); err != nil {
		return err
	}
	if w.state.Step != session.StepDocument {
		return ErrWrongStep
	}
	w.drafts.document = &session.Document{Name: strings.TrimSpace(name), Data: append([]byte(nil), data...)}
	w.touch()
	return nil
}

// Confirm commits the current draft. It reports false, with no error, when
// the draft does not satisfy the step rule or the submission is in flight.
// Once the session is done it returns ErrInputNotReady.
func (w *Wizard) Confirm(ctx context.Context) (bool, error) {
	w.mu.Lock()
	if w.finalizing() && !w.state.Step.IsTerminal() {
		w.mu.Unlock()
		return false, nil
	}
	if err := w.checkReady(); err != nil {
		w.mu.Unlock()
		return false, err
	}
	return w.commitLocked(ctx)
}

// Skip leaves a skippable step with an absent value.
func (w *Wizard) Skip(ctx context.Context) (bool, error) {
	w.mu.Lock()
	if w.finalizing() && !w.state.Step.IsTerminal() {
		w.mu.Unlock()
		return false, nil
	}
	if err := w.checkReady(); err != nil {
		w.mu.Unlock()
		return false, err
	}
	step := w.state.Step
	if !script.Allows(step, script.PathSkip) {
		w.mu.Unlock()
		return false, ErrWrongStep
	}
	switch step {
	case session.StepDocument:
		w.state.Document = nil
	case session.StepReviewLink:
		w.state.ReviewPlatform = session.Choice{}
		w.state.ReviewLink = nil
	}
	return w.advanceLocked(ctx, script.EchoSkip(step), script.PathSkip)
}

// commitLocked expects w.mu held and releases it.
func (w *Wizard) commitLocked(ctx context.Context) (bool, error) {
	c := w.collectors[w.state.Step]
	echo, path, err := c.commit(w.state, &w.drafts)
	if errors.Is(err, ErrNotAdvanceable) {
		w.touch()
		w.mu.Unlock()
		return false, nil
	}
	if err != nil {
		w.mu.Unlock()
		return false, err
	}
	return w.advanceLocked(ctx, echo, path)
}

// advanceLocked echoes the user's reply and leaves the current step via path.
// It expects w.mu held and releases it.
func (w *Wizard) advanceLocked(ctx context.Context, echo string, path script.Path) (bool, error) {
	from := w.state.Step
	next, err := script.Transition(from, path)
	if err != nil {
		w.mu.Unlock()
		return false, err
	}

	w.touch()
	w.seq.PlayUserReply(echo)

	var outbox []commbus.Message
	outbox = append(outbox, &commbus.StepCompleted{
		SessionID: w.state.SessionID,
		UserID:    w.state.UserID,
		Step:      int(from),
		StepName:  from.String(),
		Path:      string(path),
	})

	if next.IsTerminal() {
		w.state.Submission = session.SubmissionSubmitting
		snapshot := w.state.Clone()
		go w.finalize(context.WithoutCancel(ctx), snapshot)
	} else {
		if err := w.state.Advance(next); err != nil {
			w.mu.Unlock()
			return false, err
		}
		w.seq.Enqueue(w.script.Entry(w.state)...)
	}
	w.mu.Unlock()

	w.logger.Debug("step_completed",
		"session_id", w.state.SessionID,
		"step", from.String(),
		"path", string(path),
	)
	for _, msg := range outbox {
		w.publish(ctx, msg)
	}
	return true, nil
}

func (w *Wizard) finalize(ctx context.Context, snapshot *session.State) {
	w.logger.Info("finalization_started", "session_id", snapshot.SessionID)
	outcome := w.finalizer.Finalize(ctx, snapshot)

	w.mu.Lock()
	w.outcome = &outcome
	w.state.Submission = session.SubmissionSubmitted
	if err := w.state.Advance(session.StepDone); err != nil {
		w.logger.Error("advance_to_done_failed", "session_id", w.state.SessionID, "error", err.Error())
	}
	played := w.seq.Enqueue(w.script.Entry(w.state)...)
	w.mu.Unlock()
	close(w.settled)

	select {
	case <-played:
	case <-w.done:
		return
	}
	select {
	case <-w.clock.After(w.cfg.RedirectDelay()):
	case <-w.done:
		return
	}

	w.mu.Lock()
	w.redirect = w.cfg.DashboardPath
	w.mu.Unlock()

	w.logger.Info("onboarding_finished",
		"session_id", snapshot.SessionID,
		"submission_status", string(outcome.Submission.Status),
		"flag_persisted", outcome.FlagPersisted,
	)
	w.publish(ctx, &commbus.OnboardingFinished{
		SessionID:     snapshot.SessionID,
		UserID:        snapshot.UserID,
		FlagPersisted: outcome.FlagPersisted,
		RedirectTo:    w.cfg.DashboardPath,
	})
	close(w.finished)
}

// =============================================================================
// WAITING
// =============================================================================

// WaitIdle blocks until input is ready again or the session reached Done
// and its closing messages have played.
func (w *Wizard) WaitIdle(ctx context.Context) error {
	for {
		w.mu.Lock()
		submitting := w.state.Submission == session.SubmissionSubmitting
		w.mu.Unlock()
		if !submitting {
			return w.seq.WaitIdle(ctx)
		}
		select {
		case <-w.settled:
		case <-w.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitFinished blocks until the redirect has been emitted.
func (w *Wizard) WaitFinished(ctx context.Context) error {
	select {
	case <-w.finished:
		return nil
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finished is closed once the redirect has been emitted.
func (w *Wizard) Finished() <-chan struct{} { return w.finished }

// Outcome returns the finalizer's outcome, or nil before it has run.
func (w *Wizard) Outcome() *finalizer.Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome
}

// LastActivity returns the time of the last user action.
func (w *Wizard) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity
}

// Step returns the current step.
func (w *Wizard) Step() session.Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Step
}

// =============================================================================
// HELPERS
// =============================================================================

func (w *Wizard) checkReady() error {
	switch {
	case w.closed:
		return ErrClosed
	case !w.started:
		return ErrNotStarted
	case w.state.Step.IsTerminal(), w.finalizing(), !w.seq.Idle():
		return ErrInputNotReady
	}
	return nil
}

func (w *Wizard) inputReady() bool {
	return w.checkReady() == nil
}

func (w *Wizard) finalizing() bool {
	return w.state.Submission != session.SubmissionNotSubmitted
}

func (w *Wizard) touch() {
	w.lastActivity = w.clock.Now()
}

func (w *Wizard) publish(ctx context.Context, msg commbus.Message) {
	if w.bus == nil {
		return
	}
	if err := w.bus.Publish(ctx, msg); err != nil {
		w.logger.Warn("publish_failed",
			"session_id", w.state.SessionID,
			"event", commbus.GetMessageType(msg),
			"error", err.Error(),
		)
	}
}
