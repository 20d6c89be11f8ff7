// Package finalizer turns a finished onboarding session into exactly one
// outbound submission and a persisted completion flag.
//
// Nothing here fails the session: encoding and submission problems are
// captured as results, logged, and the caller moves to Done regardless.
package finalizer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
)

// Logger interface for finalizer logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ErrDocumentTooLarge is reported when an attached document exceeds the limit.
var ErrDocumentTooLarge = errors.New("document exceeds size limit")

// ErrEmptyDocument is reported when an attached document has no bytes.
var ErrEmptyDocument = errors.New("document is empty")

// =============================================================================
// RESULTS
// =============================================================================

// SubmissionStatus is the outcome of the single webhook attempt.
type SubmissionStatus string

const (
	// SubmissionSucceeded means the webhook accepted the payload.
	SubmissionSucceeded SubmissionStatus = "success"
	// SubmissionFailed means the request errored or was rejected.
	SubmissionFailed SubmissionStatus = "error"
)

// SubmissionResult records the webhook attempt. It is never surfaced to the user.
type SubmissionResult struct {
	Status   SubmissionStatus
	Err      error
	Duration time.Duration
}

// OK reports whether the submission succeeded.
func (r SubmissionResult) OK() bool { return r.Status == SubmissionSucceeded }

// EncodeResult records the document encoding. Encoded and Name are nil when
// no document was attached or encoding failed.
type EncodeResult struct {
	Encoded *string
	Name    *string
	Err     error
}

// Outcome is everything Finalize did.
type Outcome struct {
	Payload       Payload
	Encode        EncodeResult
	Submission    SubmissionResult
	FlagPersisted bool
	FlagErr       error
}

// =============================================================================
// ENCODING
// =============================================================================

// Encoder turns a document into its transport form.
type Encoder func(doc *session.Document) (string, error)

// Base64Encoder encodes documents with standard base64, rejecting empty
// documents and those larger than maxBytes.
func Base64Encoder(maxBytes int) Encoder {
	return func(doc *session.Document) (string, error) {
		if len(doc.Data) == 0 {
			return "", ErrEmptyDocument
		}
		if maxBytes > 0 && len(doc.Data) > maxBytes {
			return "", fmt.Errorf("%w: %d > %d bytes", ErrDocumentTooLarge, len(doc.Data), maxBytes)
		}
		return base64.StdEncoding.EncodeToString(doc.Data), nil
	}
}

// Encode applies enc to doc. A nil doc yields an empty result.
func Encode(enc Encoder, doc *session.Document) EncodeResult {
	if doc == nil {
		return EncodeResult{}
	}
	encoded, err := enc(doc)
	if err != nil {
		return EncodeResult{Err: err}
	}
	name := doc.Name
	return EncodeResult{Encoded: &encoded, Name: &name}
}

// =============================================================================
// FINALIZER
// =============================================================================

// Finalizer submits finished sessions. One Finalizer serves many sessions;
// the at-most-once guard lives in each session's SubmissionState.
type Finalizer struct {
	webhook           commbus.AutomationWebhook
	store             commbus.RecordStore
	bus               commbus.CommBus
	logger            Logger
	clock             commbus.Clock
	encode            Encoder
	timeout           time.Duration
	requireSubmission bool
	tracer            trace.Tracer
}

// Option configures a Finalizer.
type Option func(*Finalizer)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(f *Finalizer) { f.logger = l }
}

// WithBus publishes SubmissionCompleted events.
func WithBus(b commbus.CommBus) Option {
	return func(f *Finalizer) { f.bus = b }
}

// WithClock sets the clock used for timestamps and durations.
func WithClock(c commbus.Clock) Option {
	return func(f *Finalizer) { f.clock = c }
}

// WithEncoder replaces the document encoder.
func WithEncoder(e Encoder) Option {
	return func(f *Finalizer) { f.encode = e }
}

// WithTimeout bounds the webhook call.
func WithTimeout(d time.Duration) Option {
	return func(f *Finalizer) { f.timeout = d }
}

// WithRequireSubmission writes the completion flag only after a successful submission.
func WithRequireSubmission(require bool) Option {
	return func(f *Finalizer) { f.requireSubmission = require }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(f *Finalizer) { f.tracer = t }
}

// New creates a Finalizer. webhook and store may be nil, in which case the
// corresponding step is recorded as failed.
func New(webhook commbus.AutomationWebhook, store commbus.RecordStore, opts ...Option) *Finalizer {
	f := &Finalizer{
		webhook: webhook,
		store:   store,
		logger:  commbus.NopLogger{},
		clock:   commbus.SystemClock{},
		encode:  Base64Encoder(0),
		tracer:  otel.Tracer("onboarding/finalizer"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize resolves st into a payload, submits it once, and persists the
// completion flag. It never returns an error; see Outcome.
func (f *Finalizer) Finalize(ctx context.Context, st *session.State) Outcome {
	ctx, span := f.tracer.Start(ctx, "finalizer.finalize",
		trace.WithAttributes(
			attribute.String("session.id", st.SessionID),
			attribute.String("user.id", st.UserID),
		),
	)
	defer span.End()

	var out Outcome

	out.Encode = Encode(f.encode, st.Document)
	if out.Encode.Err != nil {
		f.logger.Warn("document_encoding_failed",
			"session_id", st.SessionID,
			"document", st.Document.Name,
			"error", out.Encode.Err.Error(),
		)
		span.AddEvent("document_dropped")
	}

	out.Payload = BuildPayload(st, out.Encode, f.clock.Now())
	out.Submission = f.submit(ctx, st, out.Payload)

	if out.Submission.OK() || !f.requireSubmission {
		out.FlagErr = f.persistFlag(ctx, st.UserID)
		out.FlagPersisted = out.FlagErr == nil
	} else {
		f.logger.Info("completion_flag_withheld", "session_id", st.SessionID, "user_id", st.UserID)
	}

	span.SetAttributes(
		attribute.String("submission.status", string(out.Submission.Status)),
		attribute.Bool("completion.flag_persisted", out.FlagPersisted),
	)
	return out
}

func (f *Finalizer) submit(ctx context.Context, st *session.State, p Payload) SubmissionResult {
	ctx, span := f.tracer.Start(ctx, "finalizer.submit")
	defer span.End()

	start := f.clock.Now()
	var err error
	if f.webhook == nil {
		err = errors.New("no automation webhook configured")
	} else {
		callCtx := ctx
		if f.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, f.timeout)
			defer cancel()
		}
		err = f.webhook.Submit(callCtx, p)
	}
	res := SubmissionResult{Status: SubmissionSucceeded, Duration: f.clock.Now().Sub(start)}

	if err != nil {
		res.Status = SubmissionFailed
		res.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.logger.Error("submission_failed",
			"session_id", st.SessionID,
			"user_id", st.UserID,
			"error", err.Error(),
		)
	} else {
		f.logger.Info("submission_succeeded",
			"session_id", st.SessionID,
			"user_id", st.UserID,
			"duration_ms", res.Duration.Milliseconds(),
		)
	}

	f.publish(ctx, st, p, res)
	return res
}

func (f *Finalizer) persistFlag(ctx context.Context, userID string) error {
	ctx, span := f.tracer.Start(ctx, "finalizer.persist_flag")
	defer span.End()

	if f.store == nil {
		return errors.New("no record store configured")
	}
	if err := f.store.MarkOnboardingComplete(ctx, userID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.logger.Error("completion_flag_failed", "user_id", userID, "error", err.Error())
		return fmt.Errorf("mark onboarding complete: %w", err)
	}
	return nil
}

func (f *Finalizer) publish(ctx context.Context, st *session.State, p Payload, res SubmissionResult) {
	if f.bus == nil {
		return
	}
	ev := &commbus.SubmissionCompleted{
		SessionID:        st.SessionID,
		UserID:           st.UserID,
		Status:           string(res.Status),
		DurationMS:       int(res.Duration.Milliseconds()),
		DocumentAttached: p.PDFBase64 != nil,
	}
	if res.Err != nil {
		msg := res.Err.Error()
		ev.Error = &msg
	}
	if err := f.bus.Publish(ctx, ev); err != nil {
		f.logger.Warn("publish_failed", "event", "SubmissionCompleted", "error", err.Error())
	}
}
