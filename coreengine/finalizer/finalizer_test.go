package finalizer

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/testutil"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func completedState(t *testing.T) *session.State {
	t.Helper()
	st := session.NewState("sess-1", "user-1", session.Prefill{
		DisplayName:  "Dana",
		BusinessName: "Acme",
		ServicePhone: "5551234",
	}, fixedNow)
	st.Goal = "Generate Leads"
	require.NoError(t, st.BusinessName.UseExisting())
	st.Industry = session.Choice{Option: "Retail"}
	require.NoError(t, st.Phone.UseExisting())
	st.OpenTime, st.CloseTime = "09:00", "18:00"
	for st.Step < session.StepReviewLink {
		require.NoError(t, st.Advance(st.Step.Next()))
	}
	return st
}

// =============================================================================
// PAYLOAD
// =============================================================================

func TestBuildPayloadUsesExisting(t *testing.T) {
	st := completedState(t)

	p := BuildPayload(st, EncodeResult{}, fixedNow)

	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "sess-1", p.SessionID)
	assert.Equal(t, "Dana", p.SubscriberName)
	assert.Equal(t, "Generate Leads", p.Goal)
	assert.Equal(t, "Acme", p.BusinessName)
	assert.Equal(t, "Retail", p.Industry)
	assert.True(t, p.UseCurrentPhone)
	assert.Equal(t, "5551234", p.Phone)
	assert.Nil(t, p.PDFBase64)
	assert.Nil(t, p.PDFName)
	assert.Nil(t, p.ReviewLink)
	assert.Empty(t, p.ReviewPlatform)
	assert.Equal(t, fixedNow, p.SubmittedAt)
}

func TestBuildPayloadResolvesOverridesAndOther(t *testing.T) {
	st := session.NewState("sess-2", "user-2", session.Prefill{BusinessName: "Old", ServicePhone: "1112222"}, fixedNow)
	require.NoError(t, st.BusinessName.Override())
	require.NoError(t, st.BusinessName.Edit("  New Name  "))
	require.NoError(t, st.Phone.Override())
	require.NoError(t, st.Phone.Edit("5559876543"))
	st.Industry = session.Choice{Option: session.OtherOption, Other: " Pet Grooming "}
	st.ReviewPlatform = session.Choice{Option: session.OtherOption, Other: "Trustpilot"}
	link := "https://trustpilot.com/acme"
	st.ReviewLink = &link

	p := BuildPayload(st, EncodeResult{}, fixedNow)

	assert.Equal(t, "New Name", p.BusinessName)
	assert.False(t, p.UseCurrentPhone)
	assert.Equal(t, "5559876543", p.Phone)
	assert.Equal(t, "Pet Grooming", p.Industry)
	assert.Equal(t, "Trustpilot", p.ReviewPlatform)
	require.NotNil(t, p.ReviewLink)
	assert.Equal(t, link, *p.ReviewLink)
}

// =============================================================================
// ENCODING
// =============================================================================

func TestEncode(t *testing.T) {
	tests := []struct {
		name    string
		doc     *session.Document
		max     int
		wantErr error
		wantNil bool
	}{
		{name: "absent", doc: nil, wantNil: true},
		{name: "encoded", doc: &session.Document{Name: "menu.pdf", Data: []byte("%PDF-1.4")}, max: 100},
		{name: "empty", doc: &session.Document{Name: "menu.pdf"}, wantErr: ErrEmptyDocument, wantNil: true},
		{name: "too large", doc: &session.Document{Name: "big.pdf", Data: make([]byte, 11)}, max: 10, wantErr: ErrDocumentTooLarge, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Encode(Base64Encoder(tt.max), tt.doc)
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
			} else {
				assert.NoError(t, res.Err)
			}
			if tt.wantNil {
				assert.Nil(t, res.Encoded)
				assert.Nil(t, res.Name)
				return
			}
			require.NotNil(t, res.Encoded)
			assert.Equal(t, base64.StdEncoding.EncodeToString(tt.doc.Data), *res.Encoded)
			assert.Equal(t, tt.doc.Name, *res.Name)
		})
	}
}

// =============================================================================
// FINALIZE
// =============================================================================

func TestFinalizeSubmitsOnceAndPersistsFlag(t *testing.T) {
	webhook := testutil.NewMockWebhook()
	store := testutil.NewMockRecordStore()
	bus := commbus.NewInMemoryCommBus(time.Second)

	var events []*commbus.SubmissionCompleted
	bus.Subscribe("SubmissionCompleted", func(ctx context.Context, msg commbus.Message) (any, error) {
		events = append(events, msg.(*commbus.SubmissionCompleted))
		return nil, nil
	})

	st := completedState(t)
	st.Document = &session.Document{Name: "faq.pdf", Data: []byte("hello")}

	f := New(webhook, store, WithBus(bus), WithClock(testutil.NewFakeClock(fixedNow)))
	out := f.Finalize(context.Background(), st)

	assert.True(t, out.Submission.OK())
	assert.True(t, out.FlagPersisted)
	assert.NoError(t, out.FlagErr)
	assert.Equal(t, 1, webhook.Count())
	assert.Equal(t, 1, store.Writes("user-1"))

	body := webhook.Payloads()[0]
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("hello")), body["pdf_base64"])
	assert.Equal(t, "faq.pdf", body["pdf_name"])
	assert.Nil(t, body["review_link"])

	require.Len(t, events, 1)
	assert.Equal(t, "success", events[0].Status)
	assert.True(t, events[0].DocumentAttached)
	assert.Nil(t, events[0].Error)
}

func TestFinalizePayloadKeys(t *testing.T) {
	webhook := testutil.NewMockWebhook()
	f := New(webhook, testutil.NewMockRecordStore())

	f.Finalize(context.Background(), completedState(t))

	assert.Equal(t, []string{
		"business_name", "close_time", "goal", "industry", "open_time",
		"pdf_base64", "pdf_name", "phone", "review_link", "review_platform",
		"session_id", "submitted_at", "subscriber_name", "use_current_phone", "user_id",
	}, webhook.Keys())
}

func TestFinalizeWebhookFailureStillPersistsFlag(t *testing.T) {
	webhook := testutil.NewMockWebhook().WithError(errors.New("502 bad gateway"))
	store := testutil.NewMockRecordStore()
	logger := testutil.NewMockLogger()

	out := New(webhook, store, WithLogger(logger)).Finalize(context.Background(), completedState(t))

	assert.False(t, out.Submission.OK())
	assert.Equal(t, SubmissionFailed, out.Submission.Status)
	assert.EqualError(t, out.Submission.Err, "502 bad gateway")
	assert.True(t, out.FlagPersisted)
	assert.Equal(t, 1, webhook.Count(), "never retried")
	assert.True(t, logger.Has("submission_failed"))
}

func TestFinalizeRequireSubmissionWithholdsFlag(t *testing.T) {
	webhook := testutil.NewMockWebhook().WithError(errors.New("timeout"))
	store := testutil.NewMockRecordStore()

	out := New(webhook, store, WithRequireSubmission(true)).Finalize(context.Background(), completedState(t))

	assert.False(t, out.FlagPersisted)
	assert.NoError(t, out.FlagErr)
	assert.Equal(t, 0, store.Writes("user-1"))
}

func TestFinalizeEncodingFailureDropsDocument(t *testing.T) {
	webhook := testutil.NewMockWebhook()
	logger := testutil.NewMockLogger()
	failing := func(*session.Document) (string, error) { return "", errors.New("unreadable") }

	st := completedState(t)
	st.Document = &session.Document{Name: "scan.pdf", Data: []byte{1, 2, 3}}

	out := New(webhook, testutil.NewMockRecordStore(), WithEncoder(failing), WithLogger(logger)).
		Finalize(context.Background(), st)

	assert.Error(t, out.Encode.Err)
	assert.True(t, out.Submission.OK())
	assert.Nil(t, webhook.Payloads()[0]["pdf_base64"])
	assert.Nil(t, webhook.Payloads()[0]["pdf_name"])
	assert.True(t, logger.Has("document_encoding_failed"))
}

func TestFinalizeStoreFailure(t *testing.T) {
	store := testutil.NewMockRecordStore().WithError(errors.New("permission denied"))

	out := New(testutil.NewMockWebhook(), store).Finalize(context.Background(), completedState(t))

	assert.True(t, out.Submission.OK())
	assert.False(t, out.FlagPersisted)
	assert.ErrorContains(t, out.FlagErr, "permission denied")
}

func TestFinalizeWithoutCollaborators(t *testing.T) {
	out := New(nil, nil).Finalize(context.Background(), completedState(t))

	assert.Equal(t, SubmissionFailed, out.Submission.Status)
	assert.False(t, out.FlagPersisted)
	assert.Error(t, out.FlagErr)
}

func TestFinalizeRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	webhook := testutil.NewMockWebhook().WithError(errors.New("boom"))
	New(webhook, testutil.NewMockRecordStore(), WithTracer(tp.Tracer("test"))).
		Finalize(context.Background(), completedState(t))

	names := map[string]bool{}
	for _, s := range recorder.Ended() {
		names[s.Name()] = true
	}
	assert.True(t, names["finalizer.finalize"])
	assert.True(t, names["finalizer.submit"])
	assert.True(t, names["finalizer.persist_flag"])
}
