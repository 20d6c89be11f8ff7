package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/config"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/finalizer"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/testutil"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/wizard"
)

// =============================================================================
// HARNESS
// =============================================================================

type fixture struct {
	k        *Kernel
	identity *testutil.MockIdentityProvider
	profiles *testutil.MockProfileReader
	webhook  *testutil.MockWebhook
	store    *testutil.MockRecordStore
	bus      *commbus.InMemoryCommBus
	logger   *testutil.MockLogger
	clock    *testutil.FakeClock

	mu     sync.Mutex
	events []*KernelEvent
}

func newFixture(t *testing.T, mutate func(*config.OnboardingConfig)) *fixture {
	t.Helper()
	cfg := config.DefaultOnboardingConfig()
	cfg.TypingDelayMS = 0
	cfg.ShortTypingDelayMS = 0
	cfg.RedirectDelayMS = 0
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{
		identity: testutil.NewMockIdentityProvider().WithToken("tok-1", "user-1").WithToken("tok-2", "user-2"),
		profiles: testutil.NewMockProfileReader().WithProfile("user-1", commbus.Profile{
			DisplayName:  "Dana",
			BusinessName: "Dana's Studio",
			ServicePhone: "5551234",
		}),
		webhook: testutil.NewMockWebhook(),
		store:   testutil.NewMockRecordStore(),
		bus:     commbus.NewInMemoryCommBus(time.Second),
		logger:  testutil.NewMockLogger(),
		clock:   testutil.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)),
	}
	muted := commbus.NewMutedSessionsMiddleware(time.Hour, f.clock)
	f.bus.AddMiddleware(muted)

	fin := finalizer.New(f.webhook, f.store, finalizer.WithBus(f.bus))
	ids := 0
	f.k = NewKernel(cfg, f.identity, f.profiles, fin,
		WithLogger(f.logger),
		WithBus(f.bus),
		WithMutedSessions(muted),
		WithClock(f.clock),
		WithIDGenerator(func() string { ids++; return fmt.Sprintf("sess-%d", ids) }),
	)
	f.k.AddEventHandler(func(ev *KernelEvent) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
	})
	t.Cleanup(func() { _ = f.k.Shutdown(context.Background()) })
	return f
}

func (f *fixture) eventTypes() []KernelEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]KernelEventType, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}

func waitIdle(t *testing.T, w *wizard.Wizard) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.WaitIdle(ctx))
}

// =============================================================================
// START
// =============================================================================

func TestStartSession(t *testing.T) {
	f := newFixture(t, nil)

	w, err := f.k.StartSession(context.Background(), "tok-1")
	require.NoError(t, err)
	waitIdle(t, w)

	snap := w.Snapshot()
	assert.Equal(t, "sess-1", snap.SessionID)
	assert.Equal(t, "user-1", snap.UserID)
	assert.Equal(t, session.StepGoal, snap.Step)
	assert.Equal(t, "Hi Dana! I'm your setup assistant.", snap.Transcript[0].Text)
	assert.Equal(t, 1, f.profiles.ReadCount("user-1"), "profile read once")
	assert.Equal(t, 1, f.k.SessionCount())
	assert.Equal(t, []KernelEventType{KernelEventSessionCreated}, f.eventTypes())
}

func TestStartSessionUnauthenticated(t *testing.T) {
	for _, token := range []string{"", "expired-token"} {
		t.Run(fmt.Sprintf("token=%q", token), func(t *testing.T) {
			f := newFixture(t, nil)
			var published int
			f.bus.Subscribe("SessionStarted", func(ctx context.Context, msg commbus.Message) (any, error) {
				published++
				return nil, nil
			})

			w, err := f.k.StartSession(context.Background(), token)

			assert.Nil(t, w)
			var redirect *RedirectError
			require.ErrorAs(t, err, &redirect)
			assert.Equal(t, "/login", redirect.Target)
			assert.ErrorIs(t, err, commbus.ErrUnauthenticated)

			assert.Equal(t, 0, f.k.SessionCount())
			assert.Equal(t, 0, published, "no wizard rendered")
			assert.Equal(t, 0, f.profiles.ReadCount(""))
			assert.Empty(t, f.eventTypes())
		})
	}
}

func TestStartSessionIdentityError(t *testing.T) {
	f := newFixture(t, nil)
	f.identity.WithError(errors.New("auth backend down"))

	_, err := f.k.StartSession(context.Background(), "tok-1")

	require.Error(t, err)
	var redirect *RedirectError
	assert.False(t, errors.As(err, &redirect))
	assert.ErrorContains(t, err, "auth backend down")
}

func TestStartSessionProfileFailureStartsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	f.profiles.WithError(errors.New("db unavailable"))

	w, err := f.k.StartSession(context.Background(), "tok-1")
	require.NoError(t, err)
	waitIdle(t, w)

	assert.Equal(t, "Hi there! I'm your setup assistant.", w.Snapshot().Transcript[0].Text)
	assert.True(t, f.logger.Has("profile_read_failed"))
}

func TestStartSessionRateLimited(t *testing.T) {
	f := newFixture(t, func(c *config.OnboardingConfig) { c.StartRequestsPerMinute = 2 })

	for i := 0; i < 2; i++ {
		_, err := f.k.StartSession(context.Background(), "tok-1")
		require.NoError(t, err)
	}
	_, err := f.k.StartSession(context.Background(), "tok-1")

	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, "minute", limited.Result.LimitType)
	assert.Greater(t, limited.Result.RetryAfter, time.Duration(0))
	assert.Contains(t, f.eventTypes(), KernelEventRateLimited)

	_, err = f.k.StartSession(context.Background(), "tok-2")
	assert.NoError(t, err, "limits are per user")

	f.clock.Advance(2 * time.Minute)
	_, err = f.k.StartSession(context.Background(), "tok-1")
	assert.NoError(t, err)
}

// =============================================================================
// LOOKUP / DISCARD
// =============================================================================

func TestAuthorizeOwnership(t *testing.T) {
	f := newFixture(t, nil)
	w, err := f.k.StartSession(context.Background(), "tok-1")
	require.NoError(t, err)

	got, err := f.k.Authorize(context.Background(), "tok-1", w.SessionID())
	require.NoError(t, err)
	assert.Same(t, w, got)

	_, err = f.k.Authorize(context.Background(), "tok-2", w.SessionID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.k.Authorize(context.Background(), "", w.SessionID())
	assert.ErrorIs(t, err, commbus.ErrUnauthenticated)

	_, err = f.k.Session("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDiscard(t *testing.T) {
	f := newFixture(t, nil)
	var discarded []*commbus.SessionDiscarded
	f.bus.Subscribe("SessionDiscarded", func(ctx context.Context, msg commbus.Message) (any, error) {
		discarded = append(discarded, msg.(*commbus.SessionDiscarded))
		return nil, nil
	})

	w, err := f.k.StartSession(context.Background(), "tok-1")
	require.NoError(t, err)
	waitIdle(t, w)

	require.NoError(t, f.k.Discard(context.Background(), w.SessionID(), ReasonClient))

	assert.Equal(t, 0, f.k.SessionCount())
	require.Len(t, discarded, 1)
	assert.Equal(t, "client", discarded[0].Reason)
	assert.Equal(t, int(session.StepGoal), discarded[0].Step)
	assert.Equal(t, 0, f.webhook.Count(), "no side effects")
	assert.Equal(t, 0, f.store.Writes("user-1"))

	_, err = w.SelectOption(context.Background(), "Automate Support")
	assert.ErrorIs(t, err, wizard.ErrClosed)

	assert.ErrorIs(t, f.k.Discard(context.Background(), w.SessionID(), ReasonClient), ErrSessionNotFound)
}

func TestListSessions(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.k.StartSession(context.Background(), "tok-1")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.k.StartSession(context.Background(), "tok-2")
	require.NoError(t, err)

	all := f.k.ListSessions("")
	require.Len(t, all, 2)
	assert.Equal(t, "user-2", all[0].UserID, "most recent first")

	mine := f.k.ListSessions("user-1")
	require.Len(t, mine, 1)
	assert.Equal(t, "sess-1", mine[0].SessionID)
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.k.StartSession(context.Background(), "tok-1")
	require.NoError(t, err)

	require.NoError(t, f.k.Shutdown(context.Background()))

	assert.Equal(t, 0, f.k.SessionCount())
	_, err = f.k.StartSession(context.Background(), "tok-1")
	assert.ErrorIs(t, err, ErrShuttingDown)
}

// =============================================================================
// COMPLETION
// =============================================================================

func TestSessionCompletionEvent(t *testing.T) {
	f := newFixture(t, nil)
	w, err := f.k.StartSession(context.Background(), "tok-1")
	require.NoError(t, err)
	ctx := context.Background()

	steps := []wizard.Action{
		{Kind: wizard.ActionSelectOption, Value: "Re-engage Clients"},
		{Kind: wizard.ActionUseExisting},
		{Kind: wizard.ActionSelectOption, Value: "Retail"},
		{Kind: wizard.ActionConfirm},
		{Kind: wizard.ActionUseExisting},
		{Kind: wizard.ActionConfirm},
		{Kind: wizard.ActionSkip},
		{Kind: wizard.ActionSkip},
	}
	for _, a := range steps {
		waitIdle(t, w)
		_, err := w.Apply(ctx, a)
		require.NoError(t, err, a.Kind)
	}

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, w.WaitFinished(wctx))

	assert.Eventually(t, func() bool {
		for _, et := range f.eventTypes() {
			if et == KernelEventSessionCompleted {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.webhook.Count())
	assert.Equal(t, 1, f.store.Writes("user-1"))
}

// =============================================================================
// CLEANUP / BUS HANDLERS
// =============================================================================

func TestCleanupReapsIdleSessions(t *testing.T) {
	f := newFixture(t, func(c *config.OnboardingConfig) { c.SessionIdleTTLSeconds = 60 })
	old, err := f.k.StartSession(context.Background(), "tok-1")
	require.NoError(t, err)
	f.clock.Advance(45 * time.Second)
	fresh, err := f.k.StartSession(context.Background(), "tok-2")
	require.NoError(t, err)
	f.clock.Advance(30 * time.Second)

	n := f.k.Cleanup(context.Background(), 0)

	assert.Equal(t, 1, n)
	_, err = f.k.Session(old.SessionID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.k.Session(fresh.SessionID())
	assert.NoError(t, err)
	assert.True(t, f.logger.Has("cleanup_cycle_completed"))
}

func TestStartCleanupLoop(t *testing.T) {
	f := newFixture(t, nil)

	stop := f.k.StartCleanupLoop(CleanupConfig{Interval: 5 * time.Millisecond})
	defer stop()

	assert.Eventually(t, func() bool { return f.logger.Has("cleanup_cycle_completed") }, time.Second, 5*time.Millisecond)
}

func TestBusHandlers(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.k.RegisterHandlers(f.bus))
	w, err := f.k.StartSession(context.Background(), "tok-1")
	require.NoError(t, err)
	ctx := context.Background()

	res, err := f.bus.QuerySync(ctx, &commbus.GetSessionStatus{SessionID: w.SessionID()})
	require.NoError(t, err)
	status := res.(*commbus.SessionStatusResponse)
	assert.True(t, status.Found)
	assert.Equal(t, "user-1", status.UserID)
	assert.Equal(t, 1, status.Step)

	require.NoError(t, f.bus.Send(ctx, &commbus.DiscardSession{SessionID: w.SessionID()}))
	assert.Equal(t, 0, f.k.SessionCount())

	res, err = f.bus.QuerySync(ctx, &commbus.GetSessionStatus{SessionID: w.SessionID()})
	require.NoError(t, err)
	assert.False(t, res.(*commbus.SessionStatusResponse).Found)

	err = f.bus.Send(ctx, &commbus.DiscardSession{SessionID: "missing"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
