package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FAKE CLOCK TESTS
// =============================================================================

func TestFakeClockAfter(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	ch := c.After(time.Second)
	assert.Equal(t, 1, c.Waiters())

	select {
	case <-ch:
		t.Fatal("fired before Advance")
	default:
	}

	c.Advance(500 * time.Millisecond)
	assert.Len(t, ch, 0)

	c.Advance(500 * time.Millisecond)
	fired := <-ch
	assert.Equal(t, start.Add(time.Second), fired)
	assert.Equal(t, 0, c.Waiters())
}

func TestFakeClockZeroDurationFiresImmediately(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
}

func TestFakeClockBlockUntilWaiters(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	go func() {
		time.Sleep(5 * time.Millisecond)
		c.After(time.Minute)
	}()
	assert.True(t, c.BlockUntilWaiters(1, time.Second))
	assert.False(t, c.BlockUntilWaiters(2, 10*time.Millisecond))
}

// =============================================================================
// MOCK TESTS
// =============================================================================

func TestMockLogger(t *testing.T) {
	l := NewMockLogger()
	l.Info("session_started", "session_id", "s1")
	l.Warn("submission_failed")
	l.Info("session_started")

	e, ok := l.Find("session_started")
	require.True(t, ok)
	assert.Equal(t, "s1", e.Fields["session_id"])
	assert.Equal(t, 2, l.Count("session_started"))
	assert.True(t, l.Has("submission_failed"))
}

func TestMockIdentityProvider(t *testing.T) {
	ctx := context.Background()
	p := NewMockIdentityProvider().WithToken("tok", "u1")

	id, err := p.CurrentIdentity(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)

	_, err = p.CurrentIdentity(ctx, "nope")
	assert.ErrorIs(t, err, commbus.ErrUnauthenticated)
}

func TestMockWebhookCapturesJSON(t *testing.T) {
	w := NewMockWebhook().WithError(errors.New("503"))
	err := w.Submit(context.Background(), map[string]any{"goal": "Generate Leads", "pdf_name": nil})

	assert.EqualError(t, err, "503")
	require.Equal(t, 1, w.Count())
	assert.Equal(t, "Generate Leads", w.Payloads()[0]["goal"])
	assert.Equal(t, []string{"goal", "pdf_name"}, w.Keys())
}

func TestMockRecordStoreAndProfiles(t *testing.T) {
	ctx := context.Background()
	store := NewMockRecordStore()
	require.NoError(t, store.MarkOnboardingComplete(ctx, "u1"))
	assert.Equal(t, 1, store.Writes("u1"))

	profiles := NewMockProfileReader().WithProfile("u1", commbus.Profile{BusinessName: "Acme"})
	p, err := profiles.ReadProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", p.BusinessName)
	assert.Equal(t, 1, profiles.ReadCount("u1"))
}
