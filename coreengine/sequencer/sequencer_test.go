package sequencer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSequencer(t *testing.T) (*Sequencer, *testutil.FakeClock, *session.Transcript) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	tr := session.NewTranscript()
	s := New(clock, tr, testutil.NewMockLogger())
	s.Start()
	t.Cleanup(s.Stop)
	return s, clock, tr
}

func texts(entries []session.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}

// =============================================================================
// ORDERING TESTS
// =============================================================================

func TestUtterancesPlayInOrderWithDelays(t *testing.T) {
	s, clock, tr := newTestSequencer(t)

	s.Enqueue(
		Utterance{Text: "one", Delay: time.Second},
		Utterance{Text: "two", Delay: 2 * time.Second},
	)
	assert.False(t, s.Idle())

	require.True(t, clock.BlockUntilWaiters(1, time.Second))
	assert.True(t, s.Typing())
	assert.Equal(t, 0, tr.Len())

	clock.Advance(time.Second)
	require.True(t, clock.BlockUntilWaiters(1, time.Second))
	assert.Equal(t, []string{"one"}, texts(tr.Entries()))
	assert.False(t, s.Idle())

	// Only one utterance is ever in flight.
	clock.Advance(time.Second)
	assert.Equal(t, 1, tr.Len())
	clock.Advance(time.Second)

	require.NoError(t, s.WaitIdle(context.Background()))
	assert.Equal(t, []string{"one", "two"}, texts(tr.Entries()))
	assert.False(t, s.Typing())
	assert.True(t, s.Idle())
}

func TestZeroDelayUtterances(t *testing.T) {
	s, _, tr := newTestSequencer(t)

	done := s.Enqueue(Utterance{Text: "a"}, Utterance{Text: "b"}, Utterance{Text: "c"})
	<-done

	require.NoError(t, s.WaitIdle(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, texts(tr.Entries()))
	for _, e := range tr.Entries() {
		assert.Equal(t, session.SpeakerAgent, e.Speaker)
	}
}

func TestBatchesDoNotInterleave(t *testing.T) {
	s, _, tr := newTestSequencer(t)

	var wg sync.WaitGroup
	for _, batch := range [][]Utterance{
		{{Text: "a1"}, {Text: "a2"}},
		{{Text: "b1"}, {Text: "b2"}},
	} {
		wg.Add(1)
		go func(b []Utterance) {
			defer wg.Done()
			<-s.Enqueue(b...)
		}(batch)
	}
	wg.Wait()
	require.NoError(t, s.WaitIdle(context.Background()))

	got := texts(tr.Entries())
	require.Len(t, got, 4)
	assert.Equal(t, got[0][0], got[1][0])
	assert.Equal(t, got[2][0], got[3][0])
}

func TestPlayAgentMessageResolvesAfterAppend(t *testing.T) {
	s, clock, tr := newTestSequencer(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.PlayAgentMessage(context.Background(), "hello", 300*time.Millisecond)
	}()

	require.True(t, clock.BlockUntilWaiters(1, time.Second))
	clock.Advance(300 * time.Millisecond)

	require.NoError(t, <-errCh)
	last, ok := tr.Last()
	require.True(t, ok)
	assert.Equal(t, "hello", last.Text)
	assert.Equal(t, clock.Now(), last.At)
}

func TestPlayUserReplyIsSynchronous(t *testing.T) {
	s, _, tr := newTestSequencer(t)

	s.PlayUserReply("Generate Leads")

	last, ok := tr.Last()
	require.True(t, ok)
	assert.Equal(t, session.SpeakerUser, last.Speaker)
	assert.True(t, s.Idle())
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestStopDropsQueuedUtterances(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	tr := session.NewTranscript()
	s := New(clock, tr, nil)
	s.Start()

	s.Enqueue(Utterance{Text: "never", Delay: time.Hour})
	require.True(t, clock.BlockUntilWaiters(1, time.Second))
	s.Stop()

	assert.Equal(t, 0, tr.Len())
	assert.ErrorIs(t, s.WaitIdle(context.Background()), ErrStopped)
	assert.ErrorIs(t, s.PlayAgentMessage(context.Background(), "late", 0), ErrStopped)
}

func TestStopWithoutStart(t *testing.T) {
	s := New(nil, session.NewTranscript(), nil)
	s.Stop()
	s.Stop()
}

func TestWaitIdleHonoursContext(t *testing.T) {
	s, _, _ := newTestSequencer(t)
	s.Enqueue(Utterance{Text: "slow", Delay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitIdle(ctx), context.DeadlineExceeded)
}

func TestObserversSeeEveryTransition(t *testing.T) {
	s, _, _ := newTestSequencer(t)

	var mu sync.Mutex
	var kinds []EventKind
	s.OnEvent(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, ev.Kind)
	})

	<-s.Enqueue(Utterance{Text: "x"})
	require.NoError(t, s.WaitIdle(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, []EventKind{EventTyping, EventAppended, EventIdle}, kinds)
}
