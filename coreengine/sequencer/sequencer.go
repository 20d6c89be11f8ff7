// Package sequencer plays scripted agent utterances one at a time.
//
// A single worker goroutine consumes a FIFO of speak commands. For each one it
// enters the typing state, waits the command's delay on the injected Clock,
// appends the utterance to the transcript and moves on. Input is ready only
// while the queue is empty and nothing is in flight.
package sequencer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
)

// ErrStopped is returned by blocking calls once the sequencer has been stopped.
var ErrStopped = errors.New("sequencer stopped")

// Logger interface for sequencer diagnostics.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Utterance is one scripted agent message and the typing delay before it.
type Utterance struct {
	Text  string
	Delay time.Duration
}

// EventKind describes a sequencer state change.
type EventKind string

const (
	// EventTyping fires when an utterance enters the typing state.
	EventTyping EventKind = "typing"
	// EventAppended fires after any transcript append.
	EventAppended EventKind = "appended"
	// EventIdle fires when the queue drains.
	EventIdle EventKind = "idle"
)

// Event is delivered to observers after the state change has happened.
type Event struct {
	Kind  EventKind
	Entry session.Entry
}

type command struct {
	utterance Utterance
	played    chan struct{}
}

// Sequencer serialises agent utterances into a transcript.
type Sequencer struct {
	clock      commbus.Clock
	transcript *session.Transcript
	logger     Logger

	mu        sync.Mutex
	queue     []command
	pending   int
	typing    bool
	started   bool
	idle      chan struct{}
	observers []func(Event)

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a stopped sequencer writing into transcript.
func New(clock commbus.Clock, transcript *session.Transcript, logger Logger) *Sequencer {
	if clock == nil {
		clock = commbus.SystemClock{}
	}
	if logger == nil {
		logger = commbus.NopLogger{}
	}
	idle := make(chan struct{})
	close(idle)
	return &Sequencer{
		clock:      clock,
		transcript: transcript,
		logger:     logger,
		idle:       idle,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the worker. Calling it again has no effect.
func (s *Sequencer) Start() {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		go s.run()
	})
}

// Stop halts the worker and drops any queued utterances.
func (s *Sequencer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

// OnEvent registers an observer. Observers run on the goroutine that caused
// the change and must not block.
func (s *Sequencer) OnEvent(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// =============================================================================
// PLAYBACK
// =============================================================================

// Enqueue appends utterances to the FIFO and returns a channel closed once the
// last of them has been appended to the transcript.
func (s *Sequencer) Enqueue(utterances ...Utterance) <-chan struct{} {
	if len(utterances) == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}

	s.mu.Lock()
	if s.pending == 0 {
		s.idle = make(chan struct{})
	}
	var last chan struct{}
	for _, u := range utterances {
		last = make(chan struct{})
		s.queue = append(s.queue, command{utterance: u, played: last})
		s.pending++
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return last
}

// PlayAgentMessage queues one utterance and waits until it has been appended.
func (s *Sequencer) PlayAgentMessage(ctx context.Context, text string, delay time.Duration) error {
	played := s.Enqueue(Utterance{Text: text, Delay: delay})
	select {
	case <-played:
		return nil
	case <-s.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PlayUserReply appends a user entry immediately.
func (s *Sequencer) PlayUserReply(text string) {
	entry := session.Entry{Speaker: session.SpeakerUser, Text: text, At: s.clock.Now()}
	s.transcript.Append(entry)
	s.notify(Event{Kind: EventAppended, Entry: entry})
}

// =============================================================================
// STATUS
// =============================================================================

// Idle reports whether nothing is queued or in flight.
func (s *Sequencer) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending == 0
}

// Typing reports whether an utterance is in its delay.
func (s *Sequencer) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// Pending returns the number of utterances queued or in flight.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// WaitIdle blocks until the queue drains.
func (s *Sequencer) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-s.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// WORKER
// =============================================================================

func (s *Sequencer) run() {
	defer close(s.done)
	for {
		cmd, ok := s.next()
		if !ok {
			return
		}
		if !s.play(cmd) {
			return
		}
	}
}

func (s *Sequencer) next() (command, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			cmd := s.queue[0]
			s.queue[0] = command{}
			s.queue = s.queue[1:]
			s.typing = true
			s.mu.Unlock()
			return cmd, true
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.stop:
			return command{}, false
		}
	}
}

func (s *Sequencer) play(cmd command) bool {
	s.notify(Event{Kind: EventTyping})

	if d := cmd.utterance.Delay; d > 0 {
		select {
		case <-s.clock.After(d):
		case <-s.stop:
			s.logger.Debug("sequencer_stopped_mid_utterance", "pending", s.Pending())
			return false
		}
	}

	entry := session.Entry{Speaker: session.SpeakerAgent, Text: cmd.utterance.Text, At: s.clock.Now()}
	s.transcript.Append(entry)

	s.mu.Lock()
	s.typing = false
	s.pending--
	drained := s.pending == 0
	if drained {
		close(s.idle)
	}
	s.mu.Unlock()

	close(cmd.played)
	s.notify(Event{Kind: EventAppended, Entry: entry})
	if drained {
		s.notify(Event{Kind: EventIdle})
	}
	return true
}

func (s *Sequencer) notify(ev Event) {
	s.mu.Lock()
	observers := make([]func(Event), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
}
