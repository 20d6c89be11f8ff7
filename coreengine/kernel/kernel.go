// Package kernel hosts onboarding sessions.
//
// The Kernel composes:
//   - an IdentityProvider gate (no identity, no wizard)
//   - a RateLimiter on session starts (sliding window)
//   - a ProfileReader consulted once per session
//   - the session registry with idle cleanup
//
// Each session is a wizard.Wizard that exclusively owns its state.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/config"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/wizard"
)

// EndpointStartSession is the rate limiter endpoint for session starts.
const EndpointStartSession = "start_session"

// Discard reasons.
const (
	ReasonClient   = "client"
	ReasonIdle     = "idle"
	ReasonShutdown = "shutdown"
)

// Kernel is the session registry.
//
// Usage:
//
//	k := NewKernel(cfg, identity, profiles, fin, WithLogger(logger), WithBus(bus))
//	w, err := k.StartSession(ctx, token)
//	var redirect *RedirectError
//	if errors.As(err, &redirect) {
//	    // send the client to redirect.Target
//	}
type Kernel struct {
	cfg       *config.OnboardingConfig
	logger    Logger
	identity  commbus.IdentityProvider
	profiles  commbus.ProfileReader
	finalizer wizard.Finalizer
	bus       commbus.CommBus
	muted     *commbus.MutedSessionsMiddleware
	clock     commbus.Clock
	newID     func() string

	rateLimiter *RateLimiter

	sessions map[string]*wizard.Wizard
	closing  bool
	mu       sync.RWMutex

	eventHandlers []KernelEventHandler
	eventMu       sync.RWMutex

	startedAt time.Time
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(k *Kernel) { k.logger = l }
}

// WithBus sets the bus that wizards publish to.
func WithBus(b commbus.CommBus) Option {
	return func(k *Kernel) { k.bus = b }
}

// WithMutedSessions silences bus events of discarded sessions through m.
// m must also be installed on the bus.
func WithMutedSessions(m *commbus.MutedSessionsMiddleware) Option {
	return func(k *Kernel) { k.muted = m }
}

// WithClock sets the clock for wizards, rate limiting and cleanup.
func WithClock(c commbus.Clock) Option {
	return func(k *Kernel) { k.clock = c }
}

// WithIDGenerator replaces uuid session ids.
func WithIDGenerator(fn func() string) Option {
	return func(k *Kernel) { k.newID = fn }
}

// NewKernel creates a kernel. fin may be nil, in which case each wizard uses
// a finalizer without collaborators.
func NewKernel(
	cfg *config.OnboardingConfig,
	identity commbus.IdentityProvider,
	profiles commbus.ProfileReader,
	fin wizard.Finalizer,
	opts ...Option,
) *Kernel {
	if cfg == nil {
		cfg = config.GetOnboardingConfig()
	}
	k := &Kernel{
		cfg:       cfg,
		logger:    commbus.NopLogger{},
		identity:  identity,
		profiles:  profiles,
		finalizer: fin,
		clock:     commbus.SystemClock{},
		newID:     uuid.NewString,
		sessions:  make(map[string]*wizard.Wizard),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.rateLimiter = NewRateLimiter(&RateLimitConfig{
		RequestsPerMinute: cfg.StartRequestsPerMinute,
		RequestsPerHour:   cfg.StartRequestsPerHour,
	}, k.clock)
	k.startedAt = k.clock.Now().UTC()

	k.logger.Info("kernel_initialized",
		"session_idle_ttl", cfg.SessionIdleTTL().String(),
		"start_requests_per_minute", cfg.StartRequestsPerMinute,
	)
	return k
}

// RateLimiter returns the session start limiter.
func (k *Kernel) RateLimiter() *RateLimiter { return k.rateLimiter }

// Config returns the configuration sessions are built with.
func (k *Kernel) Config() *config.OnboardingConfig { return k.cfg }

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// Authenticate resolves token to a user id. A missing identity yields a
// *RedirectError to the login path.
func (k *Kernel) Authenticate(ctx context.Context, token string) (string, error) {
	if k.identity == nil {
		return "", &RedirectError{Target: k.cfg.LoginPath, Err: commbus.ErrUnauthenticated}
	}
	id, err := k.identity.CurrentIdentity(ctx, token)
	if errors.Is(err, commbus.ErrUnauthenticated) || (err == nil && id.UserID == "") {
		return "", &RedirectError{Target: k.cfg.LoginPath, Err: commbus.ErrUnauthenticated}
	}
	if err != nil {
		return "", fmt.Errorf("resolve identity: %w", err)
	}
	return id.UserID, nil
}

// StartSession authenticates the caller, reads their profile once, and
// starts a new wizard. No message is sequenced unless authentication passes.
func (k *Kernel) StartSession(ctx context.Context, token string) (*wizard.Wizard, error) {
	k.mu.RLock()
	closing := k.closing
	k.mu.RUnlock()
	if closing {
		return nil, ErrShuttingDown
	}

	userID, err := k.Authenticate(ctx, token)
	if err != nil {
		k.logger.Info("session_start_rejected", "error", err.Error())
		return nil, err
	}

	if res := k.rateLimiter.CheckRateLimit(userID, EndpointStartSession, true); !res.Allowed {
		k.emitEvent(&KernelEvent{
			EventType: KernelEventRateLimited,
			UserID:    userID,
			Timestamp: k.clock.Now().UTC(),
			Data:      map[string]any{"limit_type": res.LimitType, "retry_after": res.RetryAfter.String()},
		})
		k.logger.Warn("session_start_rate_limited", "user_id", userID, "limit_type", res.LimitType)
		return nil, &RateLimitedError{Result: res}
	}

	prefill := k.readPrefill(ctx, userID)
	st := session.NewState(k.newID(), userID, prefill, k.clock.Now().UTC())

	opts := []wizard.Option{
		wizard.WithClock(k.clock),
		wizard.WithLogger(k.logger),
	}
	if k.bus != nil {
		opts = append(opts, wizard.WithBus(k.bus))
	}
	if k.finalizer != nil {
		opts = append(opts, wizard.WithFinalizer(k.finalizer))
	}
	w := wizard.New(k.cfg, st, opts...)

	k.mu.Lock()
	if k.closing {
		k.mu.Unlock()
		return nil, ErrShuttingDown
	}
	k.sessions[st.SessionID] = w
	k.mu.Unlock()

	if err := w.Start(ctx); err != nil {
		k.remove(st.SessionID)
		return nil, fmt.Errorf("start wizard: %w", err)
	}

	k.emitEvent(&KernelEvent{
		EventType: KernelEventSessionCreated,
		SessionID: st.SessionID,
		UserID:    userID,
		Timestamp: st.CreatedAt,
	})
	go k.watchCompletion(w)

	k.logger.Info("session_started", "session_id", st.SessionID, "user_id", userID)
	return w, nil
}

func (k *Kernel) readPrefill(ctx context.Context, userID string) session.Prefill {
	if k.profiles == nil {
		return session.Prefill{}
	}
	p, err := k.profiles.ReadProfile(ctx, userID)
	if err != nil {
		k.logger.Warn("profile_read_failed", "user_id", userID, "error", err.Error())
		return session.Prefill{}
	}
	return session.Prefill{
		DisplayName:  p.DisplayName,
		BusinessName: p.BusinessName,
		ServicePhone: p.ServicePhone,
	}
}

func (k *Kernel) watchCompletion(w *wizard.Wizard) {
	<-w.Finished()
	data := map[string]any{}
	if out := w.Outcome(); out != nil {
		data["submission_status"] = string(out.Submission.Status)
		data["flag_persisted"] = out.FlagPersisted
	}
	k.emitEvent(&KernelEvent{
		EventType: KernelEventSessionCompleted,
		SessionID: w.SessionID(),
		UserID:    w.UserID(),
		Timestamp: k.clock.Now().UTC(),
		Data:      data,
	})
}

// Session returns a hosted wizard.
func (k *Kernel) Session(sessionID string) (*wizard.Wizard, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	w, ok := k.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return w, nil
}

// Authorize authenticates token and returns the session if the caller owns it.
// Foreign sessions are reported as not found.
func (k *Kernel) Authorize(ctx context.Context, token, sessionID string) (*wizard.Wizard, error) {
	userID, err := k.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	w, err := k.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if w.UserID() != userID {
		return nil, ErrSessionNotFound
	}
	return w, nil
}

// Discard destroys a session without side effects. A finalization already in
// flight completes, but its remaining events are muted.
func (k *Kernel) Discard(ctx context.Context, sessionID, reason string) error {
	w := k.remove(sessionID)
	if w == nil {
		return ErrSessionNotFound
	}
	step := w.Step()
	w.Close()

	if k.bus != nil {
		if err := k.bus.Publish(ctx, &commbus.SessionDiscarded{
			SessionID: sessionID,
			UserID:    w.UserID(),
			Step:      int(step),
			Reason:    reason,
		}); err != nil {
			k.logger.Warn("publish_failed", "event", "SessionDiscarded", "error", err.Error())
		}
	}
	if k.muted != nil {
		k.muted.Mute(sessionID)
	}

	k.emitEvent(&KernelEvent{
		EventType: KernelEventSessionDiscarded,
		SessionID: sessionID,
		UserID:    w.UserID(),
		Timestamp: k.clock.Now().UTC(),
		Data:      map[string]any{"reason": reason, "step": step.String()},
	})
	k.logger.Info("session_discarded", "session_id", sessionID, "reason", reason, "step", step.String())
	return nil
}

func (k *Kernel) remove(sessionID string) *wizard.Wizard {
	k.mu.Lock()
	defer k.mu.Unlock()
	w, ok := k.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(k.sessions, sessionID)
	return w
}

// ListSessions returns hosted sessions, optionally filtered by user,
// ordered by last activity (most recent first).
func (k *Kernel) ListSessions(userID string) []SessionInfo {
	k.mu.RLock()
	wizards := make([]*wizard.Wizard, 0, len(k.sessions))
	for _, w := range k.sessions {
		if userID == "" || w.UserID() == userID {
			wizards = append(wizards, w)
		}
	}
	k.mu.RUnlock()

	out := make([]SessionInfo, 0, len(wizards))
	for _, w := range wizards {
		step := w.Step()
		out = append(out, SessionInfo{
			SessionID:    w.SessionID(),
			UserID:       w.UserID(),
			Step:         step,
			Done:         step.IsTerminal(),
			LastActivity: w.LastActivity(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out
}

// SessionCount returns the number of hosted sessions.
func (k *Kernel) SessionCount() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.sessions)
}

// Shutdown discards every session and rejects new ones.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	k.closing = true
	ids := make([]string, 0, len(k.sessions))
	for id := range k.sessions {
		ids = append(ids, id)
	}
	k.mu.Unlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = k.Discard(ctx, id, ReasonShutdown)
	}
	k.logger.Info("kernel_shutdown", "sessions_discarded", len(ids), "uptime", k.clock.Now().Sub(k.startedAt).String())
	return nil
}

// =============================================================================
// EVENTS
// =============================================================================

// AddEventHandler registers a handler for kernel events.
func (k *Kernel) AddEventHandler(h KernelEventHandler) {
	k.eventMu.Lock()
	defer k.eventMu.Unlock()
	k.eventHandlers = append(k.eventHandlers, h)
}

func (k *Kernel) emitEvent(ev *KernelEvent) {
	k.eventMu.RLock()
	handlers := make([]KernelEventHandler, len(k.eventHandlers))
	copy(handlers, k.eventHandlers)
	k.eventMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
