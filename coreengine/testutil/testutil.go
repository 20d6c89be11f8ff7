// Package testutil provides shared test utilities and mocks.
//
// All mocks in this package implement the collaborator protocols from
// commbus so that coreengine components can be tested without Firebase,
// a webhook endpoint, or real time.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
)

// =============================================================================
// FAKE CLOCK
// =============================================================================

// FakeClock is a commbus.Clock whose time only moves when Advance is called.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []clockWaiter
}

type clockWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFakeClock creates a FakeClock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that fires once the clock has been advanced by d.
// Non-positive durations fire immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, clockWaiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves time forward and fires every waiter whose deadline passed.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.now) {
			w.ch <- c.now
			continue
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
}

// Waiters returns the number of pending After calls.
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// BlockUntilWaiters waits until at least n After calls are pending.
// It returns false if that does not happen within timeout.
func (c *FakeClock) BlockUntilWaiters(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Waiters() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return c.Waiters() >= n
}

// =============================================================================
// MOCK LOGGER
// =============================================================================

// LogEntry is one captured log call.
type LogEntry struct {
	Level  string
	Msg    string
	Fields map[string]any
}

// MockLogger captures log calls for assertion.
type MockLogger struct {
	mu      sync.Mutex
	Entries []LogEntry
}

// NewMockLogger creates an empty MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (l *MockLogger) log(level, msg string, kv []any) {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, LogEntry{Level: level, Msg: msg, Fields: fields})
}

func (l *MockLogger) Debug(msg string, kv ...any) { l.log("debug", msg, kv) }
func (l *MockLogger) Info(msg string, kv ...any)  { l.log("info", msg, kv) }
func (l *MockLogger) Warn(msg string, kv ...any)  { l.log("warn", msg, kv) }
func (l *MockLogger) Error(msg string, kv ...any) { l.log("error", msg, kv) }

// Has reports whether a message with the given name was logged.
func (l *MockLogger) Has(msg string) bool {
	_, ok := l.Find(msg)
	return ok
}

// Find returns the first entry with the given message.
func (l *MockLogger) Find(msg string) (LogEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.Entries {
		if e.Msg == msg {
			return e, true
		}
	}
	return LogEntry{}, false
}

// Count returns how many entries carry the given message.
func (l *MockLogger) Count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.Entries {
		if e.Msg == msg {
			n++
		}
	}
	return n
}

// =============================================================================
// MOCK IDENTITY PROVIDER
// =============================================================================

// MockIdentityProvider maps tokens to user ids.
type MockIdentityProvider struct {
	mu     sync.Mutex
	tokens map[string]string
	Error  error
	Calls  int
}

// NewMockIdentityProvider creates a provider that knows no tokens.
func NewMockIdentityProvider() *MockIdentityProvider {
	return &MockIdentityProvider{tokens: make(map[string]string)}
}

// WithToken registers a token for a user.
func (m *MockIdentityProvider) WithToken(token, userID string) *MockIdentityProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = userID
	return m
}

// WithError makes every lookup fail with err.
func (m *MockIdentityProvider) WithError(err error) *MockIdentityProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Error = err
	return m
}

// CurrentIdentity implements commbus.IdentityProvider.
func (m *MockIdentityProvider) CurrentIdentity(ctx context.Context, token string) (commbus.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Error != nil {
		return commbus.Identity{}, m.Error
	}
	uid, ok := m.tokens[token]
	if !ok || token == "" {
		return commbus.Identity{}, commbus.ErrUnauthenticated
	}
	return commbus.Identity{UserID: uid}, nil
}

// =============================================================================
// MOCK PROFILE READER
// =============================================================================

// MockProfileReader serves profiles from memory.
type MockProfileReader struct {
	mu       sync.Mutex
	profiles map[string]commbus.Profile
	Error    error
	Reads    map[string]int
}

// NewMockProfileReader creates an empty reader.
func NewMockProfileReader() *MockProfileReader {
	return &MockProfileReader{
		profiles: make(map[string]commbus.Profile),
		Reads:    make(map[string]int),
	}
}

// WithProfile stores a profile for the user.
func (m *MockProfileReader) WithProfile(userID string, p commbus.Profile) *MockProfileReader {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[userID] = p
	return m
}

// WithError makes every read fail.
func (m *MockProfileReader) WithError(err error) *MockProfileReader {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Error = err
	return m
}

// ReadProfile implements commbus.ProfileReader.
func (m *MockProfileReader) ReadProfile(ctx context.Context, userID string) (commbus.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reads[userID]++
	if m.Error != nil {
		return commbus.Profile{}, m.Error
	}
	return m.profiles[userID], nil
}

// ReadCount returns how many times a user's profile was read.
func (m *MockProfileReader) ReadCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Reads[userID]
}

// =============================================================================
// MOCK RECORD STORE
// =============================================================================

// MockRecordStore records completion flags.
type MockRecordStore struct {
	mu        sync.Mutex
	completed map[string]int
	Error     error
}

// NewMockRecordStore creates an empty store.
func NewMockRecordStore() *MockRecordStore {
	return &MockRecordStore{completed: make(map[string]int)}
}

// WithError makes every write fail.
func (m *MockRecordStore) WithError(err error) *MockRecordStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Error = err
	return m
}

// MarkOnboardingComplete implements commbus.RecordStore.
func (m *MockRecordStore) MarkOnboardingComplete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Error != nil {
		return m.Error
	}
	m.completed[userID]++
	return nil
}

// Writes returns how many times the flag was written for the user.
func (m *MockRecordStore) Writes(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed[userID]
}

// =============================================================================
// MOCK WEBHOOK
// =============================================================================

// MockWebhook captures submitted payloads as decoded JSON objects.
type MockWebhook struct {
	mu       sync.Mutex
	payloads []map[string]any
	Error    error
	// Block, when set, makes Submit wait until it is closed.
	Block chan struct{}
}

// NewMockWebhook creates a webhook that accepts everything.
func NewMockWebhook() *MockWebhook {
	return &MockWebhook{}
}

// WithError makes Submit fail after recording the payload.
func (m *MockWebhook) WithError(err error) *MockWebhook {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Error = err
	return m
}

// Submit implements commbus.AutomationWebhook.
func (m *MockWebhook) Submit(ctx context.Context, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}

	m.mu.Lock()
	m.payloads = append(m.payloads, decoded)
	block := m.Block
	failure := m.Error
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return failure
}

// Payloads returns every captured payload.
func (m *MockWebhook) Payloads() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, len(m.payloads))
	copy(out, m.payloads)
	return out
}

// Count returns the number of Submit calls.
func (m *MockWebhook) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads)
}

// Keys returns the sorted keys of the last payload.
func (m *MockWebhook) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.payloads) == 0 {
		return nil
	}
	last := m.payloads[len(m.payloads)-1]
	keys := make([]string, 0, len(last))
	for k := range last {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ commbus.Clock             = (*FakeClock)(nil)
	_ commbus.Logger            = (*MockLogger)(nil)
	_ commbus.IdentityProvider  = (*MockIdentityProvider)(nil)
	_ commbus.ProfileReader     = (*MockProfileReader)(nil)
	_ commbus.RecordStore       = (*MockRecordStore)(nil)
	_ commbus.AutomationWebhook = (*MockWebhook)(nil)
)
