// Package memory provides process-local collaborators for local runs and
// demos. Nothing here survives a restart.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
)

// Logger interface for adapter logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// =============================================================================
// FIXTURES
// =============================================================================

// User is one seeded account.
type User struct {
	Token        string `yaml:"token"`
	UserID       string `yaml:"user_id"`
	Email        string `yaml:"email"`
	DisplayName  string `yaml:"display_name"`
	BusinessName string `yaml:"business_name"`
	ServicePhone string `yaml:"service_phone"`
}

// Fixtures is the YAML seed file shape.
type Fixtures struct {
	Users []User `yaml:"users"`
}

// ParseFixtures decodes and checks a fixture document.
func ParseFixtures(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	seen := make(map[string]bool, len(f.Users))
	for i, u := range f.Users {
		if u.Token == "" || u.UserID == "" {
			return nil, fmt.Errorf("fixture user %d: token and user_id are required", i)
		}
		if seen[u.Token] {
			return nil, fmt.Errorf("fixture user %d: duplicate token", i)
		}
		seen[u.Token] = true
	}
	return &f, nil
}

// LoadFixtures reads a fixture file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// DemoUser is seeded by NewBackend when no fixtures are given.
var DemoUser = User{
	Token:        "demo",
	UserID:       "demo-user",
	Email:        "demo@example.com",
	DisplayName:  "Demo",
	BusinessName: "Demo Studio",
	ServicePhone: "5550100",
}

// Backend bundles the in-memory collaborators over one user set.
type Backend struct {
	Identity *IdentityProvider
	Store    *Store
	Webhook  *Webhook
}

// NewBackend seeds a backend from fixtures, or the demo user when f is nil.
func NewBackend(f *Fixtures, logger Logger) *Backend {
	users := []User{DemoUser}
	if f != nil {
		users = f.Users
	}
	b := &Backend{
		Identity: NewIdentityProvider(),
		Store:    NewStore(),
		Webhook:  NewWebhook(logger),
	}
	for _, u := range users {
		b.Identity.Add(u.Token, commbus.Identity{UserID: u.UserID, Email: u.Email})
		b.Store.PutProfile(u.UserID, commbus.Profile{
			DisplayName:  u.DisplayName,
			BusinessName: u.BusinessName,
			ServicePhone: u.ServicePhone,
		})
	}
	return b
}

// =============================================================================
// IDENTITY
// =============================================================================

// IdentityProvider maps opaque tokens to identities.
type IdentityProvider struct {
	mu     sync.RWMutex
	tokens map[string]commbus.Identity
}

// NewIdentityProvider creates an empty provider.
func NewIdentityProvider() *IdentityProvider {
	return &IdentityProvider{tokens: make(map[string]commbus.Identity)}
}

// Add registers token for id.
func (p *IdentityProvider) Add(token string, id commbus.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[token] = id
}

// Revoke forgets token.
func (p *IdentityProvider) Revoke(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, token)
}

// CurrentIdentity implements commbus.IdentityProvider.
func (p *IdentityProvider) CurrentIdentity(ctx context.Context, token string) (commbus.Identity, error) {
	token = strings.TrimSpace(token)
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.tokens[token]
	if token == "" || !ok {
		return commbus.Identity{}, commbus.ErrUnauthenticated
	}
	return id, nil
}

// =============================================================================
// STORE
// =============================================================================

// Store keeps profiles and completion flags.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]commbus.Profile
	complete map[string]bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		profiles: make(map[string]commbus.Profile),
		complete: make(map[string]bool),
	}
}

// PutProfile sets the profile for userID.
func (s *Store) PutProfile(userID string, p commbus.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = p
}

// ReadProfile implements commbus.ProfileReader. Unknown users read as empty.
func (s *Store) ReadProfile(ctx context.Context, userID string) (commbus.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[userID], nil
}

// MarkOnboardingComplete implements commbus.RecordStore.
func (s *Store) MarkOnboardingComplete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete[userID] = true
	return nil
}

// OnboardingComplete reports the flag for userID.
func (s *Store) OnboardingComplete(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complete[userID]
}

// =============================================================================
// WEBHOOK
// =============================================================================

// Webhook records payloads and logs them instead of posting.
type Webhook struct {
	mu       sync.Mutex
	payloads []json.RawMessage
	logger   Logger
}

// NewWebhook creates a recording webhook.
func NewWebhook(logger Logger) *Webhook {
	if logger == nil {
		logger = commbus.NopLogger{}
	}
	return &Webhook{logger: logger}
}

// Submit implements commbus.AutomationWebhook.
func (w *Webhook) Submit(ctx context.Context, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	w.mu.Lock()
	w.payloads = append(w.payloads, raw)
	w.mu.Unlock()

	w.logger.Info("webhook_recorded", "bytes", len(raw))
	return nil
}

// Payloads returns the recorded bodies in submit order.
func (w *Webhook) Payloads() []json.RawMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]json.RawMessage(nil), w.payloads...)
}

var (
	_ commbus.IdentityProvider  = (*IdentityProvider)(nil)
	_ commbus.ProfileReader     = (*Store)(nil)
	_ commbus.RecordStore       = (*Store)(nil)
	_ commbus.AutomationWebhook = (*Webhook)(nil)
)
