// Package firebase implements the identity, profile, and completion-flag
// collaborators on Firebase Authentication and the Realtime Database.
//
// Layout under the users path (default "users"):
//
//	users/<uid>/display_name
//	users/<uid>/business_name
//	users/<uid>/service_phone
//	users/<uid>/onboarding_complete   written once, true
package firebase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	fb "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
)

// Logger interface for adapter logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DefaultUsersPath is the database path that holds user records.
const DefaultUsersPath = "users"

// CompletionField is the child written when onboarding finishes.
const CompletionField = "onboarding_complete"

// ErrInvalidUserID is returned for ids that cannot be used as database keys.
var ErrInvalidUserID = errors.New("invalid user id")

// Config selects the Firebase project.
type Config struct {
	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string
	DatabaseURL     string
	ProjectID       string
	UsersPath       string
}

// Connector holds the initialised Firebase app and its adapters.
type Connector struct {
	app      *fb.App
	Identity *IdentityProvider
	Store    *Store
}

// NewConnector initialises the Firebase app and its auth and database clients.
func NewConnector(ctx context.Context, cfg Config, logger Logger) (*Connector, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("firebase database url is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := fb.NewApp(ctx, &fb.Config{
		DatabaseURL: cfg.DatabaseURL,
		ProjectID:   cfg.ProjectID,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("get auth client: %w", err)
	}

	dbClient, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("get database client: %w", err)
	}

	return &Connector{
		app:      app,
		Identity: NewIdentityProvider(authClient, logger),
		Store:    NewStore(RealtimeDatabase(dbClient), cfg.UsersPath, logger),
	}, nil
}

// =============================================================================
// IDENTITY
// =============================================================================

// TokenVerifier verifies Firebase ID tokens. Implemented by *auth.Client.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// IdentityProvider resolves the caller from a Firebase ID token.
type IdentityProvider struct {
	verifier TokenVerifier
	logger   Logger
}

var _ commbus.IdentityProvider = (*IdentityProvider)(nil)

// NewIdentityProvider creates an IdentityProvider.
func NewIdentityProvider(verifier TokenVerifier, logger Logger) *IdentityProvider {
	if logger == nil {
		logger = commbus.NopLogger{}
	}
	return &IdentityProvider{verifier: verifier, logger: logger}
}

// CurrentIdentity verifies token. Missing, malformed, expired, or revoked
// tokens yield commbus.ErrUnauthenticated; failing to fetch signing keys
// is returned as an ordinary error.
func (p *IdentityProvider) CurrentIdentity(ctx context.Context, token string) (commbus.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return commbus.Identity{}, commbus.ErrUnauthenticated
	}

	tok, err := p.verifier.VerifyIDToken(ctx, token)
	if err != nil {
		if auth.IsCertificateFetchFailed(err) {
			return commbus.Identity{}, fmt.Errorf("verify id token: %w", err)
		}
		p.logger.Debug("id_token_rejected", "error", err.Error())
		return commbus.Identity{}, fmt.Errorf("%w: %v", commbus.ErrUnauthenticated, err)
	}
	if tok == nil || tok.UID == "" {
		return commbus.Identity{}, commbus.ErrUnauthenticated
	}

	id := commbus.Identity{UserID: tok.UID}
	if email, ok := tok.Claims["email"].(string); ok {
		id.Email = email
	}
	return id, nil
}

// =============================================================================
// STORE
// =============================================================================

// Database is the subset of Realtime Database operations the store needs.
type Database interface {
	Get(ctx context.Context, path string, v any) error
	Set(ctx context.Context, path string, v any) error
}

type realtimeDatabase struct {
	client *db.Client
}

// RealtimeDatabase adapts a *db.Client to Database.
func RealtimeDatabase(client *db.Client) Database {
	return realtimeDatabase{client: client}
}

func (r realtimeDatabase) Get(ctx context.Context, path string, v any) error {
	return r.client.NewRef(path).Get(ctx, v)
}

func (r realtimeDatabase) Set(ctx context.Context, path string, v any) error {
	return r.client.NewRef(path).Set(ctx, v)
}

// profileRecord is the stored shape of a user record.
type profileRecord struct {
	DisplayName        string `json:"display_name"`
	BusinessName       string `json:"business_name"`
	ServicePhone       string `json:"service_phone"`
	OnboardingComplete bool   `json:"onboarding_complete"`
}

// Store reads profiles and writes the completion flag.
type Store struct {
	db        Database
	usersPath string
	logger    Logger
}

var (
	_ commbus.ProfileReader = (*Store)(nil)
	_ commbus.RecordStore   = (*Store)(nil)
)

// NewStore creates a Store rooted at usersPath.
func NewStore(database Database, usersPath string, logger Logger) *Store {
	if usersPath == "" {
		usersPath = DefaultUsersPath
	}
	if logger == nil {
		logger = commbus.NopLogger{}
	}
	return &Store{
		db:        database,
		usersPath: strings.Trim(usersPath, "/"),
		logger:    logger,
	}
}

// ReadProfile reads the prefill fields. A missing record is an empty profile.
func (s *Store) ReadProfile(ctx context.Context, userID string) (commbus.Profile, error) {
	path, err := s.userPath(userID)
	if err != nil {
		return commbus.Profile{}, err
	}

	var rec profileRecord
	if err := s.db.Get(ctx, path, &rec); err != nil {
		return commbus.Profile{}, fmt.Errorf("read profile %s: %w", userID, err)
	}

	s.logger.Debug("profile_read", "user_id", userID, "has_business_name", rec.BusinessName != "")
	return commbus.Profile{
		DisplayName:  rec.DisplayName,
		BusinessName: rec.BusinessName,
		ServicePhone: rec.ServicePhone,
	}, nil
}

// MarkOnboardingComplete writes the completion flag. It touches no other field.
func (s *Store) MarkOnboardingComplete(ctx context.Context, userID string) error {
	path, err := s.userPath(userID)
	if err != nil {
		return err
	}
	if err := s.db.Set(ctx, path+"/"+CompletionField, true); err != nil {
		return fmt.Errorf("write %s for %s: %w", CompletionField, userID, err)
	}
	s.logger.Info("onboarding_flag_written", "user_id", userID)
	return nil
}

// OnboardingComplete reports whether the flag is set.
func (s *Store) OnboardingComplete(ctx context.Context, userID string) (bool, error) {
	path, err := s.userPath(userID)
	if err != nil {
		return false, err
	}
	var done bool
	if err := s.db.Get(ctx, path+"/"+CompletionField, &done); err != nil {
		return false, fmt.Errorf("read %s for %s: %w", CompletionField, userID, err)
	}
	return done, nil
}

func (s *Store) userPath(userID string) (string, error) {
	if userID == "" || strings.ContainsAny(userID, ".#$[]/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return s.usersPath + "/" + userID, nil
}
