package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/onboarding/adapters/firebase"
	"github.com/jeeves-cluster-organization/onboarding/adapters/memory"
	"github.com/jeeves-cluster-organization/onboarding/adapters/webhook"
	"github.com/jeeves-cluster-organization/onboarding/commbus"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/config"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/finalizer"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/kernel"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/observability"
)

// Build information, set with -ldflags.
var (
	version = "dev"
	commit  = "none"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	fixtures   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "onboardd",
		Short: "Conversational onboarding service",
		Long: `onboardd hosts the scripted onboarding conversation that collects a
business configuration, submits it once to the automation webhook and marks
the user as onboarded.

Configuration comes from an optional YAML file and ONBOARDING_* environment
variables. Without Firebase settings, users come from --fixtures or a
single demo user with token "demo".`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	pf.StringVar(&opts.logLevel, "log-level", "", "Override log_level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", "", "Override log_format (console, json)")
	pf.StringVar(&opts.fixtures, "fixtures", "", "YAML user fixtures for the in-memory backend")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newReplayCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func (o *rootOptions) loadConfig() (*config.OnboardingConfig, error) {
	cfg, err := config.Load(o.configPath, os.Environ())
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.OnboardingConfig, w io.Writer) *observability.ZerologLogger {
	return observability.NewZerologLogger(w, cfg.LogLevel, cfg.LogFormat).With("service", cfg.ServiceName)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

type collaborators struct {
	identity commbus.IdentityProvider
	profiles commbus.ProfileReader
	store    commbus.RecordStore
	webhook  commbus.AutomationWebhook
	// backend is set when users live in memory.
	backend *memory.Backend
}

func (o *rootOptions) buildCollaborators(
	ctx context.Context,
	cfg *config.OnboardingConfig,
	logger *observability.ZerologLogger,
) (*collaborators, error) {
	c := &collaborators{}

	if cfg.FirebaseDatabaseURL != "" {
		conn, err := firebase.NewConnector(ctx, firebase.Config{
			CredentialsFile: cfg.FirebaseCredentialsFile,
			DatabaseURL:     cfg.FirebaseDatabaseURL,
			ProjectID:       cfg.FirebaseProjectID,
			UsersPath:       cfg.FirebaseUsersPath,
		}, logger.With("component", "firebase"))
		if err != nil {
			return nil, err
		}
		c.identity, c.profiles, c.store = conn.Identity, conn.Store, conn.Store
		logger.Info("collaborators_configured", "backend", "firebase", "users_path", cfg.FirebaseUsersPath)
	} else {
		var fixtures *memory.Fixtures
		if o.fixtures != "" {
			f, err := memory.LoadFixtures(o.fixtures)
			if err != nil {
				return nil, err
			}
			fixtures = f
		}
		c.backend = memory.NewBackend(fixtures, logger.With("component", "memory"))
		c.identity, c.profiles, c.store = c.backend.Identity, c.backend.Store, c.backend.Store
		logger.Info("collaborators_configured", "backend", "memory", "fixtures", o.fixtures)
	}

	switch {
	case cfg.WebhookURL != "":
		c.webhook = webhook.New(cfg.WebhookURL,
			webhook.WithTimeout(cfg.WebhookTimeout()),
			webhook.WithLogger(logger.With("component", "webhook")),
		)
	case c.backend != nil:
		c.webhook = c.backend.Webhook
	default:
		c.webhook = memory.NewWebhook(logger.With("component", "webhook"))
	}
	return c, nil
}

// newEngine wires the bus, finalizer and kernel over c.
func newEngine(
	cfg *config.OnboardingConfig,
	c *collaborators,
	logger *observability.ZerologLogger,
) (*kernel.Kernel, *commbus.InMemoryCommBus, error) {
	bus := commbus.NewInMemoryCommBus(5*time.Second, commbus.WithBusLogger(logger))
	muted := commbus.NewMutedSessionsMiddleware(cfg.SessionIdleTTL(), commbus.SystemClock{})
	bus.AddMiddleware(muted)
	bus.AddMiddleware(commbus.NewLoggingMiddleware(logger))

	fin := finalizer.New(c.webhook, c.store,
		finalizer.WithBus(bus),
		finalizer.WithLogger(logger.With("component", "finalizer")),
		finalizer.WithTimeout(cfg.WebhookTimeout()),
		finalizer.WithRequireSubmission(cfg.RequireSubmissionForCompletion),
	)
	k := kernel.NewKernel(cfg, c.identity, c.profiles, fin,
		kernel.WithLogger(logger.With("component", "kernel")),
		kernel.WithBus(bus),
		kernel.WithMutedSessions(muted),
	)
	if err := k.RegisterHandlers(bus); err != nil {
		return nil, nil, fmt.Errorf("register kernel handlers: %w", err)
	}
	return k, bus, nil
}
