package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/grpc"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/kernel"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/tui"
)

type chatOptions struct {
	token   string
	remote  string
	logFile string
	poll    time.Duration
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run an onboarding session in the terminal",
		Long: `chat runs one onboarding session in the terminal. By default the session
is hosted in-process against the configured collaborators; with --remote it
is started on a running onboardd serve.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.remote != "" {
				return runRemoteChat(cmd, opts)
			}
			return runLocalChat(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.token, "token", "demo", "Identity token of the user onboarding")
	cmd.Flags().StringVar(&opts.remote, "remote", "", "Address of a running onboardd serve")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "Write logs here instead of discarding them")
	cmd.Flags().DurationVar(&opts.poll, "poll", tui.DefaultPollInterval, "Snapshot refresh interval")
	return cmd
}

func runLocalChat(cmd *cobra.Command, root *rootOptions, opts *chatOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	logOut := io.Discard
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := newLogger(cfg, logOut)

	ctx := cmd.Context()
	deps, err := root.buildCollaborators(ctx, cfg, logger)
	if err != nil {
		return err
	}
	k, _, err := newEngine(cfg, deps, logger)
	if err != nil {
		return err
	}
	defer func() { _ = k.Shutdown(context.Background()) }()

	w, err := k.StartSession(ctx, opts.token)
	var redirect *kernel.RedirectError
	if errors.As(err, &redirect) {
		return fmt.Errorf("not signed in, go to %s", redirect.Target)
	}
	if err != nil {
		return err
	}

	target, err := tui.Run(ctx, tui.Local(w), []tui.Option{tui.WithPollInterval(opts.poll)})
	if err != nil {
		return err
	}
	return printExit(cmd, target)
}

func runRemoteChat(cmd *cobra.Command, opts *chatOptions) error {
	client, conn, err := grpc.Dial(opts.remote, opts.token)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.remote, err)
	}
	defer conn.Close()

	ctx := cmd.Context()
	resp, err := client.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	rs := client.Session(resp.Session.SessionID)

	target, err := tui.Run(ctx, rs, []tui.Option{tui.WithPollInterval(opts.poll)})
	if err != nil {
		return err
	}
	if target == "" {
		discardCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rs.Discard(discardCtx)
	}
	return printExit(cmd, target)
}

func printExit(cmd *cobra.Command, target string) error {
	if target == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "Session closed before finishing.")
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Onboarding complete. Continue at %s\n", target)
	return err
}
