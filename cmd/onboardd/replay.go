package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/kernel"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/wizard"
)

// replayScript is the YAML shape read by `onboardd replay`.
//
//	token: demo
//	actions:
//	  - kind: select_option
//	    value: Generate Leads
//	  - kind: attach_document
//	    document_path: menu.pdf
type replayScript struct {
	Token   string       `yaml:"token"`
	Actions []replayStep `yaml:"actions"`
}

type replayStep struct {
	wizard.Action `yaml:",inline"`
	// DocumentPath is read relative to the script file.
	DocumentPath string `yaml:"document_path"`
}

type replayOptions struct {
	instant bool
	timeout time.Duration
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay <script.yaml>",
		Short: "Run a scripted session and print the transcript and payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := loadReplayScript(args[0])
			if err != nil {
				return err
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if opts.instant {
				cfg.TypingDelayMS, cfg.ShortTypingDelayMS, cfg.RedirectDelayMS = 0, 0, 0
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			logger := newLogger(cfg, cmd.ErrOrStderr())
			deps, err := root.buildCollaborators(ctx, cfg, logger)
			if err != nil {
				return err
			}
			k, _, err := newEngine(cfg, deps, logger)
			if err != nil {
				return err
			}
			defer func() { _ = k.Shutdown(context.Background()) }()

			return runReplay(ctx, k, script, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.instant, "instant", true, "Disable typing and redirect delays")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Give up after this long")
	return cmd
}

func loadReplayScript(path string) (*replayScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay script: %w", err)
	}
	var s replayScript
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse replay script: %w", err)
	}
	if s.Token == "" {
		s.Token = "demo"
	}
	dir := filepath.Dir(path)
	for i := range s.Actions {
		step := &s.Actions[i]
		if step.Kind == "" {
			return nil, fmt.Errorf("action %d: kind is required", i+1)
		}
		if step.DocumentPath == "" {
			continue
		}
		docPath := step.DocumentPath
		if !filepath.IsAbs(docPath) {
			docPath = filepath.Join(dir, docPath)
		}
		data, err := os.ReadFile(docPath)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i+1, err)
		}
		step.DocumentData = data
		if step.DocumentName == "" {
			step.DocumentName = filepath.Base(docPath)
		}
	}
	return &s, nil
}

func runReplay(ctx context.Context, k *kernel.Kernel, script *replayScript, out io.Writer) error {
	w, err := k.StartSession(ctx, script.Token)
	var redirect *kernel.RedirectError
	if errors.As(err, &redirect) {
		return fmt.Errorf("token rejected, redirect to %s", redirect.Target)
	}
	if err != nil {
		return err
	}

	for i, step := range script.Actions {
		if err := w.WaitIdle(ctx); err != nil {
			return fmt.Errorf("action %d: %w", i+1, err)
		}
		if _, err := w.Apply(ctx, step.Action); err != nil {
			return fmt.Errorf("action %d (%s at %s): %w", i+1, step.Kind, w.Step(), err)
		}
	}

	if w.Step() == session.StepDone || w.Snapshot().Submission == session.SubmissionSubmitting {
		if err := w.WaitFinished(ctx); err != nil {
			return fmt.Errorf("wait for completion: %w", err)
		}
	} else if err := w.WaitIdle(ctx); err != nil {
		return err
	}

	snap := w.Snapshot()
	for _, e := range snap.Transcript {
		if _, err := fmt.Fprintf(out, "%-5s | %s\n", e.Speaker, e.Text); err != nil {
			return err
		}
	}

	outcome := w.Outcome()
	if outcome == nil {
		_, err := fmt.Fprintf(out, "\nstopped at step %s\n", snap.StepName)
		return err
	}
	fmt.Fprintf(out, "\nsubmission: %s\nflag_persisted: %t\nredirect: %s\n",
		outcome.Submission.Status, outcome.FlagPersisted, snap.Redirect)

	payload, err := json.MarshalIndent(outcome.Payload, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "payload:\n%s\n", payload)
	return err
}
