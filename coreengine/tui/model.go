// Package tui renders an onboarding session as a terminal chat.
//
// The model polls a Driver for snapshots, shows a spinner while the
// assistant is typing, and turns each typed line into wizard actions. It
// quits once the session emits its redirect.
package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/wizard"
)

// DefaultPollInterval is how often the model refreshes its snapshot.
const DefaultPollInterval = 100 * time.Millisecond

// Driver is the session the model talks to: a local wizard or a remote one.
type Driver interface {
	Snapshot(ctx context.Context) (wizard.Snapshot, error)
	Apply(ctx context.Context, a wizard.Action) (bool, error)
}

type localDriver struct {
	w *wizard.Wizard
}

// Local drives an in-process wizard.
func Local(w *wizard.Wizard) Driver {
	return localDriver{w: w}
}

func (d localDriver) Snapshot(context.Context) (wizard.Snapshot, error) {
	return d.w.Snapshot(), nil
}

func (d localDriver) Apply(ctx context.Context, a wizard.Action) (bool, error) {
	return d.w.Apply(ctx, a)
}

// =============================================================================
// OPTIONS
// =============================================================================

// Option configures a Model.
type Option func(*Model)

// WithPollInterval sets the snapshot refresh interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.poll = d
		}
	}
}

// WithReadFile replaces how document paths are read.
func WithReadFile(fn ReadFileFunc) Option {
	return func(m *Model) { m.readFile = fn }
}

// =============================================================================
// MESSAGES
// =============================================================================

type snapshotMsg struct {
	snap wizard.Snapshot
	err  error
}

type appliedMsg struct {
	advanced bool
	rejected bool
	err      error
}

type tickMsg time.Time

// =============================================================================
// MODEL
// =============================================================================

type theme struct {
	header  lipgloss.Style
	agent   lipgloss.Style
	user    lipgloss.Style
	hint    lipgloss.Style
	errLine lipgloss.Style
	done    lipgloss.Style
}

func newTheme() theme {
	return theme{
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7aa2f7")),
		agent:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#05ffa1")),
		user:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffd166")),
		hint:    lipgloss.NewStyle().Foreground(lipgloss.Color("#8b93a7")),
		errLine: lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5c8a")).Bold(true),
		done:    lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1")),
	}
}

// Model is the bubbletea model for one session.
type Model struct {
	ctx      context.Context
	driver   Driver
	readFile ReadFileFunc
	poll     time.Duration

	snap     wizard.Snapshot
	busy     bool
	errText  string
	redirect string
	quitting bool

	input      textinput.Model
	transcript viewport.Model
	spinner    spinner.Model
	theme      theme
	width      int
}

// New creates a model over driver.
func New(ctx context.Context, driver Driver, opts ...Option) Model {
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 1024
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	m := Model{
		ctx:        ctx,
		driver:     driver,
		readFile:   os.ReadFile,
		poll:       DefaultPollInterval,
		input:      input,
		transcript: viewport.New(80, 20),
		spinner:    sp,
		theme:      newTheme(),
		width:      80,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Redirect returns the redirect target once the session has finished.
func (m Model) Redirect() string {
	return m.redirect
}

// Snapshot returns the last snapshot the model rendered.
func (m Model) Snapshot() wizard.Snapshot {
	return m.snap
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchCmd(), m.tickCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.transcript.Width = msg.Width
		m.transcript.Height = max(msg.Height-6, 3)
		m.transcript.SetContent(m.renderTranscript())
		m.transcript.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.transcript, cmd = m.transcript.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())

	case snapshotMsg:
		if msg.err != nil {
			m.errText = msg.err.Error()
			return m, nil
		}
		grew := len(msg.snap.Transcript) != len(m.snap.Transcript)
		m.snap = msg.snap
		if grew {
			m.transcript.SetContent(m.renderTranscript())
			m.transcript.GotoBottom()
		}
		if m.snap.Redirect != "" {
			m.redirect = m.snap.Redirect
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case appliedMsg:
		m.busy = false
		switch {
		case msg.err != nil:
			m.errText = msg.err.Error()
		case msg.rejected:
			m.errText = "That does not look complete yet."
		default:
			m.errText = ""
		}
		return m, m.fetchCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.busy || m.snap.Done {
		return m, nil
	}
	acts, err := ParseInput(m.snap.Affordance, m.input.Value(), m.readFile)
	if err != nil {
		m.errText = err.Error()
		return m, nil
	}
	m.input.Reset()
	m.errText = ""
	m.busy = true
	return m, m.applyCmd(acts)
}

func (m Model) fetchCmd() tea.Cmd {
	ctx, driver := m.ctx, m.driver
	return func() tea.Msg {
		snap, err := driver.Snapshot(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.poll, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// applyCmd runs acts in order and stops at the first error. A trailing
// confirm or skip that does not advance is reported as rejected.
func (m Model) applyCmd(acts []wizard.Action) tea.Cmd {
	ctx, driver := m.ctx, m.driver
	return func() tea.Msg {
		var advanced bool
		for _, a := range acts {
			ok, err := driver.Apply(ctx, a)
			if err != nil {
				return appliedMsg{err: err}
			}
			advanced = ok
		}
		last := acts[len(acts)-1].Kind
		rejected := !advanced && (last == wizard.ActionConfirm || last == wizard.ActionUseExisting)
		return appliedMsg{advanced: advanced, rejected: rejected}
	}
}

// =============================================================================
// VIEW
// =============================================================================

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.theme.header.Render(m.title()))
	b.WriteString("\n")
	b.WriteString(m.transcript.View())
	b.WriteString("\n")

	switch {
	case m.redirect != "":
		b.WriteString(m.theme.done.Render("All set. Redirecting to " + m.redirect))
		b.WriteString("\n")
		return b.String()
	case m.snap.Done:
		b.WriteString(m.theme.done.Render("Wrapping up..."))
	case m.snap.Typing || !m.snap.InputReady:
		b.WriteString(m.spinner.View() + m.theme.hint.Render(" typing"))
	default:
		b.WriteString(m.theme.hint.Render(Hint(m.snap.Affordance)))
	}
	b.WriteString("\n")

	if m.errText != "" {
		b.WriteString(m.theme.errLine.Render(m.errText))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	return b.String()
}

func (m Model) title() string {
	if m.snap.SessionID == "" {
		return "Onboarding"
	}
	if m.snap.Done {
		return "Onboarding · done"
	}
	return fmt.Sprintf("Onboarding · step %d/7 · %s", int(m.snap.Step), m.snap.StepName)
}

func (m Model) renderTranscript() string {
	wrap := lipgloss.NewStyle().Width(max(m.width-2, 20))
	lines := make([]string, 0, len(m.snap.Transcript))
	for _, e := range m.snap.Transcript {
		label := m.theme.agent.Render("Assistant")
		if e.Speaker == session.SpeakerUser {
			label = m.theme.user.Render("You")
		}
		lines = append(lines, wrap.Render(label+": "+e.Text))
	}
	return strings.Join(lines, "\n")
}

// Hint describes what the user can type for an affordance.
func Hint(a wizard.Affordance) string {
	switch a.Kind {
	case wizard.AffordanceChoice:
		return numbered(a.Options)
	case wizard.AffordanceBranch:
		if a.Phase == session.BranchOverride {
			return a.Prompt
		}
		if a.CanUseExisting {
			return fmt.Sprintf("On file: %s. Keep it? (y/n, or type a new one)", a.Existing)
		}
		return "Type it in"
	case wizard.AffordanceSelect:
		return numbered(a.Options) + "   (for Other: \"<n> <description>\")"
	case wizard.AffordanceHours:
		return fmt.Sprintf("Hours %s-%s. Enter to keep, or type HH:MM-HH:MM", a.OpenTime, a.CloseTime)
	case wizard.AffordanceDocument:
		return "Path to a PDF, or " + SkipCommand
	case wizard.AffordanceReview:
		return numbered(a.Options) + "   \"<n> <link>\", or " + SkipCommand
	}
	return ""
}

func numbered(options []string) string {
	parts := make([]string, len(options))
	for i, o := range options {
		parts[i] = fmt.Sprintf("%d) %s", i+1, o)
	}
	return strings.Join(parts, "  ")
}

// =============================================================================
// RUN
// =============================================================================

// Run drives the session in the terminal until it redirects or the user
// quits. It returns the redirect target, empty when the user quit first.
func Run(ctx context.Context, driver Driver, opts []Option, programOpts ...tea.ProgramOption) (string, error) {
	programOpts = append([]tea.ProgramOption{tea.WithContext(ctx)}, programOpts...)
	p := tea.NewProgram(New(ctx, driver, opts...), programOpts...)
	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("run chat: %w", err)
	}
	if fm, ok := final.(Model); ok {
		return fm.Redirect(), nil
	}
	return "", nil
}
