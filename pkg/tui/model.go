package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/dotsetup/dotsetup/pkg/engine"
	"github.com/dotsetup/dotsetup/pkg/session"
)

// PollInterval is how often the UI samples the run state.
const PollInterval = 100 * time.Millisecond

// Source exposes the live run state the UI renders.
type Source interface {
	SnapshotLog() []string
	SnapshotSteps() []engine.RunStep
	CancelRequested() bool
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger for UI events.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Model) {
		m.logger = logger
	}
}

// WithConfigPath shows the configuration file in the header.
func WithConfigPath(path string) Option {
	return func(m *Model) {
		m.ConfigPath = path
	}
}

// Model is the Bubble Tea model for the installer.
type Model struct {
	ctx     context.Context
	session *session.Machine
	source  Source
	logger  zerolog.Logger

	password textinput.Model
	logView  viewport.Model
	spinner  spinner.Model

	// Snapshot of the run state, refreshed on every tick
	Steps      []engine.RunStep
	Lines      []string
	Cancelling bool

	ConfigPath string

	// UI state
	Width  int
	Height int
	Err    error

	// quitAfterRun is set when the user quits during a run. The program
	// exits once the run has stopped.
	quitAfterRun bool
}

// New creates a model driving machine and rendering source. Runs started from
// the model keep ctx's values but not its cancellation: a signal stops the
// program, never the command in flight.
func New(ctx context.Context, machine *session.Machine, source Source, opts ...Option) Model {
	ti := textinput.New()
	ti.Placeholder = "sudo password"
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '•'
	ti.CharLimit = 256

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warningStyle

	m := Model{
		ctx:      context.WithoutCancel(ctx),
		session:  machine,
		source:   source,
		logger:   zerolog.Nop(),
		password: ti,
		logView:  viewport.New(80, 12),
		spinner:  sp,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.spinner.Tick)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.layout()

	case TickMsg:
		if m.session.Poll() {
			m.logger.Debug().Msg("Run finished")
		}
		m.refresh()
		if m.quitAfterRun && m.session.State().Kind() == session.KindDone {
			return m, tea.Quit
		}
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ErrMsg:
		m.Err = msg.Err
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		if m.session.State().Kind() == session.KindRunning {
			m.setErr(m.session.Cancel())
			m.quitAfterRun = true
			return m, nil
		}
		return m, tea.Quit
	}

	var cmd tea.Cmd
	switch m.session.State().Kind() {
	case session.KindSelection:
		cmd = m.selectionKey(msg)
	case session.KindConfirm:
		m.confirmKey(msg)
	case session.KindGettingPassword:
		cmd = m.passwordKey(msg)
	case session.KindRunning:
		cmd = m.runningKey(msg)
	case session.KindDone:
		cmd = m.doneKey(msg)
	}

	m.syncInput()
	m.refresh()
	return m, cmd
}

func (m *Model) selectionKey(msg tea.KeyMsg) tea.Cmd {
	m.Err = nil
	switch msg.String() {
	case "up", "k":
		m.setErr(m.session.MoveCursor(-1))
	case "down", "j":
		m.setErr(m.session.MoveCursor(1))
	case " ", "x":
		m.setErr(m.session.Toggle())
	case "a":
		m.setErr(m.session.SelectAll(true))
	case "n":
		m.setErr(m.session.SelectAll(false))
	case "enter":
		m.setErr(m.session.Proceed(m.ctx))
	case "l":
		m.setErr(m.session.ViewLogs())
	case "f":
		m.session.ForgetCredential()
	case "q", "esc":
		return tea.Quit
	}
	return nil
}

func (m *Model) confirmKey(msg tea.KeyMsg) {
	switch msg.String() {
	case "enter", "y":
		m.setErr(m.session.Confirm(m.ctx))
	case "esc", "n":
		m.setErr(m.session.Back())
	}
}

func (m *Model) passwordKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "enter":
		pw := []byte(m.password.Value())
		m.password.Reset()
		err := m.session.SubmitPassword(m.ctx, pw)
		for i := range pw {
			pw[i] = 0
		}
		if !errors.Is(err, session.ErrEmptyCredential) {
			m.setErr(err)
		}
		return nil
	case "esc":
		m.setErr(m.session.Back())
		return nil
	}

	var cmd tea.Cmd
	m.password, cmd = m.password.Update(msg)
	return cmd
}

func (m *Model) runningKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc", "q":
		m.setErr(m.session.Cancel())
		return nil
	}
	var cmd tea.Cmd
	m.logView, cmd = m.logView.Update(msg)
	return cmd
}

func (m *Model) doneKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc", "enter", "backspace":
		m.setErr(m.session.Back())
		return nil
	case "q":
		return tea.Quit
	}
	var cmd tea.Cmd
	m.logView, cmd = m.logView.Update(msg)
	return cmd
}

// syncInput focuses the password field only while a password is requested.
func (m *Model) syncInput() {
	if m.session.State().Kind() == session.KindGettingPassword {
		if !m.password.Focused() {
			m.password.Focus()
		}
		return
	}
	if m.password.Focused() {
		m.password.Blur()
		m.password.Reset()
	}
}

// refresh copies the run snapshot and keeps the log scrolled to the end
// while a run is in progress.
func (m *Model) refresh() {
	m.Steps = m.source.SnapshotSteps()
	m.Lines = m.source.SnapshotLog()
	m.Cancelling = m.source.CancelRequested()
	m.layout()

	atBottom := m.logView.AtBottom()
	m.logView.SetContent(strings.Join(m.Lines, "\n"))
	if m.session.State().Kind() == session.KindRunning || atBottom {
		m.logView.GotoBottom()
	}
}

func (m *Model) layout() {
	if m.Width == 0 || m.Height == 0 {
		return
	}
	m.logView.Width = max(m.Width-4, 20)
	// header, step list, borders and footer
	m.logView.Height = max(m.Height-len(m.Steps)-9, 5)
}

func (m *Model) setErr(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, session.ErrInvalidTransition) {
		m.logger.Debug().Err(err).Msg("Ignored input")
		return
	}
	m.logger.Error().Err(err).Msg("Session error")
	m.Err = err
}

func tickCmd() tea.Cmd {
	return tea.Tick(PollInterval, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// View implements tea.Model.
func (m Model) View() string {
	return renderView(m)
}

// Run starts the program in the alternate screen and blocks until it exits.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(m, opts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
