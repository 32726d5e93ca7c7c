package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dotsetup/dotsetup/pkg/engine"
)

var (
	// ErrInvalidTransition is returned for input that is not valid in the current state.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrEmptyCredential is returned when an empty password is submitted.
	ErrEmptyCredential = errors.New("empty credential")
)

// Runner is the part of the orchestrator the session drives.
type Runner interface {
	Start(ctx context.Context, tasks []engine.Task, credential []byte) (string, error)
	RequestCancel()
	Finished() bool
	Result() engine.RunResult
	Reset()
}

// Option configures a Machine.
type Option func(*Machine)

// WithAutoApprove skips the Confirm state.
func WithAutoApprove(enabled bool) Option {
	return func(m *Machine) {
		m.autoApprove = enabled
	}
}

// WithPasswordRequired controls whether privileged runs ask for a credential.
// It is turned off when the process already runs as root.
func WithPasswordRequired(required bool) Option {
	return func(m *Machine) {
		m.passwordRequired = required
	}
}

// WithLogger sets the logger used for transitions.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// Machine holds the session state. It is driven from the UI loop.
type Machine struct {
	mu sync.Mutex

	tasks  *engine.TaskList
	runner Runner
	state  State
	cursor int

	credential       []byte
	passwordRequired bool
	autoApprove      bool

	logger zerolog.Logger
}

// New creates a session in the Selection state.
func New(tasks *engine.TaskList, runner Runner, opts ...Option) *Machine {
	m := &Machine{
		tasks:            tasks,
		runner:           runner,
		state:            Selection{},
		passwordRequired: true,
		logger:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Cursor returns the highlighted task index.
func (m *Machine) Cursor() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// Tasks returns a copy of the task list.
func (m *Machine) Tasks() []engine.Task {
	return m.tasks.Tasks()
}

// HasCredential reports whether a credential is cached.
func (m *Machine) HasCredential() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.credential) > 0
}

// MoveCursor moves the highlight by delta, clamped to the list.
func (m *Machine) MoveCursor(delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.expect("move cursor", KindSelection); err != nil {
		return err
	}
	n := m.tasks.Len()
	if n == 0 {
		return nil
	}
	m.cursor = min(max(m.cursor+delta, 0), n-1)
	return nil
}

// Toggle flips the highlighted task.
func (m *Machine) Toggle() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.expect("toggle", KindSelection); err != nil {
		return err
	}
	m.tasks.Toggle(m.cursor)
	return nil
}

// SelectAll enables or disables every task.
func (m *Machine) SelectAll(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.expect("select all", KindSelection); err != nil {
		return err
	}
	m.tasks.SetAll(enabled)
	return nil
}

// Proceed leaves Selection. Nothing happens when no task is enabled.
func (m *Machine) Proceed(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.expect("proceed", KindSelection); err != nil {
		return err
	}
	enabled := m.tasks.Enabled()
	if len(enabled) == 0 {
		return nil
	}
	if m.autoApprove {
		return m.begin(ctx)
	}
	m.transition(Confirm{Tasks: enabled})
	return nil
}

// Confirm approves the run shown in the Confirm state.
func (m *Machine) Confirm(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.expect("confirm", KindConfirm); err != nil {
		return err
	}
	return m.begin(ctx)
}

// SubmitPassword caches the credential for the rest of the process and
// starts the run.
func (m *Machine) SubmitPassword(ctx context.Context, password []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.expect("submit password", KindGettingPassword); err != nil {
		return err
	}
	if len(password) == 0 {
		m.state = GettingPassword{Retry: true}
		return ErrEmptyCredential
	}

	m.clearCredential()
	m.credential = append([]byte(nil), password...)
	return m.start(ctx)
}

// Back returns to Selection from Confirm, GettingPassword or Done.
// Leaving Done clears the previous run's log.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.expect("back", KindConfirm, KindGettingPassword, KindDone); err != nil {
		return err
	}
	if m.state.Kind() == KindDone {
		m.runner.Reset()
	}
	m.transition(Selection{})
	return nil
}

// Cancel asks the running orchestrator to stop at the next task boundary.
// The state stays Running until Poll observes the end of the run.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.expect("cancel", KindRunning); err != nil {
		return err
	}
	m.runner.RequestCancel()
	m.logger.Info().Str("run_id", m.state.(Running).RunID).Msg("Cancel requested")
	return nil
}

// Poll moves Running to Done once the run has ended. It reports whether the
// state changed.
func (m *Machine) Poll() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Kind() != KindRunning || !m.runner.Finished() {
		return false
	}
	m.transition(Done{Result: m.runner.Result()})
	return true
}

// ViewLogs shows the last run's log from Selection.
func (m *Machine) ViewLogs() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.expect("view logs", KindSelection); err != nil {
		return err
	}
	m.transition(Done{Result: m.runner.Result(), Browsing: true})
	return nil
}

// ForgetCredential drops the cached credential. The next privileged run
// asks again.
func (m *Machine) ForgetCredential() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearCredential()
}

func (m *Machine) begin(ctx context.Context) error {
	if m.passwordRequired && len(m.credential) == 0 && m.tasks.RequiresPrivilege() {
		m.transition(GettingPassword{})
		return nil
	}
	return m.start(ctx)
}

func (m *Machine) start(ctx context.Context) error {
	m.runner.Reset()
	runID, err := m.runner.Start(ctx, m.tasks.Tasks(), m.credential)
	if err != nil {
		m.transition(Selection{})
		return fmt.Errorf("failed to start run: %w", err)
	}
	m.transition(Running{RunID: runID})
	return nil
}

func (m *Machine) transition(next State) {
	m.logger.Debug().
		Str("from", m.state.Kind().String()).
		Str("to", next.Kind().String()).
		Msg("Session transition")
	m.state = next
}

func (m *Machine) expect(op string, kinds ...Kind) error {
	current := m.state.Kind()
	for _, k := range kinds {
		if current == k {
			return nil
		}
	}
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, op, current)
}

func (m *Machine) clearCredential() {
	for i := range m.credential {
		m.credential[i] = 0
	}
	m.credential = nil
}
