package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dotsetup/dotsetup/pkg/engine"
	"github.com/dotsetup/dotsetup/pkg/session"
)

type okExecutor struct{}

func (okExecutor) Execute(_ context.Context, cmd engine.Command, _ []byte) engine.ExecResult {
	code := 0
	return engine.ExecResult{StdoutLines: []string{"ran " + cmd.Line}, Success: true, ExitCode: &code}
}

func newTestModel(t *testing.T, privileged bool) (Model, *engine.Orchestrator) {
	t.Helper()
	tasks := engine.NewTaskList([]engine.Task{
		{ID: "one", Name: "Step one", Enabled: true, RequiresPrivilege: privileged},
		{ID: "two", Name: "Step two", Enabled: true},
	})
	resolver := engine.ResolverFunc(func(task engine.Task) ([]engine.Command, error) {
		return []engine.Command{{Line: task.ID, Privileged: task.RequiresPrivilege}}, nil
	})
	orch := engine.NewOrchestrator(okExecutor{}, resolver)
	machine := session.New(tasks, orch)
	return New(context.Background(), machine, orch), orch
}

func press(m Model, keys ...tea.KeyMsg) Model {
	for _, k := range keys {
		next, _ := m.Update(k)
		m = next.(Model)
	}
	return m
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var (
	enter = tea.KeyMsg{Type: tea.KeyEnter}
	esc   = tea.KeyMsg{Type: tea.KeyEsc}
	down  = tea.KeyMsg{Type: tea.KeyDown}
	space = tea.KeyMsg{Type: tea.KeySpace}
)

func waitDone(t *testing.T, m Model, orch *engine.Orchestrator) Model {
	t.Helper()
	select {
	case <-orch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	next, _ := m.Update(TickMsg{})
	return next.(Model)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m30s"},
		{3661 * time.Second, "1h1m"},
	}
	for _, tt := range tests {
		got := formatDuration(tt.d)
		if got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestSelectionToggle(t *testing.T) {
	m, _ := newTestModel(t, false)

	m = press(m, down, space)
	tasks := m.session.Tasks()
	if tasks[1].Enabled {
		t.Error("expected second task to be toggled off")
	}
	if m.session.Cursor() != 1 {
		t.Errorf("expected cursor 1, got %d", m.session.Cursor())
	}

	out := renderView(m)
	if !strings.Contains(out, "Step one") || !strings.Contains(out, "Step two") {
		t.Error("expected task names in selection view")
	}
}

func TestRunWithoutPassword(t *testing.T) {
	m, orch := newTestModel(t, false)

	m = press(m, enter)
	if got := m.session.State().Kind(); got != session.KindConfirm {
		t.Fatalf("expected confirm, got %s", got)
	}
	m = press(m, runes("y"))
	if got := m.session.State().Kind(); got != session.KindRunning {
		t.Fatalf("expected running, got %s", got)
	}

	m = waitDone(t, m, orch)
	if got := m.session.State().Kind(); got != session.KindDone {
		t.Fatalf("expected done, got %s", got)
	}
	if len(m.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(m.Steps))
	}
	for _, s := range m.Steps {
		if s.Status != engine.StepStatusCompleted {
			t.Errorf("step %s: expected completed, got %s", s.Name, s.Status)
		}
	}
	if !strings.Contains(strings.Join(m.Lines, "\n"), engine.CompletionBanner) {
		t.Errorf("expected completion banner in log, got %q", m.Lines)
	}

	out := renderView(m)
	if !strings.Contains(out, checkMark) {
		t.Error("expected completed marks in done view")
	}
	if !strings.Contains(out, "Complete") {
		t.Error("expected run status in header")
	}

	m = press(m, esc)
	if got := m.session.State().Kind(); got != session.KindSelection {
		t.Errorf("expected selection after esc, got %s", got)
	}
	if len(orch.SnapshotLog()) != 0 {
		t.Error("expected log cleared after leaving done")
	}
}

func TestPasswordIsMasked(t *testing.T) {
	m, orch := newTestModel(t, true)

	m = press(m, enter, enter)
	if got := m.session.State().Kind(); got != session.KindGettingPassword {
		t.Fatalf("expected password prompt, got %s", got)
	}

	m = press(m, runes("s3cret"))
	if strings.Contains(renderView(m), "s3cret") {
		t.Error("password rendered in clear text")
	}

	m = press(m, enter)
	if got := m.session.State().Kind(); got != session.KindRunning {
		t.Fatalf("expected running, got %s", got)
	}
	if m.password.Value() != "" {
		t.Error("expected password field cleared")
	}

	m = waitDone(t, m, orch)
	for _, line := range m.Lines {
		if strings.Contains(line, "s3cret") {
			t.Errorf("credential leaked into log line %q", line)
		}
	}
}

func TestEmptyPasswordStaysOnPrompt(t *testing.T) {
	m, _ := newTestModel(t, true)

	m = press(m, enter, enter, enter)
	if got := m.session.State().Kind(); got != session.KindGettingPassword {
		t.Fatalf("expected password prompt, got %s", got)
	}
	if !strings.Contains(renderView(m), "cannot be empty") {
		t.Error("expected retry hint")
	}
	if m.Err != nil {
		t.Errorf("expected no footer error, got %v", m.Err)
	}

	m = press(m, esc)
	if got := m.session.State().Kind(); got != session.KindSelection {
		t.Errorf("expected selection after esc, got %s", got)
	}
}

func TestQuitFromSelection(t *testing.T) {
	m, _ := newTestModel(t, false)

	_, cmd := m.Update(runes("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestStepIcons(t *testing.T) {
	tests := []struct {
		status engine.StepStatus
		want   string
	}{
		{engine.StepStatusPending, pendingMark},
		{engine.StepStatusRunning, runningMark},
		{engine.StepStatusCompleted, checkMark},
		{engine.StepStatusFailed, crossMark},
	}
	for _, tt := range tests {
		icon, _ := stepIcon(tt.status)
		if icon != tt.want {
			t.Errorf("stepIcon(%s) = %q, want %q", tt.status, icon, tt.want)
		}
	}
}

func TestWindowResize(t *testing.T) {
	m, _ := newTestModel(t, false)

	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m = next.(Model)
	if m.logView.Width != 96 {
		t.Errorf("expected log width 96, got %d", m.logView.Width)
	}
	if m.logView.Height < 5 {
		t.Errorf("expected log height at least 5, got %d", m.logView.Height)
	}
}

func TestFooterShowsPendingCancel(t *testing.T) {
	var b strings.Builder
	renderFooter(&b, session.Running{RunID: "r"}, false)
	if !strings.Contains(b.String(), "esc cancel after current step") {
		t.Errorf("expected cancel hint, got %q", b.String())
	}

	b.Reset()
	renderFooter(&b, session.Running{RunID: "r"}, true)
	if !strings.Contains(b.String(), "cancelling after current step") {
		t.Errorf("expected pending cancel notice, got %q", b.String())
	}
}

type ctxRecorder struct {
	release chan struct{}
	errs    chan error
}

func (r ctxRecorder) Execute(ctx context.Context, _ engine.Command, _ []byte) engine.ExecResult {
	<-r.release
	r.errs <- ctx.Err()
	code := 0
	return engine.ExecResult{Success: true, ExitCode: &code}
}

func TestRunSurvivesProgramContextCancel(t *testing.T) {
	exec := ctxRecorder{release: make(chan struct{}), errs: make(chan error, 2)}
	tasks := engine.NewTaskList([]engine.Task{{ID: "one", Name: "Step one", Enabled: true}})
	resolver := engine.ResolverFunc(func(task engine.Task) ([]engine.Command, error) {
		return []engine.Command{{Line: task.ID}}, nil
	})
	orch := engine.NewOrchestrator(exec, resolver)

	ctx, cancel := context.WithCancel(context.Background())
	m := New(ctx, session.New(tasks, orch), orch)
	m = press(m, enter, runes("y"))
	if got := m.session.State().Kind(); got != session.KindRunning {
		t.Fatalf("expected running, got %s", got)
	}

	cancel()
	close(exec.release)

	select {
	case err := <-exec.errs:
		if err != nil {
			t.Errorf("command context was cancelled with the program: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command did not run")
	}
	waitDone(t, m, orch)
	if r := orch.Result(); r.Status != engine.RunStatusSucceeded {
		t.Errorf("expected the run to complete, got %s", r.Status)
	}
}
