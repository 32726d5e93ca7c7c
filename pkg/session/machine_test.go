package session

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dotsetup/dotsetup/pkg/engine"
)

type fakeRunner struct {
	starts     int
	credential []byte
	tasks      []engine.Task
	cancelled  bool
	finished   bool
	resets     int
	startErr   error
	result     engine.RunResult
}

func (f *fakeRunner) Start(_ context.Context, tasks []engine.Task, credential []byte) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.starts++
	f.tasks = tasks
	f.credential = append([]byte(nil), credential...)
	f.finished = false
	return "run-1", nil
}

func (f *fakeRunner) RequestCancel() { f.cancelled = true }
func (f *fakeRunner) Finished() bool { return f.finished }
func (f *fakeRunner) Result() engine.RunResult { return f.result }
func (f *fakeRunner) Reset() { f.resets++ }

func taskList() *engine.TaskList {
	return engine.NewTaskList([]engine.Task{
		{ID: "repo", Name: "Add repo", Enabled: true, RequiresPrivilege: true},
		{ID: "cargo", Name: "Cargo", Enabled: true},
		{ID: "stow", Name: "Stow", Enabled: false},
	})
}

func mustSucceed(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func expectKind(t *testing.T, m *Machine, want Kind) {
	t.Helper()
	if got := m.State().Kind(); got != want {
		t.Fatalf("Expected state %s, got %s", want, got)
	}
}

func TestHappyPathWithPassword(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{}
	m := New(taskList(), runner)

	expectKind(t, m, KindSelection)
	mustSucceed(t, m.Proceed(ctx))

	confirm, ok := m.State().(Confirm)
	if !ok {
		t.Fatalf("Expected Confirm, got %s", m.State().Kind())
	}
	if len(confirm.Tasks) != 2 {
		t.Errorf("Expected 2 tasks to confirm, got %d", len(confirm.Tasks))
	}

	mustSucceed(t, m.Confirm(ctx))
	expectKind(t, m, KindGettingPassword)
	if runner.starts != 0 {
		t.Errorf("Run started before the password, starts=%d", runner.starts)
	}

	mustSucceed(t, m.SubmitPassword(ctx, []byte("hunter2")))
	running, ok := m.State().(Running)
	if !ok {
		t.Fatalf("Expected Running, got %s", m.State().Kind())
	}
	if running.RunID != "run-1" {
		t.Errorf("RunID = %s, want run-1", running.RunID)
	}
	if !bytes.Equal(runner.credential, []byte("hunter2")) {
		t.Errorf("Runner got credential %q", runner.credential)
	}
	if !m.HasCredential() {
		t.Error("Credential should be cached")
	}

	if m.Poll() {
		t.Error("Poll() reported a finished run while it is still going")
	}
	runner.finished = true
	runner.result = engine.RunResult{RunID: "run-1", Status: engine.RunStatusSucceeded}
	if !m.Poll() {
		t.Fatal("Poll() missed the finished run")
	}

	done, ok := m.State().(Done)
	if !ok {
		t.Fatalf("Expected Done, got %s", m.State().Kind())
	}
	if done.Result.Status != engine.RunStatusSucceeded || done.Browsing {
		t.Errorf("Unexpected Done state: %+v", done)
	}

	mustSucceed(t, m.Back())
	expectKind(t, m, KindSelection)
}

func TestPasswordSkippedWithoutPrivilege(t *testing.T) {
	ctx := context.Background()
	list := taskList()
	list.SetEnabled("repo", false)
	runner := &fakeRunner{}
	m := New(list, runner)

	mustSucceed(t, m.Proceed(ctx))
	// Confirmation is asked even when no task needs privilege.
	expectKind(t, m, KindConfirm)
	mustSucceed(t, m.Confirm(ctx))
	expectKind(t, m, KindRunning)
	if len(runner.credential) != 0 {
		t.Errorf("No credential expected, got %q", runner.credential)
	}
}

func TestPasswordSkippedWhenNotRequired(t *testing.T) {
	ctx := context.Background()
	m := New(taskList(), &fakeRunner{}, WithPasswordRequired(false))

	mustSucceed(t, m.Proceed(ctx))
	expectKind(t, m, KindConfirm)
	mustSucceed(t, m.Confirm(ctx))
	expectKind(t, m, KindRunning)
}

func TestCredentialCachedAcrossRuns(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{}
	m := New(taskList(), runner)

	mustSucceed(t, m.Proceed(ctx))
	mustSucceed(t, m.Confirm(ctx))
	mustSucceed(t, m.SubmitPassword(ctx, []byte("pw")))
	runner.finished = true
	if !m.Poll() {
		t.Fatal("Poll() missed the finished run")
	}
	mustSucceed(t, m.Back())

	mustSucceed(t, m.Proceed(ctx))
	mustSucceed(t, m.Confirm(ctx))
	// No second prompt.
	expectKind(t, m, KindRunning)
	if runner.starts != 2 {
		t.Errorf("Expected 2 starts, got %d", runner.starts)
	}
	if !bytes.Equal(runner.credential, []byte("pw")) {
		t.Errorf("Runner got credential %q", runner.credential)
	}

	runner.finished = true
	if !m.Poll() {
		t.Fatal("Poll() missed the finished run")
	}
	mustSucceed(t, m.Back())

	m.ForgetCredential()
	if m.HasCredential() {
		t.Error("Credential still cached after ForgetCredential")
	}
	mustSucceed(t, m.Proceed(ctx))
	mustSucceed(t, m.Confirm(ctx))
	expectKind(t, m, KindGettingPassword)
}

func TestSubmitEmptyPassword(t *testing.T) {
	ctx := context.Background()
	m := New(taskList(), &fakeRunner{})
	mustSucceed(t, m.Proceed(ctx))
	mustSucceed(t, m.Confirm(ctx))

	if err := m.SubmitPassword(ctx, nil); !errors.Is(err, ErrEmptyCredential) {
		t.Errorf("Expected ErrEmptyCredential, got %v", err)
	}
	gp, ok := m.State().(GettingPassword)
	if !ok {
		t.Fatalf("Expected GettingPassword, got %s", m.State().Kind())
	}
	if !gp.Retry {
		t.Error("Retry should be set after an empty password")
	}
}

func TestProceedWithNothingSelected(t *testing.T) {
	list := taskList()
	list.SetAll(false)
	m := New(list, &fakeRunner{})

	mustSucceed(t, m.Proceed(context.Background()))
	expectKind(t, m, KindSelection)
}

func TestAutoApprove(t *testing.T) {
	runner := &fakeRunner{}
	m := New(taskList(), runner, WithAutoApprove(true), WithPasswordRequired(false))

	mustSucceed(t, m.Proceed(context.Background()))
	expectKind(t, m, KindRunning)
	if runner.starts != 1 {
		t.Errorf("Expected 1 start, got %d", runner.starts)
	}
}

func TestCancelIsCooperative(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{}
	m := New(taskList(), runner, WithPasswordRequired(false))
	mustSucceed(t, m.Proceed(ctx))
	mustSucceed(t, m.Confirm(ctx))

	mustSucceed(t, m.Cancel())
	if !runner.cancelled {
		t.Error("Cancel was not forwarded to the runner")
	}
	// Cancel does not change state.
	expectKind(t, m, KindRunning)

	runner.finished = true
	runner.result = engine.RunResult{Status: engine.RunStatusCancelled}
	if !m.Poll() {
		t.Fatal("Poll() missed the finished run")
	}
	if got := m.State().(Done).Result.Status; got != engine.RunStatusCancelled {
		t.Errorf("Status = %s, want cancelled", got)
	}
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	m := New(taskList(), &fakeRunner{}, WithPasswordRequired(false))

	check := func(op string, err error) {
		t.Helper()
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s in %s: expected ErrInvalidTransition, got %v", op, m.State().Kind(), err)
		}
	}

	check("Confirm", m.Confirm(ctx))
	check("SubmitPassword", m.SubmitPassword(ctx, []byte("x")))
	check("Cancel", m.Cancel())
	check("Back", m.Back())

	mustSucceed(t, m.Proceed(ctx))
	mustSucceed(t, m.Confirm(ctx))

	check("Toggle", m.Toggle())
	check("MoveCursor", m.MoveCursor(1))
	check("SelectAll", m.SelectAll(true))
	check("Back", m.Back())
	check("ViewLogs", m.ViewLogs())
	check("Proceed", m.Proceed(ctx))
}

func TestCursorAndToggle(t *testing.T) {
	m := New(taskList(), &fakeRunner{})

	mustSucceed(t, m.MoveCursor(-5))
	if m.Cursor() != 0 {
		t.Errorf("Cursor = %d, want 0", m.Cursor())
	}
	mustSucceed(t, m.MoveCursor(10))
	if m.Cursor() != 2 {
		t.Errorf("Cursor = %d, want 2", m.Cursor())
	}

	mustSucceed(t, m.Toggle())
	if !m.Tasks()[2].Enabled {
		t.Error("Toggle did not enable the task under the cursor")
	}

	mustSucceed(t, m.SelectAll(false))
	for _, tk := range m.Tasks() {
		if tk.Enabled {
			t.Errorf("Task %s still enabled", tk.ID)
		}
	}
}

func TestBackFromConfirmAndPassword(t *testing.T) {
	ctx := context.Background()
	m := New(taskList(), &fakeRunner{})

	mustSucceed(t, m.Proceed(ctx))
	mustSucceed(t, m.Back())
	expectKind(t, m, KindSelection)

	mustSucceed(t, m.Proceed(ctx))
	mustSucceed(t, m.Confirm(ctx))
	mustSucceed(t, m.Back())
	expectKind(t, m, KindSelection)
}

func TestViewLogs(t *testing.T) {
	runner := &fakeRunner{result: engine.RunResult{RunID: "old"}}
	m := New(taskList(), runner)

	mustSucceed(t, m.ViewLogs())
	done, ok := m.State().(Done)
	if !ok {
		t.Fatalf("Expected Done, got %s", m.State().Kind())
	}
	if !done.Browsing || done.Result.RunID != "old" {
		t.Errorf("Unexpected Done state: %+v", done)
	}

	mustSucceed(t, m.Back())
	if runner.resets != 1 {
		t.Errorf("Expected 1 reset, got %d", runner.resets)
	}
}

func TestStartFailureReturnsToSelection(t *testing.T) {
	runner := &fakeRunner{startErr: engine.ErrRunInProgress}
	m := New(taskList(), runner, WithPasswordRequired(false), WithAutoApprove(true))

	if err := m.Proceed(context.Background()); !errors.Is(err, engine.ErrRunInProgress) {
		t.Errorf("Expected ErrRunInProgress, got %v", err)
	}
	expectKind(t, m, KindSelection)
}

type passExecutor struct{}

func (passExecutor) Execute(_ context.Context, _ engine.Command, _ []byte) engine.ExecResult {
	code := 0
	return engine.ExecResult{Success: true, ExitCode: &code}
}

func TestWithOrchestrator(t *testing.T) {
	ctx := context.Background()
	resolver := engine.ResolverFunc(func(task engine.Task) ([]engine.Command, error) {
		return []engine.Command{{Line: "true", Privileged: task.RequiresPrivilege}}, nil
	})
	orch := engine.NewOrchestrator(passExecutor{}, resolver)
	m := New(taskList(), orch)

	mustSucceed(t, m.Proceed(ctx))
	mustSucceed(t, m.Confirm(ctx))
	mustSucceed(t, m.SubmitPassword(ctx, []byte("pw")))

	deadline := time.Now().Add(5 * time.Second)
	for !m.Poll() {
		if time.Now().After(deadline) {
			t.Fatal("run did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	done := m.State().(Done)
	if done.Result.Status != engine.RunStatusSucceeded || done.Result.Completed != 2 {
		t.Errorf("Unexpected result: %+v", done.Result)
	}
	if !orch.IsComplete() {
		t.Error("Orchestrator should report completion")
	}
}
