package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotsetup/dotsetup/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSteps() []engine.RunStep {
	return []engine.RunStep{
		{TaskID: "core-packages", Name: "Installing core packages", Status: engine.StepStatusPending},
		{TaskID: "cargo-packages", Name: "Installing Cargo packages", Status: engine.StepStatusPending},
	}
}

func recordRun(t *testing.T, store *SQLiteStore, runID string, startedAt time.Time) {
	t.Helper()
	ctx := context.Background()

	if err := store.RunStarted(ctx, runID, testSteps(), startedAt); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}

	events := []engine.StepEvent{
		{RunID: runID, Index: 0, Type: engine.EventTypeStepStarted,
			Step: engine.RunStep{TaskID: "core-packages", Name: "Installing core packages", Status: engine.StepStatusRunning}},
		{RunID: runID, Index: 0, Type: engine.EventTypeStepCompleted,
			Step: engine.RunStep{TaskID: "core-packages", Name: "Installing core packages", Status: engine.StepStatusCompleted}},
		{RunID: runID, Index: 1, Type: engine.EventTypeStepStarted,
			Step: engine.RunStep{TaskID: "cargo-packages", Name: "Installing Cargo packages", Status: engine.StepStatusRunning}},
		{RunID: runID, Index: 1, Type: engine.EventTypeStepFailed, Message: "exit code: 101",
			Step: engine.RunStep{TaskID: "cargo-packages", Name: "Installing Cargo packages", Status: engine.StepStatusFailed}},
	}
	for i, ev := range events {
		ev.At = startedAt.Add(time.Duration(i+1) * time.Second)
		if err := store.StepChanged(ctx, ev); err != nil {
			t.Fatalf("StepChanged %d: %v", i, err)
		}
	}

	err := store.RunFinished(ctx, engine.RunResult{
		RunID:       runID,
		Status:      engine.RunStatusPartial,
		Total:       2,
		Completed:   1,
		Failed:      1,
		StartedAt:   startedAt,
		CompletedAt: startedAt.Add(5 * time.Second),
		Duration:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("RunFinished: %v", err)
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "run_steps", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestRecordRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	recordRun(t, store, "run-1", startedAt)

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != engine.RunStatusPartial {
		t.Errorf("expected partial, got %s", run.Status)
	}
	if run.Total != 2 || run.Completed != 1 || run.Failed != 1 || run.Pending != 0 {
		t.Errorf("unexpected counts: %+v", run)
	}
	if !run.StartedAt.Equal(startedAt) {
		t.Errorf("expected started_at %v, got %v", startedAt, run.StartedAt)
	}
	if run.CompletedAt == nil || !run.CompletedAt.Equal(startedAt.Add(5*time.Second)) {
		t.Errorf("unexpected completed_at %v", run.CompletedAt)
	}
	if run.Duration != 5*time.Second {
		t.Errorf("expected 5s duration, got %v", run.Duration)
	}

	steps, err := store.ListSteps(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Status != engine.StepStatusCompleted || steps[1].Status != engine.StepStatusFailed {
		t.Errorf("unexpected statuses %s, %s", steps[0].Status, steps[1].Status)
	}
	if steps[1].Message != "exit code: 101" {
		t.Errorf("unexpected message %q", steps[1].Message)
	}
	if steps[0].StartedAt == nil || steps[0].FinishedAt == nil {
		t.Error("expected step timestamps")
	}

	events, err := store.ListEvents(ctx, "run-1", nil, 0, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	wantTypes := []engine.EventType{
		engine.EventTypeRunStarted,
		engine.EventTypeStepStarted,
		engine.EventTypeStepCompleted,
		engine.EventTypeStepStarted,
		engine.EventTypeStepFailed,
		engine.EventTypeRunCompleted,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(events))
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d: expected %s, got %s", i, want, events[i].Type)
		}
	}
	if events[0].StepIndex != nil {
		t.Error("run events carry no step index")
	}
	if events[4].StepIndex == nil || *events[4].StepIndex != 1 {
		t.Error("expected step index 1 on failure event")
	}

	level := EventLevelError
	errorsOnly, err := store.ListEvents(ctx, "run-1", &level, 10, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(errorsOnly) != 1 || errorsOnly[0].Type != engine.EventTypeStepFailed {
		t.Errorf("expected one error event, got %d", len(errorsOnly))
	}
}

func TestCancelledRunEvent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.RunStarted(ctx, "run-c", testSteps(), time.Now()); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	err := store.RunFinished(ctx, engine.RunResult{RunID: "run-c", Status: engine.RunStatusCancelled, Total: 2, Pending: 2})
	if err != nil {
		t.Fatalf("RunFinished: %v", err)
	}

	events, err := store.ListEvents(ctx, "run-c", nil, 0, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	last := events[len(events)-1]
	if last.Type != engine.EventTypeRunCancelled || last.Level != EventLevelWarning {
		t.Errorf("expected cancelled warning, got %s/%s", last.Type, last.Level)
	}
}

func TestNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun: expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteRun: expected ErrNotFound, got %v", err)
	}
	if err := store.RunFinished(ctx, engine.RunResult{RunID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("RunFinished: expected ErrNotFound, got %v", err)
	}
	err := store.StepChanged(ctx, engine.StepEvent{RunID: "missing", Type: engine.EventTypeStepStarted})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("StepChanged: expected ErrNotFound, got %v", err)
	}
}

func TestListRunsAndPrune(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a-run", "b-run", "c-run"} {
		recordRun(t, store, id, base.Add(time.Duration(i)*time.Hour))
	}

	runs, err := store.ListRuns(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "c-run" || runs[2].ID != "a-run" {
		t.Fatalf("expected newest first, got %d runs", len(runs))
	}

	page, err := store.ListRuns(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(page) != 1 || page[0].ID != "b-run" {
		t.Errorf("unexpected page %+v", page)
	}

	found, err := store.FindRun(ctx, "b-")
	if err != nil {
		t.Fatalf("FindRun: %v", err)
	}
	if found.ID != "b-run" {
		t.Errorf("expected b-run, got %s", found.ID)
	}
	if _, err := store.FindRun(ctx, ""); err == nil {
		t.Error("expected error for empty prefix")
	}

	deleted, err := store.PruneRuns(ctx, 1)
	if err != nil {
		t.Fatalf("PruneRuns: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}

	steps, err := store.ListSteps(ctx, "a-run")
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 0 {
		t.Errorf("expected steps removed with their run, got %d", len(steps))
	}
}

func TestFindRunAmbiguous(t *testing.T) {
	store := setupTestStore(t)
	base := time.Now()
	recordRun(t, store, "abc-1", base)
	recordRun(t, store, "abc-2", base.Add(time.Second))

	if _, err := store.FindRun(context.Background(), "abc"); err == nil {
		t.Error("expected ambiguity error")
	}
}

func TestOpenCreatesFile(t *testing.T) {
	path := DefaultPath(filepath.Join(t.TempDir(), "nested"))

	store, err := Open(context.Background(), Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	recordRun(t, store, "file-run", time.Now())
	if _, err := store.GetRun(context.Background(), "file-run"); err != nil {
		t.Errorf("GetRun: %v", err)
	}
}

func TestOrchestratorRecordsHistory(t *testing.T) {
	store := setupTestStore(t)

	exec := engine.ExecutorFunc(func(_ context.Context, cmd engine.Command, _ []byte) engine.ExecResult {
		code := 0
		if cmd.Line == "fail" {
			code = 1
		}
		return engine.ExecResult{Success: code == 0, ExitCode: &code}
	})
	resolver := engine.ResolverFunc(func(task engine.Task) ([]engine.Command, error) {
		return []engine.Command{{Line: task.ID}}, nil
	})
	orch := engine.NewOrchestrator(exec, resolver, engine.WithRecorder(store))

	tasks := []engine.Task{
		{ID: "ok", Name: "OK", Enabled: true},
		{ID: "fail", Name: "Fail", Enabled: true},
	}
	runID, err := orch.Start(context.Background(), tasks, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := orch.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	run, err := store.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != engine.RunStatusPartial {
		t.Errorf("expected partial, got %s", run.Status)
	}
	steps, err := store.ListSteps(context.Background(), runID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 2 || steps[1].Status != engine.StepStatusFailed {
		t.Errorf("unexpected steps %+v", steps)
	}
}
