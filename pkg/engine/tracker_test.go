package engine

import (
	"errors"
	"testing"
)

func threeTasks() []Task {
	return []Task{
		{ID: "a", Name: "A", Enabled: true},
		{ID: "b", Name: "B", Enabled: true},
		{ID: "c", Name: "C", Enabled: true},
	}
}

func TestStepTrackerReset(t *testing.T) {
	tr := NewStepTracker()
	tr.Reset(threeTasks())

	steps := tr.Snapshot()
	if len(steps) != 3 {
		t.Fatalf("len(steps) = %d, want 3", len(steps))
	}
	for i, s := range steps {
		if s.Status != StepStatusPending {
			t.Errorf("steps[%d].Status = %s, want pending", i, s.Status)
		}
	}
	if tr.Active() != -1 {
		t.Errorf("Active() = %d, want -1", tr.Active())
	}
}

func TestStepTrackerLifecycle(t *testing.T) {
	tr := NewStepTracker()
	tr.Reset(threeTasks())

	if err := tr.Start(0); err != nil {
		t.Fatalf("Start(0) error = %v", err)
	}
	if tr.Active() != 0 {
		t.Errorf("Active() = %d, want 0", tr.Active())
	}
	if err := tr.Finish(0, true); err != nil {
		t.Fatalf("Finish(0) error = %v", err)
	}
	if err := tr.Start(1); err != nil {
		t.Fatalf("Start(1) error = %v", err)
	}
	if err := tr.Finish(1, false); err != nil {
		t.Fatalf("Finish(1) error = %v", err)
	}

	steps := tr.Snapshot()
	want := []StepStatus{StepStatusCompleted, StepStatusFailed, StepStatusPending}
	for i := range want {
		if steps[i].Status != want[i] {
			t.Errorf("steps[%d].Status = %s, want %s", i, steps[i].Status, want[i])
		}
	}
}

func TestStepTrackerRejectsIllegalTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*StepTracker)
		op    func(*StepTracker) error
		code  string
	}{
		{
			name:  "finish pending step",
			setup: func(*StepTracker) {},
			op:    func(tr *StepTracker) error { return tr.Finish(0, true) },
			code:  ErrCodeInvalidTransition,
		},
		{
			name: "restart completed step",
			setup: func(tr *StepTracker) {
				_ = tr.Start(0)
				_ = tr.Finish(0, true)
			},
			op:   func(tr *StepTracker) error { return tr.Start(0) },
			code: ErrCodeInvalidTransition,
		},
		{
			name:  "two running steps",
			setup: func(tr *StepTracker) { _ = tr.Start(0) },
			op:    func(tr *StepTracker) error { return tr.Start(1) },
			code:  ErrCodeInvalidTransition,
		},
		{
			name: "finish twice",
			setup: func(tr *StepTracker) {
				_ = tr.Start(0)
				_ = tr.Finish(0, false)
			},
			op:   func(tr *StepTracker) error { return tr.Finish(0, true) },
			code: ErrCodeInvalidTransition,
		},
		{
			name:  "index out of range",
			setup: func(*StepTracker) {},
			op:    func(tr *StepTracker) error { return tr.Start(7) },
			code:  ErrCodeIndexOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewStepTracker()
			tr.Reset(threeTasks())
			tt.setup(tr)
			before := tr.Snapshot()

			err := tt.op(tr)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var engErr *EngineError
			if !errors.As(err, &engErr) {
				t.Fatalf("error type = %T, want *EngineError", err)
			}
			if engErr.Code != tt.code {
				t.Errorf("Code = %s, want %s", engErr.Code, tt.code)
			}
			if !IsInternal(err) {
				t.Error("IsInternal() = false, want true")
			}

			after := tr.Snapshot()
			for i := range before {
				if before[i] != after[i] {
					t.Errorf("step %d changed from %s to %s", i, before[i].Status, after[i].Status)
				}
			}
		})
	}
}
