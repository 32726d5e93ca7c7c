package engine

import (
	"fmt"
	"sync"
)

// StepTracker mirrors the tasks of one run with a status per step.
// The orchestrator is the only writer while a run is active.
type StepTracker struct {
	mu     sync.RWMutex
	steps  []RunStep
	active int
}

// NewStepTracker creates an empty tracker.
func NewStepTracker() *StepTracker {
	return &StepTracker{active: -1}
}

// Reset replaces the steps with one Pending step per task.
func (t *StepTracker) Reset(tasks []Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = make([]RunStep, len(tasks))
	for i, task := range tasks {
		t.steps[i] = RunStep{TaskID: task.ID, Name: task.Name, Status: StepStatusPending}
	}
	t.active = -1
}

// Start marks step i as Running. At most one step may be Running.
func (t *StepTracker) Start(i int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active >= 0 {
		return NewInternalError(fmt.Sprintf("step %d is still running", t.active), nil).
			WithCode(ErrCodeInvalidTransition)
	}
	if err := t.transitionLocked(i, StepStatusRunning); err != nil {
		return err
	}
	t.active = i
	return nil
}

// Finish marks the running step i as Completed or Failed.
func (t *StepTracker) Finish(i int, ok bool) error {
	next := StepStatusFailed
	if ok {
		next = StepStatusCompleted
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transitionLocked(i, next); err != nil {
		return err
	}
	if t.active == i {
		t.active = -1
	}
	return nil
}

func (t *StepTracker) transitionLocked(i int, next StepStatus) error {
	if i < 0 || i >= len(t.steps) {
		return NewInternalError(fmt.Sprintf("step index %d out of range", i), nil).
			WithCode(ErrCodeIndexOutOfRange)
	}
	cur := t.steps[i].Status
	if !cur.CanTransitionTo(next) {
		return NewInternalError(fmt.Sprintf("illegal step transition %s -> %s", cur, next), nil).
			WithCode(ErrCodeInvalidTransition).
			WithTask(t.steps[i].TaskID)
	}
	t.steps[i].Status = next
	return nil
}

// Snapshot returns a copy of the steps.
func (t *StepTracker) Snapshot() []RunStep {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RunStep, len(t.steps))
	copy(out, t.steps)
	return out
}

// Active returns the index of the running step, or -1.
func (t *StepTracker) Active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// Len returns the number of steps in the current run.
func (t *StepTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.steps)
}
