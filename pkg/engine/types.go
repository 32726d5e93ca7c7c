package engine

import (
	"sync"
	"time"
)

// Task is the static description of a provisioning step.
type Task struct {
	// ID is the unique, stable identifier of the task.
	ID string `json:"id" yaml:"id"`

	// Name is the display name shown in the selection list and in step headers.
	Name string `json:"name" yaml:"name"`

	// Description is a one-line explanation shown next to the task.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Enabled marks the task as selected for the next run.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// RequiresPrivilege marks tasks whose commands run through sudo.
	RequiresPrivilege bool `json:"requires_privilege" yaml:"requires_privilege"`
}

// TaskList is the ordered set of tasks offered to the user.
// The order is load-bearing: later tasks may rely on side effects of earlier ones
// (a repository must be registered before packages are installed from it).
type TaskList struct {
	mu    sync.RWMutex
	tasks []Task
}

// NewTaskList creates a task list preserving the given order.
func NewTaskList(tasks []Task) *TaskList {
	cp := make([]Task, len(tasks))
	copy(cp, tasks)
	return &TaskList{tasks: cp}
}

// Len returns the number of tasks.
func (l *TaskList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tasks)
}

// Tasks returns a copy of all tasks in their original order.
func (l *TaskList) Tasks() []Task {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]Task, len(l.tasks))
	copy(cp, l.tasks)
	return cp
}

// Toggle flips the enabled flag of the task at index.
// Out-of-range indices are a no-op and return false.
func (l *TaskList) Toggle(index int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.tasks) {
		return false
	}
	l.tasks[index].Enabled = !l.tasks[index].Enabled
	return true
}

// SetEnabled sets the enabled flag of the task with the given ID.
func (l *TaskList) SetEnabled(id string, enabled bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.tasks {
		if l.tasks[i].ID == id {
			l.tasks[i].Enabled = enabled
			return true
		}
	}
	return false
}

// SetAll enables or disables every task.
func (l *TaskList) SetAll(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.tasks {
		l.tasks[i].Enabled = enabled
	}
}

// Enabled returns the enabled subset in original order.
func (l *TaskList) Enabled() []Task {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return EnabledTasks(l.tasks)
}

// RequiresPrivilege reports whether any enabled task needs elevated privileges.
func (l *TaskList) RequiresPrivilege() bool {
	for _, t := range l.Enabled() {
		if t.RequiresPrivilege {
			return true
		}
	}
	return false
}

// EnabledTasks filters tasks down to the enabled ones, keeping their order.
func EnabledTasks(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

// Command is one shell command line belonging to a task.
type Command struct {
	// Line is passed verbatim to the shell with -c.
	Line string

	// Privileged commands run through the elevation helper. The credential
	// travels over the child's stdin, never in the command line.
	Privileged bool
}

// ExecResult is the outcome of running one command.
type ExecResult struct {
	// StdoutLines holds filtered and truncated stdout lines.
	StdoutLines []string

	// Stderr holds filtered stderr as a single block. Empty when nothing is worth showing.
	Stderr string

	// Success is true when the command exited with status 0.
	Success bool

	// ExitCode is nil when the process never started or was killed by a signal.
	ExitCode *int

	// Err carries the spawn failure, if any.
	Err error

	// Duration is the wall time of the command.
	Duration time.Duration
}

// RunStep is the mutable execution record for one task within a run.
type RunStep struct {
	TaskID string     `json:"task_id"`
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
}

// RunResult summarises a finished (or in-flight) run.
type RunResult struct {
	RunID       string        `json:"run_id"`
	Status      RunStatus     `json:"status"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Pending     int           `json:"pending"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Summarize computes counts and the final run status from a steps snapshot.
func Summarize(steps []RunStep, cancelled bool) RunResult {
	res := RunResult{Total: len(steps)}
	for _, s := range steps {
		switch s.Status {
		case StepStatusCompleted:
			res.Completed++
		case StepStatusFailed:
			res.Failed++
		case StepStatusPending:
			res.Pending++
		}
	}

	switch {
	case cancelled:
		res.Status = RunStatusCancelled
	case res.Failed > 0 && res.Completed > 0:
		res.Status = RunStatusPartial
	case res.Failed > 0:
		res.Status = RunStatusFailed
	default:
		res.Status = RunStatusSucceeded
	}
	return res
}
