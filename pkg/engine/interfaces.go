package engine

import (
	"context"
	"time"
)

// Executor runs a single command line. Implementations never panic and report
// spawn failures through ExecResult.Err instead of an error return.
type Executor interface {
	Execute(ctx context.Context, cmd Command, credential []byte) ExecResult
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, cmd Command, credential []byte) ExecResult

// Execute calls f(ctx, cmd, credential).
func (f ExecutorFunc) Execute(ctx context.Context, cmd Command, credential []byte) ExecResult {
	return f(ctx, cmd, credential)
}

// Resolver turns a task into the ordered command lines that implement it.
// Zero commands means there is nothing to do and the task is skipped.
type Resolver interface {
	Resolve(task Task) ([]Command, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(task Task) ([]Command, error)

// Resolve calls f(task).
func (f ResolverFunc) Resolve(task Task) ([]Command, error) {
	return f(task)
}

// StepEvent describes a single step transition within a run.
type StepEvent struct {
	RunID   string    `json:"run_id"`
	Index   int       `json:"index"`
	Step    RunStep   `json:"step"`
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Recorder persists the history of runs. Recorder errors are logged and never
// affect the outcome of a run.
type Recorder interface {
	RunStarted(ctx context.Context, runID string, steps []RunStep, startedAt time.Time) error
	StepChanged(ctx context.Context, event StepEvent) error
	RunFinished(ctx context.Context, result RunResult) error
}

// MetricsObserver receives run and step outcomes for metrics collection.
type MetricsObserver interface {
	RunStarted()
	RunFinished(status RunStatus, duration time.Duration)
	StepFinished(status StepStatus, duration time.Duration)
}
