package engine

import (
	"encoding/json"
	"fmt"
)

// StepStatus represents the execution status of a single step within a run.
type StepStatus string

const (
	// StepStatusPending indicates the step has not started yet.
	StepStatusPending StepStatus = "pending"

	// StepStatusRunning indicates the step is currently executing.
	StepStatusRunning StepStatus = "running"

	// StepStatusCompleted indicates every command of the step succeeded,
	// or the step had nothing to do.
	StepStatusCompleted StepStatus = "completed"

	// StepStatusFailed indicates a command of the step failed or could not be spawned.
	StepStatusFailed StepStatus = "failed"
)

// IsTerminal returns true if the step status represents a final state.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal, forward transition.
// Pending -> Running -> {Completed, Failed}; nothing re-enters Pending or Running.
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	switch s {
	case StepStatusPending:
		return next == StepStatusRunning
	case StepStatusRunning:
		return next == StepStatusCompleted || next == StepStatusFailed
	default:
		return false
	}
}

// Validate checks if the step status is valid.
func (s StepStatus) Validate() error {
	switch s {
	case StepStatusPending, StepStatusRunning, StepStatusCompleted, StepStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// RunStatus represents the overall outcome of a run.
type RunStatus string

const (
	// RunStatusPending indicates the run has been created but the worker has not started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every executed step completed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates every executed step failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusPartial indicates some steps completed and some failed.
	RunStatusPartial RunStatus = "partial"

	// RunStatusCancelled indicates the user cancelled the run.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusCancelled || s == RunStatusPartial
}

// IsActive returns true if the run is currently active (pending or running).
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled, RunStatusPartial:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = StepStatus(str)
	return s.Validate()
}

// EventType represents the type of event recorded in a run's timeline.
type EventType string

const (
	// EventTypeRunStarted indicates a run has started.
	EventTypeRunStarted EventType = "run_started"

	// EventTypeRunCompleted indicates a run reached the end of its task list.
	EventTypeRunCompleted EventType = "run_completed"

	// EventTypeRunCancelled indicates a run stopped at a task boundary after a cancel request.
	EventTypeRunCancelled EventType = "run_cancelled"

	// EventTypeStepStarted indicates a step has started execution.
	EventTypeStepStarted EventType = "step_started"

	// EventTypeStepCompleted indicates a step has completed successfully.
	EventTypeStepCompleted EventType = "step_completed"

	// EventTypeStepFailed indicates a step has failed.
	EventTypeStepFailed EventType = "step_failed"

	// EventTypeStepSkipped indicates a step resolved to no commands.
	EventTypeStepSkipped EventType = "step_skipped"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeStepFailed:
		return "error"
	case EventTypeRunCancelled:
		return "warning"
	default:
		return "info"
	}
}
