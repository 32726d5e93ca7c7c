package engine

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned by Orchestrator.Start while a previous run
// has not yet fired its terminal signal.
var ErrRunInProgress = errors.New("a run is already in progress")

// ErrorClass represents the classification of an error raised while running tasks.
type ErrorClass string

const (
	// ErrorClassSpawn indicates the shell itself could not be launched.
	ErrorClassSpawn ErrorClass = "spawn"

	// ErrorClassCommand indicates a command ran and exited unsuccessfully.
	ErrorClassCommand ErrorClass = "command"

	// ErrorClassConfig indicates missing or malformed configuration.
	// Configuration errors are fatal at startup and never reach a run.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassCancelled indicates the user cancelled the run. Not a failure.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassInternal indicates a programming error such as an illegal state transition.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Task is the task ID that caused the error, if applicable.
	Task string `json:"task,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Task != "" {
		msg += fmt.Sprintf(" (task=%s)", e.Task)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewSpawnError creates a new spawn error.
func NewSpawnError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassSpawn, Message: message, Err: err}
}

// NewCommandError creates a new command failure error.
func NewCommandError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassCommand, Message: message, Err: err}
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConfig, Message: message, Err: err}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassInternal, Message: message, Err: err}
}

// WithTask adds task context to an error.
func (e *EngineError) WithTask(taskID string) *EngineError {
	e.Task = taskID
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsSpawn returns true if the error is classified as a spawn failure.
func IsSpawn(err error) bool { return hasClass(err, ErrorClassSpawn) }

// IsCommand returns true if the error is classified as a command failure.
func IsCommand(err error) bool { return hasClass(err, ErrorClassCommand) }

// IsConfig returns true if the error is classified as a configuration failure.
func IsConfig(err error) bool { return hasClass(err, ErrorClassConfig) }

// IsInternal returns true if the error is classified as internal.
func IsInternal(err error) bool { return hasClass(err, ErrorClassInternal) }

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeIndexOutOfRange   = "INDEX_OUT_OF_RANGE"
	ErrCodeNonZeroExit       = "NON_ZERO_EXIT"
	ErrCodeShellUnavailable  = "SHELL_UNAVAILABLE"
	ErrCodeResolve           = "RESOLVE_FAILED"
)
