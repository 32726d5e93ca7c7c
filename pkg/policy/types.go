package policy

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for commands that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the task.
	SeverityError Severity = "error"

	// SeverityCritical blocks the task and marks a command that could damage the system.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity stops a task.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Operations passed to policies in the input context.
const (
	OperationRun      = "run"
	OperationValidate = "validate"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The module must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from; empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Input is the document a policy sees as input. One input is evaluated per
// command line.
type Input struct {
	Task       TaskInput    `json:"task"`
	Command    string       `json:"command"`
	Privileged bool         `json:"privileged"`
	Context    InputContext `json:"context"`
}

// TaskInput describes the task a command belongs to.
type TaskInput struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Privileged bool   `json:"privileged"`
}

// InputContext provides context information for policy evaluation.
type InputContext struct {
	// Operation is OperationRun or OperationValidate.
	Operation string `json:"operation"`

	// Root is true when dot-setup itself runs as root.
	Root bool `json:"root"`

	Timestamp time.Time `json:"timestamp"`
}

// Violation represents a single policy violation.
type Violation struct {
	Policy   string   `json:"policy"`
	TaskID   string   `json:"task_id,omitempty"`
	Command  string   `json:"command,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Policy, v.Message)
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation blocks.
	Allowed bool `json:"allowed"`

	// Violations lists the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that don't block.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	Duration time.Duration `json:"duration"`
}

// NewResult returns an empty, allowing result.
func NewResult() *Result {
	return &Result{Allowed: true}
}

func (r *Result) add(v Violation) {
	if v.Severity.Blocks() {
		r.Violations = append(r.Violations, v)
		r.Allowed = false
		return
	}
	r.Warnings = append(r.Warnings, v)
}

// Merge folds other into r.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	for _, v := range other.Violations {
		r.add(v)
	}
	r.Warnings = append(r.Warnings, other.Warnings...)
	for _, name := range other.EvaluatedPolicies {
		if !slices.Contains(r.EvaluatedPolicies, name) {
			r.EvaluatedPolicies = append(r.EvaluatedPolicies, name)
		}
	}
	r.Duration += other.Duration
}

// Err returns a *DeniedError when the result is not allowed.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	return &DeniedError{Violations: r.Violations}
}

// DeniedError is returned when a policy blocks a task.
type DeniedError struct {
	Violations []Violation
}

func (e *DeniedError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "blocked by policy: " + strings.Join(parts, "; ")
}
