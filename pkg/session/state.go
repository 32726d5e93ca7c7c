// Package session implements the interactive session state machine that
// sits between the user interface and the orchestrator.
//
// States move Selection -> Confirm -> GettingPassword -> Running -> Done and
// back to Selection. GettingPassword is skipped when no selected task needs
// privilege or a credential is already cached for the process.
package session

import "github.com/dotsetup/dotsetup/pkg/engine"

// Kind names a state for rendering and logging.
type Kind string

const (
	KindSelection       Kind = "selection"
	KindConfirm         Kind = "confirm"
	KindGettingPassword Kind = "getting_password"
	KindRunning         Kind = "running"
	KindDone            Kind = "done"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// State is one of Selection, Confirm, GettingPassword, Running or Done.
// The set is closed: only this package can add implementations.
type State interface {
	Kind() Kind
	state()
}

// Selection is the task picker.
type Selection struct{}

// Confirm shows the tasks about to run and waits for approval.
type Confirm struct {
	Tasks []engine.Task
}

// GettingPassword waits for the elevation credential.
type GettingPassword struct {
	// Retry is set when a previous submission was rejected.
	Retry bool
}

// Running tracks an active run.
type Running struct {
	RunID string
}

// Done shows the outcome and log of the last run.
type Done struct {
	Result engine.RunResult

	// Browsing is true when the log is viewed from the menu rather than at
	// the end of a run.
	Browsing bool
}

func (Selection) Kind() Kind       { return KindSelection }
func (Confirm) Kind() Kind         { return KindConfirm }
func (GettingPassword) Kind() Kind { return KindGettingPassword }
func (Running) Kind() Kind         { return KindRunning }
func (Done) Kind() Kind            { return KindDone }

func (Selection) state()       {}
func (Confirm) state()         {}
func (GettingPassword) state() {}
func (Running) state()         {}
func (Done) state()            {}
