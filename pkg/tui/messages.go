// Package tui provides the Bubble Tea terminal UI for dot-setup.
package tui

// TickMsg is sent on every poll interval to refresh the run snapshot.
type TickMsg struct{}

// ErrMsg carries an error to show in the footer.
type ErrMsg struct{ Err error }
