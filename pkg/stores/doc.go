// Package stores persists the run history of dot-setup in SQLite.
// Runs, their steps and a timeline of events are kept; log output is not.
// SQLiteStore implements engine.Recorder so an orchestrator can write to it
// directly, and the history command reads it back.
package stores
