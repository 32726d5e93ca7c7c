package stores

import (
	"context"
	"errors"
	"time"

	"github.com/dotsetup/dotsetup/pkg/engine"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one installer run
type Run struct {
	ID          string           `json:"id"`
	Status      engine.RunStatus `json:"status"`
	Hostname    string           `json:"hostname"`
	Total       int              `json:"total"`
	Completed   int              `json:"completed"`
	Failed      int              `json:"failed"`
	Pending     int              `json:"pending"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Duration    time.Duration    `json:"duration"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Step represents the record of one task within a run
type Step struct {
	RunID      string            `json:"run_id"`
	Index      int               `json:"index"`
	TaskID     string            `json:"task_id"`
	Name       string            `json:"name"`
	Status     engine.StepStatus `json:"status"`
	Message    string            `json:"message,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// Event represents an append-only timeline event
type Event struct {
	ID        int64            `json:"id"`
	RunID     string           `json:"run_id"`
	StepIndex *int             `json:"step_index,omitempty"`
	Type      engine.EventType `json:"type"`
	Level     EventLevel       `json:"level"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}

// Store defines the interface for the run history
type Store interface {
	engine.Recorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Queries
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	ListSteps(ctx context.Context, runID string) ([]*Step, error)
	ListEvents(ctx context.Context, runID string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Maintenance
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, keep int) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
