package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/dotsetup/dotsetup/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultFileName is the history database file inside the data directory.
const DefaultFileName = "history.db"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db       *sql.DB
	cfg      Config
	hostname string
	now      func() time.Time
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPath returns the history database path inside dataDir.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, DefaultFileName)
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	hostname, _ := os.Hostname()

	return &SQLiteStore{
		cfg:      cfg,
		hostname: hostname,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RunStarted records a new run with all of its steps pending.
func (s *SQLiteStore) RunStarted(ctx context.Context, runID string, steps []engine.RunStep, startedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, status, hostname, total, pending, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, engine.RunStatusRunning, s.hostname, len(steps), len(steps), startedAt.UTC(), now, now)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	for i, step := range steps {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_steps (run_id, idx, task_id, name, status)
			VALUES (?, ?, ?, ?, ?)
		`, runID, i, step.TaskID, step.Name, step.Status)
		if err != nil {
			return fmt.Errorf("failed to create step %d: %w", i, err)
		}
	}

	msg := fmt.Sprintf("%d task(s)", len(steps))
	if err := appendEvent(ctx, tx, runID, nil, engine.EventTypeRunStarted, msg, startedAt.UTC()); err != nil {
		return err
	}

	return tx.Commit()
}

// StepChanged updates a step and appends the event to the run timeline.
func (s *SQLiteStore) StepChanged(ctx context.Context, event engine.StepEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	at := event.At.UTC()
	var query string
	if event.Type == engine.EventTypeStepStarted {
		query = `UPDATE run_steps SET status = ?, message = ?, started_at = ? WHERE run_id = ? AND idx = ?`
	} else {
		query = `UPDATE run_steps SET status = ?, message = ?, finished_at = ? WHERE run_id = ? AND idx = ?`
	}

	result, err := tx.ExecContext(ctx, query, event.Step.Status, event.Message, at, event.RunID, event.Index)
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("step %d of run %s: %w", event.Index, event.RunID, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE runs SET updated_at = ? WHERE id = ?`, s.now(), event.RunID); err != nil {
		return fmt.Errorf("failed to touch run: %w", err)
	}

	msg := event.Step.Name
	if event.Message != "" {
		msg += ": " + event.Message
	}
	index := event.Index
	if err := appendEvent(ctx, tx, event.RunID, &index, event.Type, msg, at); err != nil {
		return err
	}

	return tx.Commit()
}

// RunFinished stores the final status and counts of a run.
func (s *SQLiteStore) RunFinished(ctx context.Context, res engine.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	completedAt := res.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, completed = ?, failed = ?, pending = ?, completed_at = ?, duration_ms = ?, updated_at = ?
		WHERE id = ?
	`, res.Status, res.Completed, res.Failed, res.Pending, completedAt.UTC(), res.Duration.Milliseconds(), s.now(), res.RunID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", res.RunID, ErrNotFound)
	}

	eventType := engine.EventTypeRunCompleted
	if res.Status == engine.RunStatusCancelled {
		eventType = engine.EventTypeRunCancelled
	}
	msg := fmt.Sprintf("%s: %d completed, %d failed, %d pending", res.Status, res.Completed, res.Failed, res.Pending)
	if err := appendEvent(ctx, tx, res.RunID, nil, eventType, msg, completedAt.UTC()); err != nil {
		return err
	}

	return tx.Commit()
}

func appendEvent(ctx context.Context, tx *sql.Tx, runID string, stepIndex *int, eventType engine.EventType, message string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (run_id, step_index, type, level, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, stepIndex, eventType, eventType.Severity(), message, at)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

const runColumns = `id, status, hostname, total, completed, failed, pending, started_at, completed_at, duration_ms, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var completedAt sql.NullTime
	var durationMS int64
	err := row.Scan(
		&run.ID,
		&run.Status,
		&run.Hostname,
		&run.Total,
		&run.Completed,
		&run.Failed,
		&run.Pending,
		&run.StartedAt,
		&completedAt,
		&durationMS,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// FindRun resolves a run by full ID or unique ID prefix.
func (s *SQLiteStore) FindRun(ctx context.Context, prefix string) (*Run, error) {
	if prefix == "" {
		return nil, fmt.Errorf("run id is required")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id LIKE ? || '%' ORDER BY started_at DESC LIMIT 2`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to find run: %w", err)
	}
	defer rows.Close()

	var found []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("run %s: %w", prefix, ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", prefix)
	}
}

// ListRuns lists runs with pagination, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ListSteps returns the steps of a run in execution order
func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]*Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, idx, task_id, name, status, message, started_at, finished_at
		FROM run_steps
		WHERE run_id = ?
		ORDER BY idx
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := []*Step{}
	for rows.Next() {
		step := &Step{}
		var startedAt, finishedAt sql.NullTime
		err := rows.Scan(
			&step.RunID,
			&step.Index,
			&step.TaskID,
			&step.Name,
			&step.Status,
			&step.Message,
			&startedAt,
			&finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.StartedAt = timePtr(startedAt)
		step.FinishedAt = timePtr(finishedAt)
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

// ListEvents returns the timeline of a run, oldest first, optionally filtered by level
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, level *EventLevel, limit, offset int) ([]*Event, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, step_index, type, level, message, timestamp
		FROM events
		WHERE run_id = ?
		  AND (? IS NULL OR level = ?)
		ORDER BY id
		LIMIT ? OFFSET ?
	`, runID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		var stepIndex sql.NullInt64
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&stepIndex,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if stepIndex.Valid {
			idx := int(stepIndex.Int64)
			event.StepIndex = &idx
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// DeleteRun deletes a run and, through cascading keys, its steps and events
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// PruneRuns keeps the newest keep runs and deletes the rest.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

var _ Store = (*SQLiteStore)(nil)
