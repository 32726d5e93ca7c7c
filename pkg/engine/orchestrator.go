package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Log lines produced by the orchestrator around the task output.
const (
	CompletionBanner = "=== Setup complete! ==="
	CancelMarker     = "=== Installation cancelled ==="
)

// DefaultCompletionHints follow the completion banner.
var DefaultCompletionHints = []string{
	"Consider restarting or running: exec zsh",
	"Press ESC to return to menu",
}

// Orchestrator executes the enabled tasks of a run one at a time on a
// background goroutine. The foreground reads progress through snapshots and
// signals cancellation with RequestCancel; cancellation is honored at task
// boundaries only.
type Orchestrator struct {
	executor Executor
	resolver Resolver

	log     *LogBuffer
	tracker *StepTracker

	// active is held from Start until the worker fires its terminal signal.
	active          atomic.Bool
	cancelRequested atomic.Bool
	complete        atomic.Bool
	finished        atomic.Bool

	// mu protects the fields describing the current run.
	mu     sync.Mutex
	runID  string
	result RunResult
	done   chan struct{}

	recorder Recorder
	metrics  MetricsObserver
	tracer   trace.Tracer
	logger   zerolog.Logger
	hints    []string
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder persists run history through r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithMetrics reports outcomes to m.
func WithMetrics(m MetricsObserver) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer creates a span per run and per step.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.With().Str("component", "orchestrator").Logger() }
}

// WithLogCapacity bounds the live log.
func WithLogCapacity(capacity int) Option {
	return func(o *Orchestrator) { o.log = NewLogBuffer(capacity) }
}

// WithCompletionHints replaces the lines appended after the completion banner.
func WithCompletionHints(lines ...string) Option {
	return func(o *Orchestrator) { o.hints = lines }
}

// NewOrchestrator creates an orchestrator using executor to run the commands
// produced by resolver.
func NewOrchestrator(executor Executor, resolver Resolver, opts ...Option) *Orchestrator {
	done := make(chan struct{})
	close(done)

	o := &Orchestrator{
		executor: executor,
		resolver: resolver,
		log:      NewLogBuffer(DefaultLogCapacity),
		tracker:  NewStepTracker(),
		tracer:   noop.NewTracerProvider().Tracer("dot-setup/engine"),
		logger:   zerolog.Nop(),
		hints:    DefaultCompletionHints,
		now:      time.Now,
		done:     done,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start begins a run over the enabled subset of tasks and returns its ID
// without waiting. The credential is copied; the copy is zeroed when the run
// ends. Start fails with ErrRunInProgress while a previous run is still active.
func (o *Orchestrator) Start(ctx context.Context, tasks []Task, credential []byte) (string, error) {
	if !o.active.CompareAndSwap(false, true) {
		return "", ErrRunInProgress
	}

	enabled := EnabledTasks(tasks)
	secret := make([]byte, len(credential))
	copy(secret, credential)

	o.cancelRequested.Store(false)
	o.complete.Store(false)
	o.finished.Store(false)
	o.log.Clear()
	o.tracker.Reset(enabled)

	runID := uuid.New().String()
	startedAt := o.now()
	done := make(chan struct{})

	o.mu.Lock()
	o.runID = runID
	o.done = done
	o.result = RunResult{
		RunID:     runID,
		Status:    RunStatusRunning,
		Total:     len(enabled),
		Pending:   len(enabled),
		StartedAt: startedAt,
	}
	o.mu.Unlock()

	o.logger.Info().
		Str("run_id", runID).
		Int("tasks", len(enabled)).
		Bool("credential", len(secret) > 0).
		Msg("Run started")

	if o.recorder != nil {
		if err := o.recorder.RunStarted(ctx, runID, o.tracker.Snapshot(), startedAt); err != nil {
			o.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to record run start")
		}
	}
	if o.metrics != nil {
		o.metrics.RunStarted()
	}

	go o.execute(ctx, runID, enabled, secret, startedAt, done)

	return runID, nil
}

// execute is the worker loop. It is the only writer of the log and tracker
// while the run is active.
func (o *Orchestrator) execute(ctx context.Context, runID string, tasks []Task, credential []byte, startedAt time.Time, done chan struct{}) {
	ctx, span := o.tracer.Start(ctx, "run.execute", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.tasks", len(tasks)),
	))

	cancelled := false
	for i, task := range tasks {
		if o.cancelled(ctx) {
			cancelled = true
			break
		}
		o.runTask(ctx, runID, i, task, credential)
	}
	if !cancelled && o.cancelled(ctx) {
		cancelled = true
	}

	if cancelled {
		o.log.AppendMany([]string{"", CancelMarker})
	} else {
		o.log.AppendMany(append([]string{"", CompletionBanner}, o.hints...))
		o.complete.Store(true)
	}

	clear(credential)

	completedAt := o.now()
	result := Summarize(o.tracker.Snapshot(), cancelled)
	result.RunID = runID
	result.StartedAt = startedAt
	result.CompletedAt = completedAt
	result.Duration = completedAt.Sub(startedAt)

	span.SetAttributes(
		attribute.String("run.status", string(result.Status)),
		attribute.Int("run.failed", result.Failed),
	)
	if result.Status == RunStatusFailed || result.Status == RunStatusPartial {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d steps failed", result.Failed, result.Total))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	if o.recorder != nil {
		if err := o.recorder.RunFinished(context.WithoutCancel(ctx), result); err != nil {
			o.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to record run result")
		}
	}
	if o.metrics != nil {
		o.metrics.RunFinished(result.Status, result.Duration)
	}

	o.logger.Info().
		Str("run_id", runID).
		Str("status", string(result.Status)).
		Int("completed", result.Completed).
		Int("failed", result.Failed).
		Int("pending", result.Pending).
		Dur("duration", result.Duration).
		Msg("Run finished")

	o.mu.Lock()
	o.result = result
	o.mu.Unlock()

	o.finished.Store(true)
	o.active.Store(false)
	close(done)
}

// runTask executes all commands of one task, stopping at the first failure.
func (o *Orchestrator) runTask(ctx context.Context, runID string, index int, task Task, credential []byte) {
	ctx, span := o.tracer.Start(ctx, "step.execute", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("task.id", task.ID),
		attribute.Int("step.index", index),
	))
	defer span.End()

	started := o.now()
	logger := o.logger.With().Str("run_id", runID).Str("task", task.ID).Logger()

	if err := o.tracker.Start(index); err != nil {
		logger.Error().Err(err).Msg("Step could not start")
		span.RecordError(err)
		return
	}
	o.recordStep(ctx, runID, index, EventTypeStepStarted, "")

	commands, err := o.resolver.Resolve(task)
	if err != nil {
		rerr := NewConfigError("failed to resolve commands", err).WithTask(task.ID).WithCode(ErrCodeResolve)
		o.log.AppendMany([]string{"", stepHeader(task), "Error: " + err.Error(), failureSummary(task, nil)})
		o.finishStep(ctx, runID, index, EventTypeStepFailed, started, rerr.Error())
		span.RecordError(rerr)
		span.SetStatus(codes.Error, rerr.Message)
		logger.Warn().Err(rerr).Msg("Step failed")
		return
	}

	commands = nonBlank(commands)
	if len(commands) == 0 {
		o.finishStep(ctx, runID, index, EventTypeStepSkipped, started, "nothing to do")
		span.SetAttributes(attribute.Bool("step.skipped", true))
		logger.Debug().Msg("Step skipped")
		return
	}

	o.log.AppendMany([]string{"", stepHeader(task)})

	ok := true
	var exitCode *int
	for n, cmd := range commands {
		res := o.executor.Execute(ctx, cmd, credential)

		o.log.AppendMany(res.StdoutLines)
		if res.Stderr != "" {
			o.log.Append("stderr: " + res.Stderr)
		}
		if res.Err != nil {
			o.log.Append("Error: " + res.Err.Error())
		}

		logger.Debug().
			Int("command", n).
			Bool("privileged", cmd.Privileged).
			Bool("success", res.Success).
			Dur("duration", res.Duration).
			Msg("Command finished")

		if !res.Success {
			ok = false
			exitCode = res.ExitCode
			var cerr *EngineError
			if res.Err != nil {
				cerr = NewSpawnError("command could not be started", res.Err)
			} else {
				cerr = NewCommandError("command exited unsuccessfully", nil).WithCode(ErrCodeNonZeroExit)
			}
			cerr.WithTask(task.ID)
			span.RecordError(cerr)
			span.SetStatus(codes.Error, cerr.Message)
			logger.Warn().Err(cerr).Str("exit_code", formatExitCode(exitCode)).Msg("Step failed")
			break
		}
	}

	if ok {
		o.log.Append(fmt.Sprintf("✓ %s completed", task.Name))
		span.SetStatus(codes.Ok, "")
		o.finishStep(ctx, runID, index, EventTypeStepCompleted, started, "")
		return
	}
	o.log.Append(failureSummary(task, exitCode))
	o.finishStep(ctx, runID, index, EventTypeStepFailed, started, "exit code: "+formatExitCode(exitCode))
}

func (o *Orchestrator) finishStep(ctx context.Context, runID string, index int, eventType EventType, started time.Time, message string) {
	ok := eventType != EventTypeStepFailed
	if err := o.tracker.Finish(index, ok); err != nil {
		o.logger.Error().Err(err).Str("run_id", runID).Int("step", index).Msg("Step could not finish")
		return
	}

	o.recordStep(ctx, runID, index, eventType, message)
	if o.metrics != nil {
		status := StepStatusCompleted
		if !ok {
			status = StepStatusFailed
		}
		o.metrics.StepFinished(status, o.now().Sub(started))
	}
}

func (o *Orchestrator) recordStep(ctx context.Context, runID string, index int, eventType EventType, message string) {
	if o.recorder == nil {
		return
	}
	steps := o.tracker.Snapshot()
	if index < 0 || index >= len(steps) {
		return
	}
	event := StepEvent{
		RunID:   runID,
		Index:   index,
		Step:    steps[index],
		Type:    eventType,
		Message: message,
		At:      o.now(),
	}
	if err := o.recorder.StepChanged(context.WithoutCancel(ctx), event); err != nil {
		o.logger.Warn().Err(err).Str("run_id", runID).Int("step", index).Msg("Failed to record step")
	}
}

// cancelled reports whether the user asked to stop or the parent context ended.
func (o *Orchestrator) cancelled(ctx context.Context) bool {
	return o.cancelRequested.Load() || ctx.Err() != nil
}

// RequestCancel asks the active run to stop before its next task.
// The command in flight is allowed to finish.
func (o *Orchestrator) RequestCancel() {
	if o.active.Load() {
		o.cancelRequested.Store(true)
		o.logger.Info().Str("run_id", o.RunID()).Msg("Cancellation requested")
	}
}

// CancelRequested reports whether cancellation was requested for the current run.
func (o *Orchestrator) CancelRequested() bool {
	return o.cancelRequested.Load()
}

// SnapshotLog returns a copy of the live log.
func (o *Orchestrator) SnapshotLog() []string {
	return o.log.Snapshot()
}

// LogSince returns the log lines appended after cursor and the next cursor.
// Start resets the cursor space; pass 0 to read from the beginning of a run.
func (o *Orchestrator) LogSince(cursor uint64) ([]string, uint64) {
	return o.log.Since(cursor)
}

// SnapshotSteps returns a copy of the step statuses.
func (o *Orchestrator) SnapshotSteps() []RunStep {
	return o.tracker.Snapshot()
}

// IsComplete reports whether the last run reached the end of its task list
// without being cancelled.
func (o *Orchestrator) IsComplete() bool {
	return o.complete.Load()
}

// Finished reports whether the last run has ended, completed or cancelled.
func (o *Orchestrator) Finished() bool {
	return o.finished.Load()
}

// Active reports whether a run is in progress.
func (o *Orchestrator) Active() bool {
	return o.active.Load()
}

// Done returns a channel closed when the current run ends.
// Before the first run it returns a closed channel.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Wait blocks until the current run ends or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) (RunResult, error) {
	select {
	case <-o.Done():
		return o.Result(), nil
	case <-ctx.Done():
		return o.Result(), ctx.Err()
	}
}

// RunID returns the ID of the current or last run.
func (o *Orchestrator) RunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runID
}

// Result returns the summary of the last run. While the run is active the
// status is RunStatusRunning and the counts are live.
func (o *Orchestrator) Result() RunResult {
	o.mu.Lock()
	res := o.result
	o.mu.Unlock()

	if res.Status.IsActive() {
		live := Summarize(o.tracker.Snapshot(), false)
		res.Completed, res.Failed, res.Pending = live.Completed, live.Failed, live.Pending
		res.Duration = o.now().Sub(res.StartedAt)
	}
	return res
}

// Reset clears the log and step tracker between runs.
// It has no effect while a run is active.
func (o *Orchestrator) Reset() {
	if o.active.Load() {
		return
	}
	o.log.Clear()
	o.tracker.Reset(nil)
	o.complete.Store(false)
	o.cancelRequested.Store(false)
}

func stepHeader(task Task) string {
	return "=== " + task.Name + " ==="
}

func failureSummary(task Task, exitCode *int) string {
	return fmt.Sprintf("✗ %s failed (exit code: %s)", task.Name, formatExitCode(exitCode))
}

func formatExitCode(code *int) string {
	if code == nil {
		return "none"
	}
	return strconv.Itoa(*code)
}

func nonBlank(commands []Command) []Command {
	out := commands[:0:0]
	for _, c := range commands {
		if strings.TrimSpace(c.Line) != "" {
			out = append(out, c)
		}
	}
	return out
}
