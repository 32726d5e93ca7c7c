// Package engine provides the task orchestration core of dot-setup.
//
// # Overview
//
// A run takes the enabled subset of an ordered task list and executes each
// task as one or more shell commands, strictly in order:
//
//  1. Task - a named, user-toggleable unit of provisioning work (TaskList)
//  2. Resolve - the task is turned into command lines (Resolver)
//  3. Execute - each command runs through the shell (Executor)
//  4. Track - per-step status moves Pending -> Running -> Completed|Failed (StepTracker)
//  5. Log - output is appended to a bounded live log (LogBuffer)
//
// The Orchestrator owns the tracker and the log and drives the run on a
// single background goroutine. The foreground never runs commands itself; it
// polls SnapshotLog, SnapshotSteps and Finished on a timer.
//
// # Cancellation
//
// RequestCancel sets a flag that the worker checks before each task. The
// command in flight runs to completion. Remaining steps stay Pending and the
// log ends with CancelMarker instead of CompletionBanner.
//
// # Failure isolation
//
// A failing command stops the remaining commands of its task and marks the
// step Failed. The run always continues with the next task. Nothing is retried.
//
// # Error Classification
//
//   - Spawn: the shell could not be started
//   - Command: a command exited with a non-zero status
//   - Config: configuration could not be loaded or resolved
//   - Cancelled: the user stopped the run; not a failure
//   - Internal: an illegal state transition or similar programming error
//
// # Example Usage
//
//	orch := engine.NewOrchestrator(executor.New(), cat)
//	runID, err := orch.Start(ctx, tasks.Tasks(), password)
//	<-orch.Done()
//	fmt.Println(orch.Result().Status)
//
// # Thread Safety
//
// LogBuffer and StepTracker are guarded by mutexes. The run signals are
// atomic flags. At most one run is active per Orchestrator.
package engine
