package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotsetup/dotsetup/pkg/engine"
	"github.com/dotsetup/dotsetup/pkg/telemetry"
	"github.com/dotsetup/dotsetup/pkg/tui"
)

// Output formats of the run command.
const (
	outputText = "text"
	outputJSON = "json"
)

// eventTypes are the values accepted by --events.
var eventTypes = []engine.EventType{
	engine.EventTypeRunStarted,
	engine.EventTypeRunCompleted,
	engine.EventTypeRunCancelled,
	engine.EventTypeStepStarted,
	engine.EventTypeStepCompleted,
	engine.EventTypeStepFailed,
	engine.EventTypeStepSkipped,
}

// runOutput selects what the run command writes to stdout.
type runOutput struct {
	format string
	filter telemetry.EventFilter
}

// errAborted is returned when the user declines the confirmation prompt.
var errAborted = errors.New("aborted")

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		taskIDs       []string
		passwordStdin bool
		output        string
		events        []string
		eventLevel    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run tasks without the TUI",
		Long: `Run a selection of tasks and stream the log to stdout.

Without --task the tasks enabled by default are used. On a terminal the
selection, the confirmation and the sudo password are asked with prompts;
otherwise pass --yes and, for privileged tasks, --password-stdin.

The first interrupt cancels the run after the current step finishes; a
second interrupt kills it.`,
		Example: `  # Pick tasks interactively
  dot-setup run

  # Unattended run of two tasks
  echo "$PASSWORD" | dot-setup run --task system-update --task core-packages --yes --password-stdin

  # Machine readable step events
  dot-setup run --task flatpak-apps --yes --output json

  # Only failures, as JSON
  dot-setup run --yes --output json --event-level error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != outputText && output != outputJSON {
				return fmt.Errorf("invalid output format %q (must be text or json)", output)
			}
			filter, err := eventFilter(events, eventLevel)
			if err != nil {
				return err
			}
			return runHeadless(cmd, opts, taskIDs, passwordStdin, runOutput{format: output, filter: filter})
		},
	}

	cmd.Flags().StringSliceVarP(&taskIDs, "task", "t", nil, "task id to run (repeatable, see 'dot-setup tasks')")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the sudo password from the first line of stdin")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text, json)")
	cmd.Flags().StringSliceVar(&events, "events", nil, "event types printed with --output json (default all)")
	cmd.Flags().StringVar(&eventLevel, "event-level", telemetry.EventLevelInfo, "lowest event level printed with --output json (info, warning, error)")

	return cmd
}

// eventFilter builds the --output json filter. It returns nil when every
// event is printed.
func eventFilter(types []string, level string) (telemetry.EventFilter, error) {
	var filters []telemetry.EventFilter
	switch level {
	case "", telemetry.EventLevelInfo:
	case telemetry.EventLevelWarning, telemetry.EventLevelError:
		filters = append(filters, telemetry.FilterByLevel(level))
	default:
		return nil, fmt.Errorf("invalid event level %q (must be info, warning or error)", level)
	}

	if len(types) > 0 {
		selected := make([]engine.EventType, 0, len(types))
		for _, t := range types {
			et := engine.EventType(strings.TrimSpace(t))
			if !slices.Contains(eventTypes, et) {
				return nil, fmt.Errorf("unknown event type %q", t)
			}
			selected = append(selected, et)
		}
		filters = append(filters, telemetry.FilterByType(selected...))
	}

	switch len(filters) {
	case 0:
		return nil, nil
	case 1:
		return filters[0], nil
	}
	return func(e telemetry.Event) bool {
		for _, f := range filters {
			if !f(e) {
				return false
			}
		}
		return true
	}, nil
}

func runHeadless(cmd *cobra.Command, opts *rootOptions, taskIDs []string, passwordStdin bool, output runOutput) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts, modeHeadless)
	if err != nil {
		return err
	}
	defer a.Close()

	op := telemetry.StartOperation(a.tel.WithContext(ctx), "cli.run", telemetry.AttrCommand.String("run"))
	err = a.run(op.Ctx, cmd.InOrStdin(), cmd.OutOrStdout(), taskIDs, passwordStdin, output)
	op.End(err)
	if errors.Is(err, errAborted) {
		return nil
	}
	return err
}

func (a *app) run(ctx context.Context, in io.Reader, out io.Writer, taskIDs []string, passwordStdin bool, output runOutput) error {
	interactive := !passwordStdin && isTerminal(os.Stdin) && isTerminal(os.Stdout)

	tasks, err := a.catalog.Select(taskIDs)
	if err != nil {
		return err
	}
	if len(taskIDs) == 0 && interactive && !a.settings.AutoApprove {
		if tasks, err = chooseTasks(ctx, tasks); err != nil {
			return err
		}
	}

	enabled := engine.EnabledTasks(tasks)
	if len(enabled) == 0 {
		return errors.New("no tasks selected")
	}

	if !a.settings.AutoApprove {
		if !interactive {
			return errors.New("stdin is not a terminal: pass --yes to run without confirmation")
		}
		ok, err := confirmRun(ctx, enabled)
		if err != nil {
			return err
		}
		if !ok {
			return errAborted
		}
	}

	credential, err := a.credential(ctx, in, enabled, passwordStdin, interactive)
	if err != nil {
		return err
	}
	defer clear(credential)

	if output.format == outputJSON {
		a.tel.Events.Subscribe(jsonEventWriter(out), output.filter)
	}

	// Interrupts are handled by streamRun as a cooperative cancel, so the
	// run itself must not see ctx being cancelled.
	if _, err := a.orch.Start(context.WithoutCancel(ctx), tasks, credential); err != nil {
		return err
	}
	result := streamRun(ctx, a.orch, out, output.format == outputText)

	logger := a.logger.WithRunID(result.RunID)
	if id := telemetry.TraceID(ctx); id != "" {
		logger = logger.WithField("trace_id", id)
	}
	logger.Infof("run %s: %d completed, %d failed, %d pending",
		result.Status, result.Completed, result.Failed, result.Pending)
	return resultError(result)
}

// credential returns the sudo password for the run. Nothing is asked when no
// task needs privileges or the process already runs as root.
func (a *app) credential(ctx context.Context, in io.Reader, tasks []engine.Task, passwordStdin, interactive bool) ([]byte, error) {
	needed := engine.NewTaskList(tasks).RequiresPrivilege() && os.Geteuid() != 0
	switch {
	case passwordStdin:
		// Consume the line even when unused so callers can pipe unconditionally.
		pw, err := readPasswordLine(in)
		if err != nil && needed {
			return nil, err
		}
		if !needed {
			clear(pw)
			return nil, nil
		}
		return pw, nil
	case !needed:
		return nil, nil
	case interactive:
		return promptPassword(ctx)
	default:
		// sudo -n fails fast unless a cached sudo timestamp exists.
		a.logger.Warn("no password given; privileged steps rely on cached sudo credentials")
		return nil, nil
	}
}

// runLog is the slice of the orchestrator streamRun needs.
type runLog interface {
	LogSince(cursor uint64) ([]string, uint64)
	RequestCancel()
	Done() <-chan struct{}
	Result() engine.RunResult
}

// streamRun copies new log lines to out until the run ends. Cancelling ctx
// requests a cooperative cancel; after that the default interrupt handling is
// restored so a second interrupt terminates the process.
func streamRun(ctx context.Context, orch runLog, out io.Writer, printLog bool) engine.RunResult {
	ticker := time.NewTicker(tui.PollInterval)
	defer ticker.Stop()

	var cursor uint64
	flush := func() {
		var lines []string
		lines, cursor = orch.LogSince(cursor)
		if !printLog {
			return
		}
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
	}

	cancelled := ctx.Done()
	for {
		select {
		case <-orch.Done():
			flush()
			return orch.Result()
		case <-cancelled:
			orch.RequestCancel()
			signal.Reset(os.Interrupt)
			cancelled = nil
			if printLog {
				fmt.Fprintln(out, "Cancel requested, waiting for the current step to finish...")
			}
		case <-ticker.C:
			flush()
		}
	}
}

// jsonEventWriter prints each event as one JSON line.
func jsonEventWriter(out io.Writer) telemetry.EventSubscriber {
	enc := json.NewEncoder(out)
	return func(e telemetry.Event) {
		_ = enc.Encode(e)
	}
}

// resultError turns an unsuccessful run into the command's error.
func resultError(r engine.RunResult) error {
	switch {
	case r.Status == engine.RunStatusCancelled:
		return fmt.Errorf("run cancelled: %d of %d step(s) not run", r.Pending, r.Total)
	case r.Failed > 0:
		return fmt.Errorf("%d of %d step(s) failed", r.Failed, r.Total)
	default:
		return nil
	}
}
