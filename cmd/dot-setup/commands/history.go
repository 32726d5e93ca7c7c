package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dotsetup/dotsetup/pkg/stores"
)

const defaultHistoryLimit = 20

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past runs",
		Long: `Show the runs recorded in the history database.

Each run keeps its steps and a timeline of events. Command output is not
stored; see the log file for that.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return historyList(cmd, opts, defaultHistoryLimit, false)
		},
	}

	cmd.AddCommand(newHistoryListCommand(opts))
	cmd.AddCommand(newHistoryShowCommand(opts))
	cmd.AddCommand(newHistoryPruneCommand(opts))

	return cmd
}

func newHistoryListCommand(opts *rootOptions) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return historyList(cmd, opts, limit, jsonOut)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newHistoryShowCommand(opts *rootOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the steps and events of one run",
		Long: `Show the steps and events of one run. The id may be abbreviated to any
unique prefix, as printed by 'history list'.`,
		Example: `  dot-setup history show 3f2a9c1e`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(ctx context.Context, store *stores.SQLiteStore) error {
				run, err := store.FindRun(ctx, args[0])
				if errors.Is(err, stores.ErrNotFound) {
					return fmt.Errorf("no run matches %q", args[0])
				}
				if err != nil {
					return err
				}
				steps, err := store.ListSteps(ctx, run.ID)
				if err != nil {
					return err
				}
				events, err := store.ListEvents(ctx, run.ID, nil, 0, 0)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), struct {
						Run    *stores.Run     `json:"run"`
						Steps  []*stores.Step  `json:"steps"`
						Events []*stores.Event `json:"events"`
					}{run, steps, events})
				}
				return printRun(cmd.OutOrStdout(), run, steps, events)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newHistoryPruneCommand(opts *rootOptions) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 0 {
				return fmt.Errorf("--keep must not be negative")
			}
			return withStore(cmd, opts, func(ctx context.Context, store *stores.SQLiteStore) error {
				n, err := store.PruneRuns(ctx, keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d run(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 50, "number of recent runs to keep")
	return cmd
}

// withStore opens the history database for the duration of fn.
func withStore(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *stores.SQLiteStore) error) error {
	settings, tel, err := newTelemetry(opts, modeHeadless)
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.WithoutCancel(cmd.Context()))

	settings.History = true
	store, err := openStore(cmd.Context(), settings, tel.Logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.HealthCheck(cmd.Context()); err != nil {
		return fmt.Errorf("run history unavailable: %w", err)
	}

	return fn(cmd.Context(), store)
}

func historyList(cmd *cobra.Command, opts *rootOptions, limit int, jsonOut bool) error {
	return withStore(cmd, opts, func(ctx context.Context, store *stores.SQLiteStore) error {
		runs, err := store.ListRuns(ctx, limit, 0)
		if err != nil {
			return err
		}
		if jsonOut {
			return writeJSON(cmd.OutOrStdout(), runs)
		}
		return printRuns(cmd.OutOrStdout(), runs, time.Now())
	})
}

func printRuns(out io.Writer, runs []*stores.Run, now time.Time) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tSTEPS\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID),
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			r.Status,
			stepCounts(r),
			runDuration(r),
		)
	}
	return tw.Flush()
}

func printRun(out io.Writer, run *stores.Run, steps []*stores.Step, events []*stores.Event) error {
	fmt.Fprintf(out, "Run %s\n", run.ID)
	fmt.Fprintf(out, "  Host:     %s\n", run.Hostname)
	fmt.Fprintf(out, "  Started:  %s (%s)\n", run.StartedAt.Local().Format(time.DateTime), humanize.Time(run.StartedAt))
	fmt.Fprintf(out, "  Status:   %s\n", run.Status)
	fmt.Fprintf(out, "  Steps:    %s\n", stepCounts(run))
	fmt.Fprintf(out, "  Duration: %s\n\n", runDuration(run))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTASK\tSTATUS\tTOOK\tMESSAGE")
	for _, s := range steps {
		took := "-"
		if s.StartedAt != nil && s.FinishedAt != nil {
			took = s.FinishedAt.Sub(*s.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.Index+1, s.Name, s.Status, took, s.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nEvents:")
	for _, e := range events {
		fmt.Fprintf(out, "  %s  %-7s %-14s %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Level, e.Type, e.Message)
	}
	return nil
}

func stepCounts(r *stores.Run) string {
	s := fmt.Sprintf("%d/%d ok", r.Completed, r.Total)
	if r.Failed > 0 {
		s += fmt.Sprintf(", %d failed", r.Failed)
	}
	if r.Pending > 0 && r.Status.IsTerminal() {
		s += fmt.Sprintf(", %d not run", r.Pending)
	}
	return s
}

func runDuration(r *stores.Run) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.Duration.Round(time.Second).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
