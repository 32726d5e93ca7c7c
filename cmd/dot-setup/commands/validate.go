package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotsetup/dotsetup/pkg/catalog"
	"github.com/dotsetup/dotsetup/pkg/config"
	"github.com/dotsetup/dotsetup/pkg/engine"
	"github.com/dotsetup/dotsetup/pkg/policy"
	"github.com/dotsetup/dotsetup/pkg/telemetry"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate the configuration file",
		Long: `Validate a configuration file without running anything.

This command checks:
  - TOML or YAML syntax
  - URLs, package names and required fields
  - The configuration schema
  - That every task resolves to its commands
  - The resolved commands against the command policies

With --watch the file is validated again on every save until interrupted.`,
		Example: `  # Validate the configuration found next to the binary
  dot-setup validate

  # Validate a specific file and keep watching it
  dot-setup validate --watch ~/dotfiles/config.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit := opts.configPath
			if len(args) > 0 {
				explicit = args[0]
			}
			path, err := config.Locate(explicit)
			if err != nil {
				return err
			}

			settings, tel, err := newTelemetry(opts, modeHeadless)
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			ctx := tel.WithContext(cmd.Context())
			op := telemetry.StartOperation(ctx, "cli.validate", telemetry.AttrCommand.String("validate"))
			pe, err := newPolicyEngine(ctx, settings, tel.Logger)
			if err != nil {
				op.End(err)
				return err
			}
			loader := configLoader(tel.Logger)
			out := cmd.OutOrStdout()

			loaded, err := loader.Load(path)
			err = reportValidation(ctx, out, path, loaded, err, pe)
			op.End(err)
			if !watch {
				return err
			}

			return loader.Watch(ctx, path, func(l *config.Loaded, lerr error) {
				fmt.Fprintf(out, "\n[%s] reloaded\n", time.Now().Format(time.TimeOnly))
				_ = reportValidation(ctx, out, path, l, lerr, pe)
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "validate again whenever the file changes")

	return cmd
}

// reportValidation prints the outcome of one load and returns the load error
// or the policy denial. pe may be nil.
func reportValidation(ctx context.Context, out io.Writer, path string, loaded *config.Loaded, err error, pe *policy.Engine) error {
	if err != nil {
		var invalid *config.InvalidConfigError
		if errors.As(err, &invalid) {
			fmt.Fprintf(out, "%s is invalid:\n", path)
			for _, ve := range invalid.Errors {
				if ve.Field != "" {
					fmt.Fprintf(out, "  - %s: %s\n", ve.Field, ve.Message)
				} else {
					fmt.Fprintf(out, "  - %s\n", ve.Message)
				}
			}
		}
		return err
	}

	c := catalog.New(loaded.Config)
	runnable := 0
	for _, t := range c.Tasks() {
		cmds, rerr := c.Resolve(t)
		if rerr != nil {
			fmt.Fprintf(out, "%s: task %s: %v\n", path, t.ID, rerr)
			return rerr
		}
		if len(cmds) > 0 {
			runnable++
		}
	}
	if pe != nil {
		result, perr := pe.CheckTasks(ctx, c, c.Tasks(), policy.OperationValidate)
		if perr != nil {
			return perr
		}
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "  ! %s: %s\n", w.Policy, w.Message)
		}
		if !result.Allowed {
			fmt.Fprintf(out, "%s is blocked by policy:\n", path)
			for _, v := range result.Violations {
				fmt.Fprintf(out, "  - %s: %s\n", v.Policy, v.Message)
			}
			return result.Err()
		}
	}

	enabled := len(engine.EnabledTasks(c.Tasks()))
	fmt.Fprintf(out, "%s is valid: %d tasks, %d with commands, %d enabled by default\n",
		path, len(c.Tasks()), runnable, enabled)
	return nil
}
