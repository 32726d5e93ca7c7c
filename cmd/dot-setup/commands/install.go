package commands

import (
	"context"
	"errors"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/dotsetup/dotsetup/pkg/session"
	"github.com/dotsetup/dotsetup/pkg/telemetry"
	"github.com/dotsetup/dotsetup/pkg/tui"
)

// errNoTerminal is returned when the interactive installer has no terminal.
var errNoTerminal = errors.New("the installer needs a terminal; use 'dot-setup run' for unattended runs")

func newInstallCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Start the interactive installer",
		Long: `Start the interactive installer.

The installer lists every step from the configuration. Toggle steps with
space, press enter to review the selection and confirm. The sudo password is
asked once, kept in memory only and reused for later runs in the same
session. While a run is in progress esc cancels it after the current step.

Logs are written to $XDG_STATE_HOME/dot-setup/dot-setup.log unless --log-file
is given.`,
		Example: `  # Start the installer with the configuration next to the binary
  dot-setup install

  # Use a specific configuration and skip the confirmation screen
  dot-setup install --config ~/dotfiles/config.toml --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, opts)
		},
	}
}

func runInstall(cmd *cobra.Command, opts *rootOptions) error {
	if !isTerminal(os.Stdin) || !isTerminal(os.Stdout) {
		return errNoTerminal
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, opts, modeInteractive)
	if err != nil {
		return err
	}
	defer a.Close()

	op := telemetry.StartOperation(a.tel.WithContext(ctx), "cli.install", telemetry.AttrCommand.String("install"))
	logger := a.tel.Logger.NewComponentLogger("tui").Zerolog()

	machine := session.New(a.catalog.TaskList(), a.orch,
		session.WithPasswordRequired(os.Geteuid() != 0),
		session.WithAutoApprove(a.settings.AutoApprove),
		session.WithLogger(logger),
	)
	defer machine.ForgetCredential()

	model := tui.New(op.Ctx, machine, a.orch,
		tui.WithLogger(logger),
		tui.WithConfigPath(a.loaded.Path),
	)
	err = tui.Run(op.Ctx, model)
	if a.orch.Active() {
		// The program can only stop mid-run when its context is cancelled.
		a.orch.RequestCancel()
		logger.Info().Msg("Waiting for the current step to finish")
		_, _ = a.orch.Wait(context.WithoutCancel(ctx))
	}
	op.End(err)
	return err
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
