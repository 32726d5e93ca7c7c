package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dotsetup/dotsetup/pkg/config"
	"github.com/dotsetup/dotsetup/pkg/stores"
)

func newInitCommand(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration",
		Long: `Write a starter configuration file and create the state directory.

The configuration is written to --config when given, otherwise to
config.yaml in the user configuration directory. An existing file is kept
unless --force is passed.`,
		Example: `  # Starter config in ~/.config/dot-setup/config.yaml
  dot-setup init

  # Next to the dotfiles, replacing what is there
  dot-setup init --config ~/dotfiles/config.yaml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, tel, err := newTelemetry(opts, modeHeadless)
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			path := opts.configPath
			if path == "" {
				path = filepath.Join(config.UserConfigDir(), "config.yaml")
			}
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Initializing dot-setup\n\n")

			switch err := config.WriteYAML(path, config.Default(), force); {
			case errors.Is(err, config.ErrExists):
				fmt.Fprintf(out, "✓ Configuration exists:   %s (use --force to replace)\n", path)
			case err != nil:
				return err
			default:
				tel.Logger.WithField("path", path).Info("wrote starter configuration")
				fmt.Fprintf(out, "✓ Wrote configuration:    %s\n", path)
			}

			if err := os.MkdirAll(settings.DataDir, 0o700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", settings.DataDir, err)
			}
			fmt.Fprintf(out, "✓ Created state dir:      %s\n", settings.DataDir)

			if settings.History {
				store, err := openStore(cmd.Context(), settings, tel.Logger)
				if err != nil {
					return err
				}
				if err := errors.Join(store.HealthCheck(cmd.Context()), store.Close()); err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Initialized history:    %s\n", stores.DefaultPath(settings.DataDir))
			}

			fmt.Fprintf(out, "\nEdit the configuration, then check it with 'dot-setup validate'.\n")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing configuration file")

	return cmd
}
