package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootOptions carries the global flags shared by every subcommand.
type rootOptions struct {
	configPath string
	version    string
	viper      *viper.Viper
}

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &rootOptions{
		version: version,
		viper:   newSettingsViper(),
	}

	rootCmd := &cobra.Command{
		Use:   "dot-setup",
		Short: "dot-setup - workstation provisioning in the terminal",
		Long: `dot-setup provisions a Fedora workstation from a declarative configuration.

Pick the steps to run (repositories, dnf packages, Docker, Flatpak apps,
Homebrew, Cargo, Terra, dotfiles), enter the sudo password once and watch
each step run with a live log. Failed steps do not stop the run and a run
can be cancelled between steps.

Without a subcommand the interactive installer starts.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.viper.BindPFlags(cmd.Root().PersistentFlags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (config.toml or config.yaml)")
	registerSettingsFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newInstallCommand(opts))
	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newTasksCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newPoliciesCommand(opts))
	rootCmd.AddCommand(newInitCommand(opts))

	return rootCmd
}
