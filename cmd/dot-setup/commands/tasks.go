package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dotsetup/dotsetup/pkg/catalog"
)

// taskView is the listing form of one catalog task.
type taskView struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Privileged  bool     `json:"privileged" yaml:"privileged"`
	Commands    []string `json:"commands,omitempty" yaml:"commands,omitempty"`
}

func newTasksCommand(opts *rootOptions) *cobra.Command {
	var (
		jsonOut      bool
		yamlOut      bool
		showCommands bool
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List the tasks defined by the configuration",
		Long: `List every task in execution order with its id, default selection and
whether it needs sudo. Task ids are the values accepted by 'run --task'.

Tasks whose package list is empty resolve to no commands and are skipped
when run.`,
		Example: `  # Table
  dot-setup tasks

  # Include the shell commands each task runs
  dot-setup tasks --commands

  # Machine readable
  dot-setup tasks --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOut && yamlOut {
				return fmt.Errorf("--json and --yaml are mutually exclusive")
			}
			_, tel, err := newTelemetry(opts, modeHeadless)
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			loaded, err := loadConfig(opts, tel.Logger)
			if err != nil {
				return err
			}
			views, err := buildTaskViews(catalog.New(loaded.Config), showCommands || jsonOut || yamlOut)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case jsonOut:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			case yamlOut:
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(views)
			default:
				return printTaskTable(out, views, showCommands)
			}
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	cmd.Flags().BoolVar(&yamlOut, "yaml", false, "output YAML")
	cmd.Flags().BoolVar(&showCommands, "commands", false, "show the resolved shell commands")

	return cmd
}

// buildTaskViews lists the catalog, resolving commands when asked.
func buildTaskViews(c *catalog.Catalog, withCommands bool) ([]taskView, error) {
	tasks := c.Tasks()
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		v := taskView{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Enabled:     t.Enabled,
			Privileged:  t.RequiresPrivilege,
		}
		if withCommands {
			cmds, err := c.Resolve(t)
			if err != nil {
				return nil, err
			}
			for _, cmd := range cmds {
				v.Commands = append(v.Commands, cmd.Line)
			}
		}
		views = append(views, v)
	}
	return views, nil
}

func printTaskTable(out io.Writer, views []taskView, showCommands bool) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDEFAULT\tSUDO")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.ID, v.Name, yesNo(v.Enabled), yesNo(v.Privileged))
		if showCommands {
			if len(v.Commands) == 0 {
				fmt.Fprintln(tw, "\t  (nothing to do)\t\t")
			}
			for _, line := range v.Commands {
				fmt.Fprintf(tw, "\t  $ %s\t\t\n", line)
			}
		}
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
