package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dotsetup/dotsetup/pkg/policy"
)

func newPoliciesCommand(opts *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "policies [name]",
		Short: "List the command policies",
		Long: `List the built-in command policies and those loaded from the policy
directory, with their severity and whether they are enabled.

With a name the policy's Rego source is printed. --enable-policy and
--disable-policy apply here as they do for run and validate.`,
		Example: `  # Table
  dot-setup policies

  # Show the Rego of one policy
  dot-setup policies inline-sudo

  # What a run would check with remote-script switched off
  dot-setup policies --disable-policy remote-script`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, tel, err := newTelemetry(opts, modeHeadless)
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			out := cmd.OutOrStdout()
			eng, err := newPolicyEngine(cmd.Context(), settings, tel.Logger)
			if err != nil {
				return err
			}
			if eng == nil {
				fmt.Fprintln(out, "Command policies are switched off (--policy=false).")
				return nil
			}

			if len(args) == 1 {
				p, err := eng.GetPolicy(args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(out, p)
				}
				return printPolicy(out, p)
			}

			policies := eng.ListPolicies()
			if jsonOut {
				return writeJSON(out, policies)
			}
			return printPolicies(out, policies)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")

	return cmd
}

func printPolicies(out io.Writer, policies []policy.Policy) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED\tSOURCE\tDESCRIPTION")
	for _, p := range policies {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.Severity, yesNo(p.Enabled), policySource(p), p.Description)
	}
	return tw.Flush()
}

func printPolicy(out io.Writer, p *policy.Policy) error {
	fmt.Fprintf(out, "Policy %s\n", p.Name)
	fmt.Fprintf(out, "  Severity: %s\n", p.Severity)
	fmt.Fprintf(out, "  Enabled:  %s\n", yesNo(p.Enabled))
	fmt.Fprintf(out, "  Source:   %s\n", policySource(*p))
	if p.Description != "" {
		fmt.Fprintf(out, "  %s\n", p.Description)
	}
	_, err := fmt.Fprintf(out, "\n%s\n", p.Rego)
	return err
}

func policySource(p policy.Policy) string {
	if p.Source == "" {
		return "built-in"
	}
	return p.Source
}
