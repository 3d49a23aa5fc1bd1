package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"feedgrid/internal/app"
)

func (c *CLI) newPlanCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the bulk load and refresh plans for the config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			v, err := app.DescribePlan(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}

			fmt.Fprintf(out, "variant: %s\nlayers: %v\n\nbulk load (%d):\n", v.Variant, v.Layers, len(v.Bulk))
			for _, name := range v.Bulk {
				fmt.Fprintf(out, "  %s\n", name)
			}
			if v.Disabled {
				fmt.Fprintln(out, "\nrefresh: disabled")
				return nil
			}
			fmt.Fprintln(out, "\nrefresh:")
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "  NAME\tINTERVAL\tACTIVE\tSOURCE")
			for _, r := range v.Refresh {
				fmt.Fprintf(tw, "  %s\t%s\t%t\t%t\n", r.Name, r.Interval, r.Active, r.Feed)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	return cmd
}
