// Package commands implements the feedgrid command line.
package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "./feedgrid.yaml"

// CLI is the feedgrid command tree.
type CLI struct {
	rootCmd *cobra.Command
	cfgFile string
}

// New builds the command tree.
func New() *CLI {
	c := &CLI{}
	c.rootCmd = &cobra.Command{
		Use:   "feedgrid",
		Short: "Feed refresh orchestrator",
		Long: `feedgrid loads a set of upstream feeds once at startup, keeps them fresh
on per-feed intervals that slow down when nobody is watching, and exposes
an ops API for status, metrics and on-demand loads.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	c.rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}} (commit: %s, date: %s)\n", Commit, Date))
	c.rootCmd.PersistentFlags().StringVar(&c.cfgFile, "config", DefaultConfigPath, "path to config file (yaml or json)")

	c.rootCmd.AddCommand(c.newServeCmd())
	c.rootCmd.AddCommand(c.newCheckCmd())
	c.rootCmd.AddCommand(c.newPlanCmd())
	c.rootCmd.CompletionOptions.DisableDefaultCmd = true
	return c
}

// Execute runs the command tree with ctx.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs overrides os.Args for the next Execute.
func (c *CLI) SetArgs(args ...string) { c.rootCmd.SetArgs(args) }

// SetOutput redirects stdout and stderr of every command.
func (c *CLI) SetOutput(out, errOut io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(errOut)
}
