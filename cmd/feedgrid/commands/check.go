package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"feedgrid/internal/config"
)

func (c *CLI) newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (variant %s, %d sources)\n", c.cfgFile, variantOf(cfg), len(cfg.Feeds.Sources))
			return nil
		},
	}
}

func (c *CLI) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.NewManager(c.cfgFile).Parse()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cmd.Context(), cfg); err != nil {
		return nil, fmt.Errorf("%s: invalid config:\n%w", c.cfgFile, err)
	}
	return cfg, nil
}

func variantOf(cfg *config.Config) string {
	if cfg.Variant == "" {
		return "full"
	}
	return cfg.Variant
}
