package commands

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"feedgrid/internal/app"
)

const stopTimeout = 15 * time.Second

func (c *CLI) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the refresh orchestrator",
		Long: `Run feedgrid in the foreground until SIGINT or SIGTERM.

The config file is watched; most sections apply without a restart.

Examples:
  feedgrid serve
  feedgrid serve --config /etc/feedgrid/feedgrid.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runServe(cmd.Context())
		},
	}
}

func (c *CLI) runServe(ctx context.Context) error {
	a, err := app.New(c.cfgFile)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return errors.Join(err, a.Stop(stopCtx, app.StopFatalError))
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	// The app context derives from ctx, so both fire on a signal.
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stopErr := a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return errors.Join(a.Err(), stopErr)
	}
	return stopErr
}
