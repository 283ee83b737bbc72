package main

import (
	"context"

	"gosyncprogress/internal/cli"

	"github.com/spf13/cobra"
)

func newWatchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live sync status with flush controls",
		Long: `Show a live status screen while the sync engine runs.

Keys: f flush, s force save, q quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			eng, err := app.newEngine()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			return runEngine(ctx, app, eng, func(ctx context.Context) error {
				defer cancel()
				return cli.Watch(ctx, eng.reporter, cli.WatchActions{
					Flush:     eng.orch.FlushQueue,
					ForceSave: eng.orch.ForceSave,
				})
			})
		},
	}
}
