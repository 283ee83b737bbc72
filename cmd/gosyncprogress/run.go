package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gosyncprogress/internal/status"
	"gosyncprogress/internal/utils"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// runEngine starts the engine and runs the monitor and reporter loops plus
// any extra goroutines until ctx is cancelled or one of them fails
func runEngine(ctx context.Context, app *App, eng *engine, extra ...func(ctx context.Context) error) error {
	if err := eng.orch.Init(ctx); err != nil {
		return err
	}
	defer eng.stop(app.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.monitor.Run(gctx) })
	g.Go(func() error { return eng.reporter.Run(gctx) })
	for _, fn := range extra {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Long: `Run in the foreground, probing the server and flushing the queue
whenever the connection returns, on a timer, and after new events are queued.
Stops cleanly on Ctrl+C or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !app.remoteConfigured() {
				return utils.ErrRemoteNotConfigured()
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			eng, err := app.newEngine()
			if err != nil {
				return err
			}

			logger := app.logger.With("component", "daemon")
			unsubscribe := eng.reporter.Subscribe(func(s status.Snapshot) {
				logger.Info("status=%s online=%t saving=%t queued=%d dead=%d",
					s.SyncStatus, s.IsOnline, s.IsSaving, s.QueueSize, s.DeadLetters)
			})
			defer unsubscribe()

			logger.Info("Sync daemon started")
			err = runEngine(ctx, app, eng)
			logger.Info("Sync daemon stopped")
			return err
		},
	}
}
