package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	progresssync "gosyncprogress/internal/sync"
	"gosyncprogress/internal/utils"

	"github.com/spf13/cobra"
)

// backgroundFlushTimeout bounds a detached flush; unsent events stay queued
const backgroundFlushTimeout = 30 * time.Second

// startOnline builds and starts an engine and fails when the server is
// unreachable
func (a *App) startOnline(ctx context.Context) (*engine, error) {
	if !a.remoteConfigured() {
		return nil, utils.ErrRemoteNotConfigured()
	}
	eng, err := a.newEngine()
	if err != nil {
		return nil, err
	}
	if err := eng.start(ctx); err != nil {
		eng.stop(a.logger)
		return nil, err
	}
	return eng, nil
}

func newFlushCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Send queued progress now",
		Long: `Send queued progress to the server, batch after batch, until nothing
eligible is left. Events waiting out a retry backoff are left for later;
use force-save to send them immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := app.startOnline(ctx)
			if err != nil {
				return err
			}
			defer eng.stop(app.logger)

			if !eng.monitor.IsOnline() {
				return utils.ErrOffline("")
			}
			if err := eng.orch.FlushQueue(ctx); err != nil {
				return explainFlushErr(err)
			}
			return printQueueOutcome(ctx, eng)
		},
	}
}

func newForceSaveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "force-save",
		Short: "Retry everything, including failed events, and report if all is saved",
		Long: `Revive dead events, clear retry backoff and flush immediately.

Exits with an error when offline. Nothing is discarded either way.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := app.startOnline(ctx)
			if err != nil {
				return err
			}
			defer eng.stop(app.logger)

			saved, err := eng.orch.ForceSave(ctx)
			if err != nil {
				return explainFlushErr(err)
			}
			if saved {
				fmt.Println("✓ All progress saved")
				return nil
			}
			return printQueueOutcome(ctx, eng)
		},
	}
}

// explainFlushErr adds a hint when another process owns the flush
func explainFlushErr(err error) error {
	if errors.Is(err, progresssync.ErrFlushBusy) {
		return utils.WrapWithSuggestion(err,
			"Another gosyncprogress process is sending queued progress; run 'gosyncprogress status' to watch it drain")
	}
	return err
}

func printQueueOutcome(ctx context.Context, eng *engine) error {
	counts, err := eng.store.Counts(ctx)
	if err != nil {
		return err
	}
	switch {
	case counts.Total() == 0:
		fmt.Println("✓ All progress saved")
	case counts.Dead > 0:
		fmt.Printf("⚠ %d changes queued, %d failed permanently (see 'gosyncprogress queue list --status dead')\n",
			counts.Pending+counts.InFlight, counts.Dead)
	default:
		fmt.Printf("⚠ %d changes still queued and will be retried\n", counts.Total())
	}
	return nil
}

// newBackgroundFlushCmd creates a hidden command that flushes in a detached
// process so enqueue can return immediately
func newBackgroundFlushCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:    progresssync.BackgroundFlushCommand,
		Hidden: true,
		Short:  "Internal command for background flush (do not call directly)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), backgroundFlushTimeout)
			defer cancel()

			eng, err := app.startOnline(ctx)
			if err != nil {
				app.logger.Debug("Background flush skipped: %v", err)
				return nil
			}
			defer eng.stop(app.logger)

			if !eng.monitor.IsOnline() {
				return nil
			}
			err = eng.orch.FlushQueue(ctx)
			switch {
			case errors.Is(err, progresssync.ErrFlushBusy):
				app.logger.Debug("Background flush skipped: %v", err)
			case err != nil && !errors.Is(err, context.DeadlineExceeded):
				app.logger.Warn("Background flush: %v", err)
			}
			return nil
		},
	}
}
