package main

import (
	"errors"
	"fmt"

	"gosyncprogress/backend/sqlite"
	"gosyncprogress/internal/cli"
	"gosyncprogress/internal/progress"
	"gosyncprogress/internal/status"
	"gosyncprogress/internal/utils"

	"github.com/spf13/cobra"
)

// newQueueCmd creates the 'queue' command
func newQueueCmd(app *App) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the local queue",
		Long: `Inspect and manage queued progress events.

Examples:
  gosyncprogress queue list                 # all queued events
  gosyncprogress queue list --status dead   # events that failed permanently
  gosyncprogress queue revive               # retry dead events
  gosyncprogress queue remove <id>          # discard one event
  gosyncprogress queue clear --dead         # discard dead events`,
	}

	queueCmd.AddCommand(newQueueListCmd(app))
	queueCmd.AddCommand(newQueueClearCmd(app))
	queueCmd.AddCommand(newQueueReviveCmd(app))
	queueCmd.AddCommand(newQueueRemoveCmd(app))
	return queueCmd
}

func newQueueListCmd(app *App) *cobra.Command {
	var statusFilter string
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := utils.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			store, err := app.openStore()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var events []progress.Event
			if statusFilter == "" {
				events, err = store.ListAll(ctx)
			} else {
				events, err = store.ListByStatus(ctx, progress.Status(statusFilter))
			}
			if err != nil {
				return fmt.Errorf("failed to list queue: %w", err)
			}

			items := status.Derive(status.Inputs{Events: events, SampleSize: len(events)}).QueuedItems
			switch format {
			case utils.OutputJSONFormat:
				return utils.OutputJSON(items)
			case utils.OutputYAMLFormat:
				return utils.OutputYAML(items)
			}

			if len(events) == 0 {
				fmt.Println("Queue is empty")
				return nil
			}
			fmt.Printf("\nQueued events (%d):\n\n", len(events))
			fmt.Print(cli.RenderQueuedItems(items, cli.GetTerminalWidth()))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "only events with this status: pending, in_flight or dead")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	_ = cmd.RegisterFlagCompletionFunc("status", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"pending", "in_flight", "dead"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

// newQueueClearCmd creates the 'queue clear' command
func newQueueClearCmd(app *App) *cobra.Command {
	var deadOnly bool
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard queued events",
		Long:  `Discard queued events. Use --dead to discard only events that failed permanently.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.openStore()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if deadOnly {
				n, err := store.ClearDead(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Cleared %d dead events\n", n)
				return nil
			}

			counts, err := store.Counts(ctx)
			if err != nil {
				return err
			}
			if counts.Total() == 0 {
				fmt.Println("Queue is empty")
				return nil
			}
			if !yes && !utils.PromptYesNoFrom(cmd.InOrStdin(), cmd.OutOrStdout(),
				fmt.Sprintf("Discard %d unsent progress events?", counts.Total())) {
				fmt.Println("Cancelled")
				return nil
			}
			if err := store.Clear(ctx); err != nil {
				return err
			}
			if err := utils.LogOperation("compact queue database", store.Compact); err != nil {
				app.logger.Warn("Queue cleared but the database was not compacted: %v", err)
			}
			fmt.Printf("Cleared %d events\n", counts.Total())
			return nil
		},
	}

	cmd.Flags().BoolVar(&deadOnly, "dead", false, "clear only dead events")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newQueueRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Discard one queued event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.openStore()
			if err != nil {
				return err
			}
			if err := store.Remove(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, sqlite.ErrNotFound) {
					return utils.ErrEventNotFound(args[0])
				}
				return err
			}
			fmt.Printf("Removed event %s\n", args[0])
			return nil
		},
	}
}

func newQueueReviveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "revive",
		Short: "Move dead events back to pending",
		Long:  `Move dead events back to pending with their attempt counter reset.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.openStore()
			if err != nil {
				return err
			}
			n, err := store.ReviveDead(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Revived %d dead events for retry\n", n)
			return nil
		},
	}
}
