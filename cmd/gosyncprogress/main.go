package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gosyncprogress",
		Short: "Offline-first learning progress sync",
		Long: `Queue learning progress locally and deliver it to the progress server
when a connection is available.

Progress events are stored in a local SQLite queue, coalesced per lesson,
and sent in batches with retries and backoff. Nothing is lost while offline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/gosyncprogress/config.json)")
	rootCmd.PersistentFlags().StringVar(&app.dbPath, "db", "", "queue database path (overrides database.path)")
	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newEnqueueCmd(app))
	rootCmd.AddCommand(newFlushCmd(app))
	rootCmd.AddCommand(newForceSaveCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newQueueCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newWatchCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newCredentialsCmd(app))
	rootCmd.AddCommand(newBackgroundFlushCmd(app))

	return rootCmd
}

func main() {
	app := &App{}
	if err := newRootCmd(app).Execute(); err != nil {
		app.close()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
