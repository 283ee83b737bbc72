package main

import (
	"gosyncprogress/internal/cli"
	"gosyncprogress/internal/status"
	"gosyncprogress/internal/utils"

	"github.com/spf13/cobra"
)

func newStatusCmd(app *App) *cobra.Command {
	var output string
	var noProbe bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Long: `Display the current sync state:
- Connection (probes the server unless --no-probe)
- Sync status: synced, pending or error
- Pending changes, queue size and dead letters
- Last successful save
- A sample of queued events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := utils.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			eng, err := app.newEngine()
			if err != nil {
				return err
			}
			defer eng.stop(app.logger)

			if !noProbe && app.remoteConfigured() {
				eng.monitor.Probe(ctx)
			}

			snap, err := eng.reporter.Refresh(ctx)
			if err != nil {
				return err
			}
			return printSnapshot(snap, format)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	cmd.Flags().BoolVar(&noProbe, "no-probe", false, "do not contact the server; report offline")
	return cmd
}

func printSnapshot(snap status.Snapshot, format utils.OutputFormat) error {
	switch format {
	case utils.OutputJSONFormat:
		return utils.OutputJSON(snap)
	case utils.OutputYAMLFormat:
		return utils.OutputYAML(snap)
	}
	cli.ShowStatus(snap)
	return nil
}
