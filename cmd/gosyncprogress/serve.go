package main

import (
	"os"

	"gosyncprogress/backend/remote"

	"github.com/spf13/cobra"
)

// ServerTokenEnv supplies the serve command's bearer token when --token is not given
const ServerTokenEnv = "GOSYNCPROGRESS_SERVER_TOKEN"

func newServeCmd(app *App) *cobra.Command {
	var addr string
	var token string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference progress server",
		Long: `Run an in-memory progress server implementing the batch contract:
POST /v1/progress/batch, GET /v1/progress/:courseId and GET /v1/health.

Submissions are idempotent by event id and progress only moves forward.
State is lost on exit; this server is meant for local testing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv(ServerTokenEnv)
			}
			if token == "" {
				app.logger.Warn("Serving without authentication; set --token or %s", ServerTokenEnv)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			srv := remote.NewServer(remote.ServerOptions{Token: token})
			app.logger.Info("Progress server listening on %s", addr)
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&token, "token", "", "required bearer token (default $"+ServerTokenEnv+")")
	return cmd
}
