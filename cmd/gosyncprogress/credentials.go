package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"gosyncprogress/internal/credentials"
	"gosyncprogress/internal/utils"
)

func newCredentialsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage progress server tokens",
		Long: `Securely manage the progress server token using the system keyring.

Tokens are looked up in this order:
  1. System keyring (most secure) - recommended
  2. Environment variables GOSYNCPROGRESS_<REMOTE>_TOKEN or remote.token_env
     (a .env file in the working directory is loaded automatically)
  3. Config file remote.token (least secure)

Examples:
  # Store a token in the keyring (interactive prompt)
  gosyncprogress credentials set default learner --prompt

  # Check which source is used
  gosyncprogress credentials get

  # Remove the token from the keyring
  gosyncprogress credentials delete default learner`,
	}

	cmd.AddCommand(newCredentialsSetCmd(app))
	cmd.AddCommand(newCredentialsGetCmd(app))
	cmd.AddCommand(newCredentialsDeleteCmd(app))
	return cmd
}

// remoteAndUser fills the remote name and username from args or config
func (a *App) remoteAndUser(args []string) (string, string, error) {
	remoteName := a.cfg.Remote.Name
	if len(args) >= 1 {
		remoteName = args[0]
	}
	username := a.cfg.Remote.Username
	if len(args) >= 2 {
		username = args[1]
	}
	if username == "" {
		username = credentials.GetUsername(remoteName)
	}
	if username == "" {
		return "", "", fmt.Errorf("username is required (not found in config for remote %q)", remoteName)
	}
	return remoteName, username, nil
}

func newCredentialsSetCmd(app *App) *cobra.Command {
	var prompt bool

	cmd := &cobra.Command{
		Use:   "set [remote] [username] [token]",
		Short: "Store a token in the system keyring",
		Long: `Store the progress server token in the system keyring.

Remote and username default to remote.name and remote.username from the config.
With --prompt the token is read without echo (recommended).`,
		Args: cobra.RangeArgs(0, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			remoteName, username, err := app.remoteAndUser(args)
			if err != nil {
				return err
			}

			var token string
			switch {
			case prompt:
				fmt.Printf("Enter token for %s@%s: ", username, remoteName)
				b, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Println()
				if err != nil {
					return fmt.Errorf("failed to read token: %w", err)
				}
				token = strings.TrimSpace(string(b))
			case len(args) >= 3:
				token = args[2]
			default:
				return fmt.Errorf("token is required (use --prompt for interactive input)")
			}

			if err := credentials.Set(remoteName, username, token); err != nil {
				if !credentials.IsAvailable() {
					return utils.WrapWithSuggestion(
						fmt.Errorf("system keyring is not available"),
						fmt.Sprintf("Use an environment variable instead:\n  export %s=<token>", credentials.TokenEnvVar(remoteName)))
				}
				return err
			}

			fmt.Printf("✓ Token stored for %s@%s\n", username, remoteName)
			if app.cfg.Remote.Token != "" {
				fmt.Println("\n⚠ remote.token is still set in the config file; consider removing it")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&prompt, "prompt", false, "Prompt for the token interactively (recommended)")
	return cmd
}

func newCredentialsGetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get [remote] [username]",
		Short: "Show where the token comes from",
		Long:  `Check which source provides the token. The token itself is never printed.`,
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remoteName := app.cfg.Remote.Name
			if len(args) >= 1 {
				remoteName = args[0]
			}
			username := app.cfg.Remote.Username
			if len(args) >= 2 {
				username = args[1]
			}

			creds, err := credentials.NewResolver().Resolve(credentials.Request{
				Remote:      remoteName,
				Username:    username,
				TokenEnv:    app.cfg.Remote.TokenEnv,
				ConfigToken: app.cfg.Remote.Token,
			})
			if err != nil {
				fmt.Printf("✗ No token found for remote %q\n", remoteName)
				fmt.Println("\nAvailable options:")
				fmt.Println("  1. Store in keyring:")
				fmt.Printf("     gosyncprogress credentials set %s <username> --prompt\n", remoteName)
				fmt.Println("  2. Set an environment variable:")
				fmt.Printf("     export %s=<token>\n", credentials.TokenEnvVar(remoteName))
				return err
			}

			fmt.Printf("✓ Token found for remote %q\n", remoteName)
			if creds.Username != "" {
				fmt.Printf("  Username: %s\n", creds.Username)
			}
			fmt.Printf("  Source: %s\n", creds.Source)

			switch creds.Source {
			case credentials.SourceEnv:
				fmt.Println("\n⚠ Using environment variables")
				fmt.Println("  Consider using keyring for better security")
			case credentials.SourceConfig:
				fmt.Println("\n⚠ Using the token from the config file (not recommended)")
				fmt.Printf("  Move it to the keyring: gosyncprogress credentials set %s <username> --prompt\n", remoteName)
			}
			return nil
		},
	}
}

func newCredentialsDeleteCmd(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete [remote] [username]",
		Short: "Remove a token from the system keyring",
		Long: `Remove the stored token from the system keyring. Environment variables
and the config file are not affected.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remoteName, username, err := app.remoteAndUser(args)
			if err != nil {
				return err
			}

			if !force && !utils.PromptYesNoFrom(cmd.InOrStdin(), cmd.OutOrStdout(),
				fmt.Sprintf("Delete token for %s@%s from keyring?", username, remoteName)) {
				fmt.Println("Cancelled")
				return nil
			}

			if err := credentials.Delete(remoteName, username); err != nil {
				return err
			}
			fmt.Printf("✓ Token removed for %s@%s\n", username, remoteName)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")
	return cmd
}
