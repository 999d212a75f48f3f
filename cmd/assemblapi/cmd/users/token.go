package users

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yyang42/assembl/cmd/assemblapi/cmd/cmdutil"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue an access token for a user",
	Long:  `Issues a bearer token without a password check. Intended for operators and scripted setups.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{RequireTokens: true})
		if err != nil {
			return err
		}
		defer bundle.Close()

		token, err := bundle.Accounts.IssueToken(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, token.AccessToken)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", token.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var purgeTokensCmd = &cobra.Command{
	Use:   "purge-revoked-tokens",
	Short: "Delete revoked token records past their expiry",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		n, err := bundle.Accounts.PurgeRevokedTokens(cmd.Context(), graceFlag)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d revoked token(s)\n", n)
		return nil
	},
}
