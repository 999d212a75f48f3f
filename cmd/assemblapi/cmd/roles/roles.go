package roles

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yyang42/assembl/cmd/assemblapi/cmd/cmdutil"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/services/iam"
)

var (
	userFlag       string
	discussionFlag string
	roleFlag       string
	requestedFlag  bool
)

// RolesCmd is the parent command for global and local role grants
var RolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Manage global and discussion-local role grants",
}

func init() {
	for _, c := range []*cobra.Command{grantGlobalCmd, revokeGlobalCmd, grantLocalCmd} {
		c.Flags().StringVar(&userFlag, "user", "", "User id")
		c.Flags().StringVar(&roleFlag, "role", "", "Role name, e.g. r:moderator")
		_ = c.MarkFlagRequired("user")
		_ = c.MarkFlagRequired("role")
	}
	grantLocalCmd.Flags().StringVar(&discussionFlag, "discussion", "", "Discussion id")
	grantLocalCmd.Flags().BoolVar(&requestedFlag, "requested", false, "Record a pending request instead of a confirmed grant")
	_ = grantLocalCmd.MarkFlagRequired("discussion")

	RolesCmd.AddCommand(grantGlobalCmd)
	RolesCmd.AddCommand(revokeGlobalCmd)
	RolesCmd.AddCommand(grantLocalCmd)
	RolesCmd.AddCommand(confirmLocalCmd)
	RolesCmd.AddCommand(revokeLocalCmd)
	RolesCmd.AddCommand(listCmd)
}

var grantGlobalCmd = &cobra.Command{
	Use:   "grant-global",
	Short: "Grant a role in every discussion",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		if err := bundle.IAM.GrantGlobalRole(cmd.Context(), userFlag, roleFlag); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Granted '%s' to %s\n", roleFlag, userFlag)
		return nil
	},
}

var revokeGlobalCmd = &cobra.Command{
	Use:   "revoke-global",
	Short: "Revoke a global role",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		if err := bundle.IAM.RevokeGlobalRole(cmd.Context(), userFlag, roleFlag); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Revoked '%s' from %s\n", roleFlag, userFlag)
		return nil
	},
}

var grantLocalCmd = &cobra.Command{
	Use:   "grant-local",
	Short: "Grant a role in one discussion",
	Long:  `Grants a role in one discussion. A confirmed grant materializes the user's default subscriptions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		lur, err := bundle.IAM.GrantLocalRole(cmd.Context(), iam.LocalRoleRequest{
			UserID:       userFlag,
			DiscussionID: discussionFlag,
			Role:         roleFlag,
			Requested:    requestedFlag,
		})
		if err != nil {
			return err
		}
		state := "confirmed"
		if lur.Requested {
			state = "requested"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Local role %s (%s): '%s' for %s in %s\n", lur.ID, state, roleFlag, userFlag, discussionFlag)
		return nil
	},
}

var confirmLocalCmd = &cobra.Command{
	Use:   "confirm <local-role-id>",
	Short: "Confirm a pending local role request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		lur, err := bundle.IAM.ConfirmLocalRole(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Confirmed local role %s for %s in %s\n", lur.ID, lur.UserID, lur.DiscussionID)
		return nil
	},
}

var revokeLocalCmd = &cobra.Command{
	Use:   "revoke-local <local-role-id>",
	Short: "Delete a local grant or request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		if err := bundle.IAM.RevokeLocalRole(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Revoked local role %s\n", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List the global and local roles of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		ctx := cmd.Context()
		all, err := bundle.Store.Roles.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list roles: %w", err)
		}
		names := make(map[string]string, len(all))
		for _, r := range all {
			names[r.ID] = r.Name
		}

		global, err := bundle.Store.Roles.ListGlobalRoles(ctx, args[0])
		if err != nil {
			return err
		}
		local, err := bundle.IAM.ListLocalRoles(ctx, args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tROLE\tSCOPE\tSTATE")
		for _, ur := range global {
			fmt.Fprintf(w, "%s\t%s\tglobal\tconfirmed\n", ur.ID, names[ur.RoleID])
		}
		for _, lur := range local {
			state := "confirmed"
			if lur.Requested {
				state = "requested"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", lur.ID, names[lur.RoleID], lur.DiscussionID, state)
		}
		return w.Flush()
	},
}
