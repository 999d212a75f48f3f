package discussions

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yyang42/assembl/cmd/assemblapi/cmd/cmdutil"
)

var (
	slugFlag       string
	topicFlag      string
	roleFlag       string
	permissionFlag string
)

// DiscussionsCmd is the parent command for discussions and their
// authorization matrix
var DiscussionsCmd = &cobra.Command{
	Use:   "discussions",
	Short: "Manage discussions and their permission matrix",
}

func init() {
	createCmd.Flags().StringVar(&slugFlag, "slug", "", "Unique discussion slug")
	createCmd.Flags().StringVar(&topicFlag, "topic", "", "Discussion topic")
	_ = createCmd.MarkFlagRequired("slug")

	for _, c := range []*cobra.Command{grantCmd, revokeCmd} {
		c.Flags().StringVar(&roleFlag, "role", "", "Role name, e.g. r:participant")
		c.Flags().StringVar(&permissionFlag, "permission", "", "Permission name, e.g. add_post")
		_ = c.MarkFlagRequired("role")
		_ = c.MarkFlagRequired("permission")
	}

	DiscussionsCmd.AddCommand(createCmd)
	DiscussionsCmd.AddCommand(matrixCmd)
	DiscussionsCmd.AddCommand(grantCmd)
	DiscussionsCmd.AddCommand(revokeCmd)
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a discussion with the default permission matrix",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		d, err := bundle.IAM.CreateDiscussion(cmd.Context(), slugFlag, topicFlag)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Discussion created: %s (%s)\n", d.ID, d.Slug)
		return nil
	},
}

var matrixCmd = &cobra.Command{
	Use:   "matrix <discussion-id>",
	Short: "Print the role to permission matrix of a discussion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		cells, err := bundle.IAM.DiscussionPermissions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROLE\tPERMISSION")
		for _, c := range cells {
			fmt.Fprintf(w, "%s\t%s\n", c.Role, c.Permission)
		}
		return w.Flush()
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant <discussion-id>",
	Short: "Give a role a permission in a discussion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		if err := bundle.IAM.GrantDiscussionPermission(cmd.Context(), args[0], roleFlag, permissionFlag); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Granted %s to '%s' in %s\n", permissionFlag, roleFlag, args[0])
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <discussion-id>",
	Short: "Take a permission away from a role in a discussion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		if err := bundle.IAM.RevokeDiscussionPermission(cmd.Context(), args[0], roleFlag, permissionFlag); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s from '%s' in %s\n", permissionFlag, roleFlag, args[0])
		fmt.Fprintln(cmd.OutOrStdout(), "Send SIGHUP to running assemblapi processes to reload policies now.")
		return nil
	},
}
