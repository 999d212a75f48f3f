package subscriptions

import (
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yyang42/assembl/cmd/assemblapi/cmd/cmdutil"
)

var (
	userFlag       string
	discussionFlag string
	roleFlag       string
	resetFlag      bool
	inactiveFlag   bool
)

// SubscriptionsCmd is the parent command for notification subscriptions
var SubscriptionsCmd = &cobra.Command{
	Use:   "subscriptions",
	Short: "Inspect subscriptions and edit per-role template defaults",
}

func init() {
	showCmd.Flags().StringVar(&userFlag, "user", "", "User id")
	showCmd.Flags().StringVar(&discussionFlag, "discussion", "", "Discussion id")
	showCmd.Flags().BoolVar(&resetFlag, "reset", false, "Reapply template defaults the user never chose")
	_ = showCmd.MarkFlagRequired("user")
	_ = showCmd.MarkFlagRequired("discussion")

	for _, c := range []*cobra.Command{templateCmd, setTemplateCmd} {
		c.Flags().StringVar(&discussionFlag, "discussion", "", "Discussion id")
		c.Flags().StringVar(&roleFlag, "role", "", "Role name, e.g. r:participant")
		_ = c.MarkFlagRequired("discussion")
		_ = c.MarkFlagRequired("role")
	}
	setTemplateCmd.Flags().BoolVar(&inactiveFlag, "inactive", false, "Turn the class off by default")

	SubscriptionsCmd.AddCommand(showCmd)
	SubscriptionsCmd.AddCommand(templateCmd)
	SubscriptionsCmd.AddCommand(setTemplateCmd)
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show (and materialize if needed) a user's subscriptions in a discussion",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		subs, err := bundle.Subscriptions.GetOrMaterialize(cmd.Context(), userFlag, discussionFlag, resetFlag)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CLASS\tSTATUS\tORIGIN\tUPDATED")
		for _, s := range subs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Class, s.Status, s.CreationOrigin, s.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Show the default subscriptions of a role in a discussion",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		defaults, err := bundle.Subscriptions.TemplateDefaults(cmd.Context(), discussionFlag, roleFlag)
		if err != nil {
			return err
		}
		classes := make([]string, 0, len(defaults))
		for class := range defaults {
			classes = append(classes, class)
		}
		slices.Sort(classes)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CLASS\tACTIVE")
		for _, class := range classes {
			fmt.Fprintf(w, "%s\t%t\n", class, defaults[class])
		}
		return w.Flush()
	},
}

var setTemplateCmd = &cobra.Command{
	Use:   "set-template <class>",
	Short: "Change whether a class is active by default for a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		if err := bundle.Subscriptions.SetTemplateStatus(cmd.Context(), discussionFlag, roleFlag, args[0], !inactiveFlag); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Template of '%s' in %s: %s active=%t\n", roleFlag, discussionFlag, args[0], !inactiveFlag)
		return nil
	},
}
