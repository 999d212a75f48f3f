package profiles

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yyang42/assembl/cmd/assemblapi/cmd/cmdutil"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/identity"
)

var filterFlag string

// ProfilesCmd is the parent command for profile and account operations
var ProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect and merge profiles",
	Long:  `Commands for inspecting profiles and their accounts, and for merging duplicate profiles.`,
}

func init() {
	ProfilesCmd.AddCommand(showCmd)
	ProfilesCmd.AddCommand(mergeCmd)
	ProfilesCmd.AddCommand(accountsCmd)
	accountsCmd.Flags().StringVar(&filterFlag, "filter", "", `go-bexpr filter, e.g. 'Kind == "email" and Verified == true'`)
}

var showCmd = &cobra.Command{
	Use:   "show <profile-id>",
	Short: "Show a profile with its accounts and preferred email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		ctx := cmd.Context()
		profile, err := bundle.Accounts.Profile(ctx, args[0])
		if err != nil {
			return err
		}
		accounts, err := bundle.Accounts.Accounts(ctx, profile.ID)
		if err != nil {
			return err
		}
		email, err := bundle.Accounts.PreferredEmail(ctx, profile.ID, accounts)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Profile: %s (%s)\n", profile.ID, profile.Kind)
		fmt.Fprintf(out, "Name: %s\n", profile.Name)
		fmt.Fprintf(out, "Preferred email: %s\n", email)

		items, _ := accounts.Items()
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tKIND\tNAME\tVERIFIED\tPREFERRED")
		for _, a := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n", a.ID, a.Kind, identity.DisplayName(a), a.Verified, a.Preferred)
		}
		return w.Flush()
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <target-id> <source-id>",
	Short: "Merge the source profile into the target and delete the source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		result, err := bundle.Merger.MergeProfiles(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("merge failed: %w", err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List accounts matching a filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		list, err := bundle.Accounts.ListAccounts(cmd.Context(), filterFlag)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tPROFILE\tKIND\tNAME\tVERIFIED")
		for _, a := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", a.ID, a.ProfileID, a.Kind, identity.DisplayName(a), a.Verified)
		}
		return w.Flush()
	},
}
