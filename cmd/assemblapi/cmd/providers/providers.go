package providers

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yyang42/assembl/cmd/assemblapi/cmd/cmdutil"
)

var (
	providerType string
	trustEmails  bool
)

// ProvidersCmd is the parent command for identity provider registration
var ProvidersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage external identity providers",
	Long:  `Commands for registering the external identity providers that provider accounts belong to.`,
}

func init() {
	ProvidersCmd.AddCommand(addCmd)
	ProvidersCmd.AddCommand(listCmd)
	addCmd.Flags().StringVar(&providerType, "type", "", "Provider type, e.g. github or google-oauth2 (required)")
	addCmd.Flags().BoolVar(&trustEmails, "trust-emails", false, "Treat emails reported by this provider as verified")
	_ = addCmd.MarkFlagRequired("type")
}

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register an identity provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		provider, err := bundle.Accounts.RegisterProvider(cmd.Context(), args[0], providerType, trustEmails)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Provider registered: %s (%s)\n", provider.ID, provider.Name)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List identity providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		providers, err := bundle.Accounts.Providers(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tTRUST EMAILS")
		for _, p := range providers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", p.ID, p.Name, p.ProviderType, p.TrustEmails)
		}
		return w.Flush()
	},
}
