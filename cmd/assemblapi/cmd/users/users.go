package users

import (
	"time"

	"github.com/spf13/cobra"
)

// UsersCmd is the parent command for user management operations
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users",
	Long:  `Commands for creating users, setting passwords and issuing tokens directly from the server.`,
}

func init() {
	createCmd.Flags().StringVar(&emailFlag, "email", "", "Email address of the user")
	createCmd.Flags().StringVar(&nameFlag, "name", "", "Display name of the user")
	createCmd.Flags().StringVar(&usernameFlag, "username", "", "Optional unique username")
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Password for the user (use --stdin to avoid shell history)")
	createCmd.Flags().StringSliceVar(&rolesInput, "role", []string{}, "Global role(s) to grant, e.g. r:sysadmin")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")
	createCmd.Flags().BoolVar(&unverifiedFlag, "unverified", false, "Create the email account unverified")

	passwordCmd.Flags().StringVar(&passwordFlag, "password", "", "New password (use --stdin to avoid shell history)")
	passwordCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")

	UsersCmd.AddCommand(createCmd)
	UsersCmd.AddCommand(passwordCmd)
	UsersCmd.AddCommand(tokenCmd)
	UsersCmd.AddCommand(purgeTokensCmd)
	purgeTokensCmd.Flags().DurationVar(&graceFlag, "grace", time.Hour, "Keep revoked tokens this long after expiry")
}
