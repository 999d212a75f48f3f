package users

import (
	"bufio"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yyang42/assembl/cmd/assemblapi/cmd/cmdutil"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/services/accounts"
)

var (
	emailFlag      string
	nameFlag       string
	usernameFlag   string
	passwordFlag   string
	rolesInput     []string
	stdinFlag      bool
	unverifiedFlag bool
	graceFlag      time.Duration
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user with an email account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if emailFlag == "" {
			return fmt.Errorf("--email flag is required")
		}
		if _, err := mail.ParseAddress(emailFlag); err != nil {
			return fmt.Errorf("invalid email format: %w", err)
		}

		password, err := readPassword()
		if err != nil {
			return err
		}

		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		ctx := cmd.Context()
		profile, err := bundle.Accounts.CreateUser(ctx, accounts.NewUser{
			Name:     nameFlag,
			Email:    emailFlag,
			Verified: !unverifiedFlag,
			Username: usernameFlag,
			Password: password,
		})
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		for _, role := range rolesInput {
			if err := bundle.IAM.GrantGlobalRole(ctx, profile.ID, role); err != nil {
				return fmt.Errorf("failed to assign role '%s': %w", role, err)
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "User created successfully!")
		fmt.Fprintln(out, "----------------------------------------")
		fmt.Fprintf(out, "User ID: %s\n", profile.ID)
		fmt.Fprintf(out, "Email: %s\n", emailFlag)
		fmt.Fprintf(out, "Name: %s\n", profile.Name)
		if usernameFlag != "" {
			fmt.Fprintf(out, "Username: %s\n", usernameFlag)
		}
		if len(rolesInput) > 0 {
			fmt.Fprintf(out, "Roles: %s\n", strings.Join(rolesInput, ", "))
		}
		fmt.Fprintln(out, "----------------------------------------")
		return nil
	},
}

var passwordCmd = &cobra.Command{
	Use:   "set-password <user-id>",
	Short: "Set the password of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword()
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("password is required (use --password or --stdin)")
		}

		bundle, err := cmdutil.Load(cmdutil.Options{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		if err := bundle.Accounts.SetPassword(cmd.Context(), args[0], password); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %s\n", args[0])
		return nil
	},
}

func readPassword() (string, error) {
	if !stdinFlag {
		return passwordFlag, nil
	}
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprint(os.Stderr, "Enter password: ")
	var password string
	if scanner.Scan() {
		password = scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}
