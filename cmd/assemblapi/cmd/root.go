package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yyang42/assembl/cmd/assemblapi/cmd/cmdutil"
	"github.com/yyang42/assembl/cmd/assemblapi/cmd/discussions"
	"github.com/yyang42/assembl/cmd/assemblapi/cmd/profiles"
	"github.com/yyang42/assembl/cmd/assemblapi/cmd/providers"
	"github.com/yyang42/assembl/cmd/assemblapi/cmd/roles"
	"github.com/yyang42/assembl/cmd/assemblapi/cmd/subscriptions"
	"github.com/yyang42/assembl/cmd/assemblapi/cmd/users"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/config"
)

var (
	cfg     *config.Config
	logger  *slog.Logger
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "assemblapi",
	Short: "Assembl identity and authorization server",
	Long: `assemblapi serves account identity, role and permission resolution and
notification subscription materialization for deliberation discussions.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
			}
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger = cmdutil.NewLogger(cfg)
		return nil
	},
}

func init() {
	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (yaml, toml or json)")
	flags.String("db-url", "", "Database connection URL (env: ASSEMBL_DATABASE_URL)")
	flags.String("server-addr", "", "Server bind address (env: ASSEMBL_SERVER_ADDR)")
	flags.Bool("debug", false, "Enable debug logging (env: ASSEMBL_DEBUG)")
	flags.String("log-format", "", "Log format, text or json (env: ASSEMBL_LOG_FORMAT)")

	_ = viper.BindPFlag("database_url", flags.Lookup("db-url"))
	_ = viper.BindPFlag("server_addr", flags.Lookup("server-addr"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("log_format", flags.Lookup("log-format"))

	// Add subcommands
	rootCmd.AddCommand(users.UsersCmd)
	rootCmd.AddCommand(profiles.ProfilesCmd)
	rootCmd.AddCommand(providers.ProvidersCmd)
	rootCmd.AddCommand(roles.RolesCmd)
	rootCmd.AddCommand(discussions.DiscussionsCmd)
	rootCmd.AddCommand(subscriptions.SubscriptionsCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
