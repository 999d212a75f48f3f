package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. ASSEMBL_DATABASE_URL.
const EnvPrefix = "ASSEMBL"

// DefaultSubscriptionClasses is used for roles without a configured default.
const DefaultSubscriptionClasses = "FOLLOW_SYNTHESES"

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN)
	DatabaseURL string

	// Server bind address (host:port)
	ServerAddr string

	// Maximum database connection pool size
	MaxDBConnections int

	// Enable debug logging
	Debug bool

	// Log output format: "text" or "json"
	LogFormat string

	// Access token configuration
	Token TokenConfig

	// Permission resolution tuning
	Permissions PermissionsConfig

	// Tracing and metrics
	Observability ObservabilityConfig

	// Per-role default subscription classes
	Subscriptions SubscriptionsConfig
}

// TokenConfig configures the HS256 access tokens issued by POST /api/v1/token.
type TokenConfig struct {
	Secret string
	TTL    time.Duration
}

// PermissionsConfig tunes the effective permission cache and the policy
// refresh loop.
type PermissionsConfig struct {
	// RefreshInterval is how often serve reloads policies from the database
	RefreshInterval time.Duration
	// CacheSize bounds the number of cached (user, discussion) entries
	CacheSize int
	// CacheTTL expires cached entries
	CacheTTL time.Duration
}

// ObservabilityConfig configures OpenTelemetry export.
type ObservabilityConfig struct {
	// OTLPEndpoint enables trace export when set (host:port)
	OTLPEndpoint string
	OTLPInsecure bool
	ServiceName  string
	SampleRatio  float64
}

// SubscriptionsConfig maps role names ("participant", not "r:participant")
// to the newline-separated list of subscription classes active by default.
type SubscriptionsConfig struct {
	Defaults map[string]string
}

// DefaultClasses returns the classes active by default for role. Role may
// carry the "r:" prefix. Unconfigured roles fall back to FOLLOW_SYNTHESES.
func (s SubscriptionsConfig) DefaultClasses(role string) []string {
	raw, ok := s.Defaults[roleKey(role)]
	if !ok {
		raw = DefaultSubscriptionClasses
	}
	var classes []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			classes = append(classes, line)
		}
	}
	return classes
}

// roleKey strips the namespace of a role name: "r:participant" -> "participant".
func roleKey(role string) string {
	if i := strings.LastIndex(role, ":"); i >= 0 {
		return role[i+1:]
	}
	return role
}

// subscriptionRoles are the roles whose defaults are read from configuration.
var subscriptionRoles = []string{"everyone", "authenticated", "participant", "catcher", "moderator", "administrator", "sysadmin", "owner"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "file:assembl.db")
	v.SetDefault("server_addr", "localhost:8080")
	v.SetDefault("max_db_connections", 25)
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "text")

	v.SetDefault("token.secret", "")
	v.SetDefault("token.ttl", 24*time.Hour)

	v.SetDefault("permissions.refresh_interval", time.Minute)
	v.SetDefault("permissions.cache_size", 4096)
	v.SetDefault("permissions.cache_ttl", 30*time.Second)

	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_insecure", true)
	v.SetDefault("observability.service_name", "assemblapi")
	v.SetDefault("observability.sample_ratio", 1.0)

	v.SetDefault("subscriptions.participant.default", DefaultSubscriptionClasses)
}

// Load reads configuration from the global viper instance: defaults, then
// an already-read config file, then ASSEMBL_* environment variables.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		DatabaseURL:      v.GetString("database_url"),
		ServerAddr:       v.GetString("server_addr"),
		MaxDBConnections: v.GetInt("max_db_connections"),
		Debug:            v.GetBool("debug"),
		LogFormat:        v.GetString("log_format"),
		Token: TokenConfig{
			Secret: v.GetString("token.secret"),
			TTL:    v.GetDuration("token.ttl"),
		},
		Permissions: PermissionsConfig{
			RefreshInterval: v.GetDuration("permissions.refresh_interval"),
			CacheSize:       v.GetInt("permissions.cache_size"),
			CacheTTL:        v.GetDuration("permissions.cache_ttl"),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: v.GetString("observability.otlp_endpoint"),
			OTLPInsecure: v.GetBool("observability.otlp_insecure"),
			ServiceName:  v.GetString("observability.service_name"),
			SampleRatio:  v.GetFloat64("observability.sample_ratio"),
		},
		Subscriptions: SubscriptionsConfig{Defaults: map[string]string{}},
	}

	for _, role := range subscriptionRoles {
		key := fmt.Sprintf("subscriptions.%s.default", role)
		if v.IsSet(key) {
			cfg.Subscriptions.Defaults[role] = v.GetString(key)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s_DATABASE_URL is required", EnvPrefix)
	}
	if c.MaxDBConnections <= 0 {
		return fmt.Errorf("%s_MAX_DB_CONNECTIONS must be positive, got %d", EnvPrefix, c.MaxDBConnections)
	}
	if c.Token.TTL <= 0 {
		return fmt.Errorf("%s_TOKEN_TTL must be positive, got %s", EnvPrefix, c.Token.TTL)
	}
	if c.Permissions.CacheSize <= 0 {
		return fmt.Errorf("%s_PERMISSIONS_CACHE_SIZE must be positive, got %d", EnvPrefix, c.Permissions.CacheSize)
	}
	if c.Permissions.RefreshInterval <= 0 {
		return fmt.Errorf("%s_PERMISSIONS_REFRESH_INTERVAL must be positive, got %s", EnvPrefix, c.Permissions.RefreshInterval)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%s_LOG_FORMAT must be text or json, got %q", EnvPrefix, c.LogFormat)
	}
	return nil
}
