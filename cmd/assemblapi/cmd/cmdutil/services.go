// Package cmdutil builds the service graph shared by the server and the
// administrative subcommands.
package cmdutil

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/bun"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/config"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/bunx"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/logging"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/repository"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/services/accounts"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/services/iam"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/services/reconcile"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/services/subscriptions"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/telemetry"
)

// Options controls how the bundle is constructed.
type Options struct {
	// RequireTokens fails construction when no token secret is configured
	RequireTokens bool
	// Registry receives the Prometheus instruments; a private registry is
	// used when nil
	Registry *prometheus.Registry
}

// Bundle holds every service together with the DB connection so callers
// can close it when done.
type Bundle struct {
	Config   *config.Config
	DB       *bun.DB
	Store    *repository.Store
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
	Registry *prometheus.Registry

	IAM           iam.Service
	Accounts      *accounts.Service
	Subscriptions *subscriptions.Service
	Merger        *reconcile.Service
}

// Close releases the underlying database connection.
func (b *Bundle) Close() {
	if b == nil || b.DB == nil {
		return
	}
	_ = bunx.Close(b.DB)
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg *config.Config) *slog.Logger {
	return logging.New(os.Stderr, logging.Options{Format: cfg.LogFormat, Debug: cfg.Debug})
}

// Load reads configuration and builds the bundle.
func Load(opts Options) (*Bundle, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewBundle(cfg, NewLogger(cfg), opts)
}

// NewBundle connects to the database, initializes Casbin and wires the
// identity, authorization and subscription services together.
func NewBundle(cfg *config.Config, logger *slog.Logger, opts Options) (*Bundle, error) {
	db, err := bunx.NewDB(cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.MaxDBConnections})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var tokens *auth.TokenIssuer
	if cfg.Token.Secret != "" {
		tokens, err = auth.NewTokenIssuer(cfg.Token.Secret, cfg.Token.TTL)
		if err != nil {
			_ = bunx.Close(db)
			return nil, fmt.Errorf("configure tokens: %w", err)
		}
	} else if opts.RequireTokens {
		_ = bunx.Close(db)
		return nil, fmt.Errorf("%s_TOKEN_SECRET is required", config.EnvPrefix)
	}

	enforcer, err := auth.InitEnforcer(db)
	if err != nil {
		_ = bunx.Close(db)
		return nil, fmt.Errorf("failed to initialize casbin enforcer: %w", err)
	}

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	metrics := telemetry.NewMetrics(registry)
	store := repository.NewStore(db)

	iamService, err := iam.NewIAMService(iam.IAMServiceDependencies{
		Store:    store,
		Enforcer: enforcer,
		Tokens:   tokens,
		Metrics:  metrics,
		Logger:   logger,
	}, iam.IAMServiceConfig{Permissions: cfg.Permissions})
	if err != nil {
		_ = bunx.Close(db)
		return nil, fmt.Errorf("failed to create IAM service: %w", err)
	}

	subs := subscriptions.NewService(store, iamService, cfg.Subscriptions).
		WithMetrics(metrics).
		WithLogger(logger)
	iamService.SetMaterializer(subs)

	accountService := accounts.NewService(store, auth.NewPasswordHasher(), tokens).
		WithMetrics(metrics).
		WithLogger(logger)

	merger := reconcile.NewService(store).
		WithInvalidator(iamService).
		WithMetrics(metrics).
		WithLogger(logger)

	return &Bundle{
		Config:        cfg,
		DB:            db,
		Store:         store,
		Logger:        logger,
		Metrics:       metrics,
		Registry:      registry,
		IAM:           iamService,
		Accounts:      accountService,
		Subscriptions: subs,
		Merger:        merger,
	}, nil
}
