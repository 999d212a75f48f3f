package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yyang42/assembl/cmd/assemblapi/cmd/cmdutil"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/server"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/telemetry"
)

// revokedTokenGrace keeps revoked jtis around after expiry so that tokens
// issued just before a clock step are still rejected.
const revokedTokenGrace = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Starts the HTTP API together with the background policy refresh and
revoked-token purge loops.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(flushCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()

		bundle, err := cmdutil.NewBundle(cfg, logger, cmdutil.Options{RequireTokens: true})
		if err != nil {
			return err
		}
		defer bundle.Close()
		logger.Info("connected to database")

		healthHandler := func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := bundle.DB.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprint(w, `{"status":"unavailable"}`)
				return
			}
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"status":"ok"}`)
		}

		router := server.NewRouter(server.RouterOptions{
			IAM:           bundle.IAM,
			Accounts:      bundle.Accounts,
			Subscriptions: bundle.Subscriptions,
			Merger:        bundle.Merger,
			Metrics:       bundle.Metrics,
			Gatherer:      bundle.Registry,
			Logger:        logger,
			HealthHandler: healthHandler,
		})

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// SIGHUP triggers an immediate policy refresh
		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)
		defer signal.Stop(reload)

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			logger.Info("starting server", "addr", cfg.ServerAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down gracefully")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				_ = srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			logger.Info("server stopped")
			return nil
		})

		g.Go(func() error {
			ticker := time.NewTicker(cfg.Permissions.RefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					refreshPolicies(gctx, bundle, "interval")
				case sig := <-reload:
					refreshPolicies(gctx, bundle, sig.String())
				case <-gctx.Done():
					return nil
				}
			}
		})

		g.Go(func() error {
			ticker := time.NewTicker(revokedTokenGrace)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					n, err := bundle.Accounts.PurgeRevokedTokens(gctx, revokedTokenGrace)
					if err != nil {
						logger.Error("revoked token purge failed", "error", err)
						continue
					}
					logger.Debug("revoked tokens purged", "count", n)
				case <-gctx.Done():
					return nil
				}
			}
		})

		return g.Wait()
	},
}

func refreshPolicies(ctx context.Context, bundle *cmdutil.Bundle, trigger string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := bundle.IAM.RefreshPolicies(ctx); err != nil {
		logger.Error("policy refresh failed", "trigger", trigger, "error", err)
		return
	}
	logger.Debug("policies refreshed", "trigger", trigger)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
