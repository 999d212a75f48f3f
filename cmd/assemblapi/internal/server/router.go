// Package server is the thin HTTP adapter over the identity, authorization
// and subscription services.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/logging"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/middleware"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/telemetry"
)

// RouterOptions controls the construction of the HTTP router.
// IAM is required; routes of other missing services are not mounted.
type RouterOptions struct {
	IAM           iamService
	Accounts      accountService
	Subscriptions subscriptionService
	Merger        profileMerger

	Metrics  *telemetry.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger

	CORSOptions   *cors.Options
	Middleware    []func(http.Handler) http.Handler
	HealthHandler http.HandlerFunc
}

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type handlers struct {
	iam           iamService
	accounts      accountService
	subscriptions subscriptionService
	merger        profileMerger
	logger        *slog.Logger
}

// NewRouter assembles a chi.Router with shared middleware, the CORS policy
// and the API handlers mounted.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	h := &handlers{
		iam:           opts.IAM,
		accounts:      opts.Accounts,
		subscriptions: opts.Subscriptions,
		merger:        opts.Merger,
		logger:        logger.With("component", "http"),
	}

	r := chi.NewRouter()

	// Baseline middleware shared across entrypoints.
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics(opts.Metrics))

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/healthz", healthHandler)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authn(opts.IAM, h.logger))

		if h.accounts != nil {
			r.Post("/token", h.handleToken)
			r.With(middleware.RequireAuthenticated).Post("/logout", h.handleLogout)
			r.With(middleware.RequireAuthenticated).Get("/me", h.handleWhoAmI)
		}

		r.Route("/discussions/{discussionID}", func(r chi.Router) {
			r.Get("/permissions", h.handlePermissions)
			r.With(middleware.RequireAuthenticated).Post("/roles", h.handleAddLocalRole)
			if h.subscriptions != nil {
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireAuthenticated)
					r.Get("/subscriptions", h.handleGetSubscriptions)
					r.Put("/subscriptions/{class}", h.handleSetSubscription)
				})
			}
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireSysadmin(opts.IAM, h.logger))
			r.Get("/discussions/{discussionID}/matrix", h.handleMatrix)
			r.Post("/policies/refresh", h.handleRefreshPolicies)
			if h.merger != nil {
				r.Post("/profiles/{targetID}/merge/{sourceID}", h.handleMerge)
			}
			if h.accounts != nil {
				r.Get("/accounts", h.handleListAccounts)
			}
		})
	})

	return r
}
