// Package middleware holds the chi middleware shared by the assemblapi
// router: bearer authentication, authorization guards and request metrics.
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/services/iam"
)

// Authenticator resolves the caller of a request. iam.Service satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, req iam.AuthRequest) (auth.Principal, error)
}

// Authn resolves the principal of every request and stores it on the
// context.
//
// Authentication flow:
//   - No Authorization header: anonymous principal, the request continues
//   - Valid bearer token: the token's user becomes the principal
//   - Invalid, expired or revoked token: 401
//
// Permission checks are left to the handlers and the guards below.
func Authn(authenticator Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			principal, err := authenticator.Authenticate(ctx, iam.AuthRequest{Headers: r.Header})
			if err != nil {
				logger.Info("authentication failed", "method", r.Method, "path", r.URL.Path, "error", err)
				writeError(w, http.StatusUnauthorized, "authentication failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.SetPrincipal(ctx, principal)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
