package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
)

// SysadminChecker reports whether a user holds the global sysadmin role.
type SysadminChecker interface {
	IsSysadmin(ctx context.Context, userID string) (bool, error)
}

// RequireAuthenticated rejects anonymous callers with 401.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.PrincipalFromContext(r.Context()).Authenticated() {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSysadmin admits only holders of the global sysadmin role.
func RequireSysadmin(checker SysadminChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireAuthenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.PrincipalFromContext(r.Context())
			ok, err := checker.IsSysadmin(r.Context(), principal.ProfileID)
			if err != nil {
				logger.Error("sysadmin check failed", "profile_id", principal.ProfileID, "error", err)
				writeError(w, http.StatusInternalServerError, "authorization failed")
				return
			}
			if !ok {
				writeError(w, http.StatusForbidden, "forbidden: requires sysadmin")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
