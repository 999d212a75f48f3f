package auth

import "context"

// Principal is the caller identity propagated through the request context.
// The zero value is the anonymous caller.
type Principal struct {
	// ProfileID is empty for anonymous callers
	ProfileID string
	// TokenID is the jti of the bearer token, used for revocation
	TokenID string
}

// Authenticated reports whether the principal denotes a logged-in user.
func (p Principal) Authenticated() bool {
	return p.ProfileID != ""
}

type principalContextKey struct{}

// SetPrincipal stores the principal on the context for downstream consumers.
func SetPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext returns the principal, or the anonymous principal
// when none was set.
func PrincipalFromContext(ctx context.Context) Principal {
	principal, _ := ctx.Value(principalContextKey{}).(Principal)
	return principal
}
