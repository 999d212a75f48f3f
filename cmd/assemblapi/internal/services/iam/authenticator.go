package iam

import (
	"context"
	"net/http"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
)

// Authenticator validates credentials and returns the caller's Principal.
//
// Return values:
//   - (principal, nil): Authentication successful
//   - (nil, nil): Credentials not present (not an error, try next authenticator)
//   - (nil, error): Authentication failed (invalid credentials)
type Authenticator interface {
	Authenticate(ctx context.Context, req AuthRequest) (*auth.Principal, error)
}

// AuthRequest wraps HTTP request data for authenticator implementations.
type AuthRequest struct {
	// Headers contains HTTP headers (including Authorization)
	Headers http.Header
}
