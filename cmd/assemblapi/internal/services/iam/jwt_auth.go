package iam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/repository"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
)

// JWTAuthenticator authenticates requests using HS256 bearer tokens issued
// by auth.TokenIssuer.
//
//  1. Extract "Authorization: Bearer <token>" header
//  2. Return (nil, nil) if not present
//  3. Verify signature, issuer and expiry
//  4. Check jti revocation
//  5. Check that the subject is still a user (merged-away profiles are gone)
//
// This authenticator is stateless and thread-safe.
type JWTAuthenticator struct {
	issuer  *auth.TokenIssuer
	users   repository.UserRepository
	revoked repository.RevokedTokenRepository
}

// NewJWTAuthenticator creates a new JWT authenticator.
func NewJWTAuthenticator(issuer *auth.TokenIssuer, users repository.UserRepository, revoked repository.RevokedTokenRepository) *JWTAuthenticator {
	return &JWTAuthenticator{issuer: issuer, users: users, revoked: revoked}
}

// Authenticate extracts and validates a bearer token.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, req AuthRequest) (*auth.Principal, error) {
	header := strings.TrimSpace(req.Headers.Get("Authorization"))
	if header == "" {
		return nil, nil
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		// Some other scheme, not ours
		return nil, nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("empty bearer token: %w", auth.ErrInvalidToken)
	}

	claims, err := a.issuer.Parse(token)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("token missing jti or sub claim: %w", auth.ErrInvalidToken)
	}

	isRevoked, err := a.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation status: %w", err)
	}
	if isRevoked {
		return nil, fmt.Errorf("token has been revoked: %w", auth.ErrInvalidToken)
	}

	if _, err := a.users.GetByID(ctx, claims.Subject); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("token subject %s is not a user: %w", claims.Subject, auth.ErrInvalidToken)
		}
		return nil, fmt.Errorf("resolve token subject: %w", err)
	}

	return &auth.Principal{ProfileID: claims.Subject, TokenID: claims.ID}, nil
}
