package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/identity"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/repository"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
)

// ErrInvalidCredentials is returned for an unknown login or a wrong password.
// The two cases are indistinguishable to callers.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Token is an issued access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ProfileID   string    `json:"profile_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login checks a password for a username, a password account login or a
// verified email, and issues a token. Failures are counted on the user.
func (s *Service) Login(ctx context.Context, login, password string) (*Token, error) {
	if s.tokens == nil {
		return nil, errNoTokens
	}
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	userID, err := s.resolveLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	var verifyErr error
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx *repository.Store) error {
		// Same key the reconciler takes, so counters and merges serialize.
		if err := tx.LockScope(ctx, "profile:"+userID); err != nil {
			return err
		}
		user, err := tx.Users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if user.PasswordHash == nil {
			verifyErr = ErrInvalidCredentials
			return nil
		}
		if err := s.hasher.Verify(password, *user.PasswordHash); err != nil {
			if !errors.Is(err, auth.ErrInvalidPassword) {
				return err
			}
			verifyErr = ErrInvalidCredentials
			user.LoginFailures++
			return tx.Users.Update(ctx, user)
		}
		now := s.now().UTC()
		user.LastLogin = &now
		user.LoginFailures = 0
		return tx.Users.Update(ctx, user)
	})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if verifyErr != nil {
		s.logger.Info("login failed", "profile_id", userID)
		return nil, verifyErr
	}
	return s.IssueToken(ctx, userID)
}

// resolveLogin maps a login string to a user id.
func (s *Service) resolveLogin(ctx context.Context, login string) (string, error) {
	user, err := s.store.Users.GetByUsername(ctx, login)
	if err == nil {
		return user.ProfileID, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return "", err
	}

	passwordAccount := &models.Account{Kind: models.AccountKindPassword, Login: login}
	found, err := s.store.Accounts.FindBySignature(ctx, identity.Signature(passwordAccount).String())
	if err != nil {
		return "", err
	}
	if len(found) > 0 {
		account, err := pickAccount(ctx, s.store, found)
		if err != nil {
			return "", err
		}
		return s.requireUser(ctx, account.ProfileID)
	}

	if !strings.Contains(login, "@") {
		return "", ErrInvalidCredentials
	}
	candidates, err := s.store.Accounts.FindEmailCandidates(ctx, login)
	if err != nil {
		return "", err
	}
	for _, c := range candidates {
		if c.ProfileKind == models.ProfileKindUser && c.Account.Verified {
			return c.Account.ProfileID, nil
		}
	}
	return "", ErrInvalidCredentials
}

func (s *Service) requireUser(ctx context.Context, profileID string) (string, error) {
	profile, err := s.store.Profiles.GetByID(ctx, profileID)
	if err != nil {
		return "", err
	}
	if profile.Kind != models.ProfileKindUser {
		return "", ErrInvalidCredentials
	}
	return profileID, nil
}

// IssueToken issues an access token for an existing user without checking
// credentials.
func (s *Service) IssueToken(ctx context.Context, userID string) (*Token, error) {
	if s.tokens == nil {
		return nil, errNoTokens
	}
	if _, err := s.requireUser(ctx, userID); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, fmt.Errorf("profile %s is not a user: %w", userID, sentinel.ErrInvalidInput)
		}
		return nil, fmt.Errorf("issue token: %w", err)
	}
	signed, claims, err := s.tokens.Issue(userID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("token issued", "profile_id", userID, "jti", claims.ID)
	return &Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ProfileID:   userID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// RevokeToken denylists a token until it expires.
func (s *Service) RevokeToken(ctx context.Context, tokenString string) error {
	if s.tokens == nil {
		return errNoTokens
	}
	claims, err := s.tokens.Parse(tokenString)
	if err != nil {
		return err
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return auth.ErrInvalidToken
	}
	revoked := &models.RevokedToken{JTI: claims.ID, ProfileID: claims.Subject, Exp: claims.ExpiresAt.Time}
	if err := s.store.RevokedTokens.Revoke(ctx, revoked); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.logger.Info("token revoked", "profile_id", claims.Subject, "jti", claims.ID)
	return nil
}

// PurgeRevokedTokens drops denylist entries expired for longer than grace.
func (s *Service) PurgeRevokedTokens(ctx context.Context, grace time.Duration) (int64, error) {
	n, err := s.store.RevokedTokens.DeleteExpired(ctx, grace)
	if err != nil {
		return 0, fmt.Errorf("purge revoked tokens: %w", err)
	}
	if n > 0 {
		s.logger.Debug("revoked tokens purged", "count", n)
	}
	return n, nil
}

// SetPassword replaces a user's password and clears its failure count.
func (s *Service) SetPassword(ctx context.Context, userID, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx *repository.Store) error {
		// Same key the reconciler takes, so counters and merges serialize.
		if err := tx.LockScope(ctx, "profile:"+userID); err != nil {
			return err
		}
		user, err := tx.Users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		user.PasswordHash = &hash
		user.LoginFailures = 0
		return tx.Users.Update(ctx, user)
	})
	if err != nil {
		return fmt.Errorf("set password of %s: %w", userID, err)
	}
	return nil
}
