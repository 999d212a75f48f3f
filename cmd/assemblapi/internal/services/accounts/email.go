package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/identity"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/lazy"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/repository"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
)

// Accounts returns the accounts of a profile as a loaded list.
func (s *Service) Accounts(ctx context.Context, profileID string) (*lazy.List[*models.Account], error) {
	accounts, err := s.store.Accounts.ListByProfile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list accounts of %s: %w", profileID, err)
	}
	return lazy.Of(accounts), nil
}

// PreferredEmail returns the address used to reach a profile: the user's
// chosen preferred email when set, else its best ranked email account. It
// returns "" when the profile has no email at all. accounts may be nil or
// unloaded; the ranking then runs in the store.
func (s *Service) PreferredEmail(ctx context.Context, profileID string, accounts *lazy.List[*models.Account]) (string, error) {
	profile, err := s.store.Profiles.GetByID(ctx, profileID)
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	if profile.IsUser() {
		user, err := s.store.Users.GetByID(ctx, profileID)
		if err != nil {
			return "", fmt.Errorf("get user: %w", err)
		}
		if user.PreferredEmail != nil && *user.PreferredEmail != "" {
			return *user.PreferredEmail, nil
		}
	}

	account, err := identity.ResolvePreferredEmail(ctx, profileID, accounts, s.store.Accounts)
	if err != nil {
		return "", fmt.Errorf("resolve preferred email: %w", err)
	}
	if account == nil {
		return "", nil
	}
	return account.Email, nil
}

// SetPreferredEmail marks a verified email account as the preferred one of
// its profile.
func (s *Service) SetPreferredEmail(ctx context.Context, profileID, accountID string) error {
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *repository.Store) error {
		account, err := tx.Accounts.GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if account.ProfileID != profileID {
			return fmt.Errorf("account %s does not belong to %s: %w", accountID, profileID, sentinel.ErrNotFound)
		}
		if account.Kind != models.AccountKindEmail || !account.Verified {
			return fmt.Errorf("only a verified email account can be preferred: %w", sentinel.ErrInvalidInput)
		}

		if err := tx.Accounts.ClearPreferred(ctx, profileID, accountID); err != nil {
			return err
		}
		account.Preferred = true
		if err := tx.Accounts.Update(ctx, account); err != nil {
			return err
		}

		profile, err := tx.Profiles.GetByID(ctx, profileID)
		if err != nil {
			return err
		}
		if !profile.IsUser() {
			return nil
		}
		user, err := tx.Users.GetByID(ctx, profileID)
		if err != nil {
			return err
		}
		user.PreferredEmail = &account.Email
		return tx.Users.Update(ctx, user)
	})
	if err != nil {
		return fmt.Errorf("set preferred email of %s: %w", profileID, err)
	}
	return nil
}

// DeleteAccount removes an account. A profile keeps at least one email
// account, and at least one verified email account once it has one.
func (s *Service) DeleteAccount(ctx context.Context, accountID string) error {
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *repository.Store) error {
		account, err := tx.Accounts.GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Kind == models.AccountKindEmail {
			siblings, err := tx.Accounts.ListByProfile(ctx, account.ProfileID)
			if err != nil {
				return err
			}
			var emails, verified int
			for _, a := range siblings {
				if a.Kind != models.AccountKindEmail {
					continue
				}
				emails++
				if a.Verified {
					verified++
				}
			}
			if emails <= 1 {
				return fmt.Errorf("cannot delete the last email account: %w", sentinel.ErrForbidden)
			}
			if account.Verified && verified <= 1 {
				return fmt.Errorf("cannot delete the last verified email account: %w", sentinel.ErrForbidden)
			}
		}

		if err := tx.Accounts.Delete(ctx, accountID); err != nil {
			return err
		}
		return clearPreferredEmail(ctx, tx, account)
	})
	if err != nil {
		return fmt.Errorf("delete account %s: %w", accountID, err)
	}
	s.logger.Info("account deleted", "account_id", accountID)
	return nil
}

// clearPreferredEmail forgets a user's preferred email that pointed at a
// deleted account.
func clearPreferredEmail(ctx context.Context, tx *repository.Store, deleted *models.Account) error {
	if deleted.Kind != models.AccountKindEmail {
		return nil
	}
	user, err := tx.Users.GetByID(ctx, deleted.ProfileID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if user.PreferredEmail == nil || identity.NormalizeEmail(*user.PreferredEmail) != deleted.Email {
		return nil
	}
	user.PreferredEmail = nil
	return tx.Users.Update(ctx, user)
}

// AccountFields flattens an account for filter evaluation.
func AccountFields(a *models.Account) map[string]any {
	return map[string]any{
		"ID":               a.ID,
		"ProfileID":        a.ProfileID,
		"Kind":             a.Kind,
		"Signature":        a.Signature,
		"Login":            a.Login,
		"Email":            a.Email,
		"Verified":         a.Verified,
		"Preferred":        a.Preferred,
		"ProviderUsername": a.ProviderUsername,
		"ProviderDomain":   a.ProviderDomain,
		"ProviderUserID":   a.ProviderUserID,
		"DisplayName":      identity.DisplayName(a),
	}
}

// ListAccounts returns every account matching a go-bexpr filter such as
// `Kind == "email" and Verified == true`.
func (s *Service) ListAccounts(ctx context.Context, filter string) ([]*models.Account, error) {
	f, err := auth.CompileFilter(filter)
	if err != nil {
		return nil, err
	}
	all, err := s.store.Accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	matched := make([]*models.Account, 0, len(all))
	for _, a := range all {
		if f.Match(AccountFields(a)) {
			matched = append(matched, a)
		}
	}
	return matched, nil
}
