package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/identity"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/repository"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
)

// mergeAccounts coalesces source accounts into target accounts that share
// their signature and re-parents the rest.
func mergeAccounts(ctx context.Context, tx *repository.Store, target, source *models.Profile, result *Result) error {
	targetAccounts, err := tx.Accounts.ListByProfile(ctx, target.ID)
	if err != nil {
		return err
	}
	bySignature := make(map[string]*models.Account, len(targetAccounts))
	targetPreferred := make(map[string]bool)
	for _, a := range targetAccounts {
		bySignature[identity.Signature(a).String()] = a
		if a.Kind == models.AccountKindEmail && a.Preferred {
			targetPreferred[a.ID] = true
		}
	}

	sourceAccounts, err := tx.Accounts.ListByProfile(ctx, source.ID)
	if err != nil {
		return err
	}
	for _, src := range sourceAccounts {
		sig := identity.Signature(src).String()
		dst, ok := bySignature[sig]
		if !ok {
			if err := tx.Accounts.Reparent(ctx, src.ID, target.ID); err != nil {
				return err
			}
			src.ProfileID = target.ID
			bySignature[sig] = src
			result.ReparentedAccounts++
			continue
		}

		if err := identity.MergeAccount(dst, src); err != nil {
			return &sentinel.InvariantViolation{Invariant: "unique-signature", Detail: err.Error()}
		}
		if err := tx.Accounts.Delete(ctx, src.ID); err != nil {
			return err
		}
		if err := tx.Accounts.Update(ctx, dst); err != nil {
			return err
		}
		result.CoalescedAccounts++
	}

	return dedupePreferred(ctx, tx, target.ID, targetPreferred)
}

// dedupePreferred keeps a single preferred email account on the profile,
// favoring one the target preferred before the merge. MergeAccount ORs the
// source flag into coalesced rows, so the set is taken before coalescing.
func dedupePreferred(ctx context.Context, tx *repository.Store, profileID string, targetPreferred map[string]bool) error {
	accounts, err := tx.Accounts.ListByProfile(ctx, profileID)
	if err != nil {
		return err
	}
	var preferred []*models.Account
	for _, a := range accounts {
		if a.Kind == models.AccountKindEmail && a.Preferred {
			preferred = append(preferred, a)
		}
	}
	if len(preferred) < 2 {
		return nil
	}

	ranked := identity.RankEmailAccounts(preferred)
	keep := ranked[0]
	for _, a := range ranked {
		if targetPreferred[a.ID] {
			keep = a
			break
		}
	}
	return tx.Accounts.ClearPreferred(ctx, profileID, keep.ID)
}

// mergeUsers applies the user-level rules and re-parents roles and
// subscriptions.
func mergeUsers(ctx context.Context, tx *repository.Store, targetID, sourceID string, result *Result) error {
	target, err := tx.Users.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	source, err := tx.Users.GetByID(ctx, sourceID)
	if err != nil {
		return err
	}

	if target.PreferredEmail == nil && source.PreferredEmail != nil {
		target.PreferredEmail = source.PreferredEmail
	}

	previousLogin := target.LastLogin
	if source.LastLogin != nil && (target.LastLogin == nil || source.LastLogin.After(*target.LastLogin)) {
		last := *source.LastLogin
		target.LastLogin = &last
	}
	if !source.CreationDate.IsZero() && (target.CreationDate.IsZero() || source.CreationDate.Before(target.CreationDate)) {
		target.CreationDate = source.CreationDate
	}

	if target.PasswordHash == nil && source.PasswordHash != nil && source.LastLogin != nil &&
		(previousLogin == nil || source.LastLogin.After(*previousLogin)) {
		target.PasswordHash = source.PasswordHash
		target.LoginFailures = source.LoginFailures
		result.AdoptedCredential = true
	}

	if err := tx.Users.Update(ctx, target); err != nil {
		return err
	}

	moved, err := moveUsername(ctx, tx, targetID, sourceID)
	if err != nil {
		return err
	}
	result.MovedUsername = moved

	if err := mergeGlobalRoles(ctx, tx, targetID, sourceID, result); err != nil {
		return err
	}
	if err := mergeLocalRoles(ctx, tx, targetID, sourceID, result); err != nil {
		return err
	}
	return mergeSubscriptions(ctx, tx, targetID, sourceID, result)
}

func moveUsername(ctx context.Context, tx *repository.Store, targetID, sourceID string) (bool, error) {
	if _, err := tx.Users.GetUsername(ctx, targetID); err == nil {
		return false, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return false, err
	}
	if _, err := tx.Users.GetUsername(ctx, sourceID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := tx.Users.MoveUsername(ctx, sourceID, targetID); err != nil {
		return false, err
	}
	return true, nil
}

func mergeGlobalRoles(ctx context.Context, tx *repository.Store, targetID, sourceID string, result *Result) error {
	held, err := tx.Roles.ListGlobalRoles(ctx, targetID)
	if err != nil {
		return err
	}
	roles := make(map[string]bool, len(held))
	for _, ur := range held {
		roles[ur.RoleID] = true
	}

	moving, err := tx.Roles.ListGlobalRoles(ctx, sourceID)
	if err != nil {
		return err
	}
	for _, ur := range moving {
		if roles[ur.RoleID] {
			if err := tx.Roles.DeleteGlobalRole(ctx, ur.ID); err != nil {
				return err
			}
			result.Dropped++
			continue
		}
		if err := tx.Roles.ReparentGlobalRole(ctx, ur.ID, targetID); err != nil {
			return err
		}
		roles[ur.RoleID] = true
		result.GlobalRoles++
	}
	return nil
}

type localGrants struct {
	confirmed *models.LocalUserRole
	requested []*models.LocalUserRole
}

func localKey(lur *models.LocalUserRole) string {
	return lur.DiscussionID + "|" + lur.RoleID
}

// mergeLocalRoles keeps at most one confirmed grant per (discussion, role).
// A confirmed grant supersedes pending requests for the same tuple.
func mergeLocalRoles(ctx context.Context, tx *repository.Store, targetID, sourceID string, result *Result) error {
	held, err := tx.Roles.ListLocalRoles(ctx, targetID)
	if err != nil {
		return err
	}
	grants := make(map[string]*localGrants, len(held))
	for _, lur := range held {
		g := grants[localKey(lur)]
		if g == nil {
			g = &localGrants{}
			grants[localKey(lur)] = g
		}
		if lur.Requested {
			g.requested = append(g.requested, lur)
		} else {
			g.confirmed = lur
		}
	}

	moving, err := tx.Roles.ListLocalRoles(ctx, sourceID)
	if err != nil {
		return err
	}
	for _, lur := range moving {
		g := grants[localKey(lur)]
		if g == nil {
			g = &localGrants{}
			grants[localKey(lur)] = g
		}

		drop := g.confirmed != nil || (lur.Requested && len(g.requested) > 0)
		if drop {
			if err := tx.Roles.DeleteLocalRole(ctx, lur.ID); err != nil {
				return err
			}
			result.Dropped++
			continue
		}

		if !lur.Requested {
			for _, pending := range g.requested {
				if err := tx.Roles.DeleteLocalRole(ctx, pending.ID); err != nil {
					return err
				}
				result.Dropped++
			}
			g.requested = nil
		}
		if err := tx.Roles.ReparentLocalRole(ctx, lur.ID, targetID); err != nil {
			return err
		}
		lur.UserID = targetID
		if lur.Requested {
			g.requested = append(g.requested, lur)
		} else {
			g.confirmed = lur
		}
		result.LocalRoles++
	}
	return nil
}

// mergeSubscriptions re-parents subscriptions, dropping the source's copy
// when the target already holds the (discussion, class) pair.
func mergeSubscriptions(ctx context.Context, tx *repository.Store, targetID, sourceID string, result *Result) error {
	held, err := tx.Subscriptions.ListByUser(ctx, targetID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(held))
	for _, sub := range held {
		have[sub.DiscussionID+"|"+sub.Class] = true
	}

	moving, err := tx.Subscriptions.ListByUser(ctx, sourceID)
	if err != nil {
		return err
	}
	var duplicates []string
	for _, sub := range moving {
		key := sub.DiscussionID + "|" + sub.Class
		if have[key] {
			duplicates = append(duplicates, sub.ID)
			continue
		}
		if err := tx.Subscriptions.Reparent(ctx, sub.ID, targetID); err != nil {
			return err
		}
		have[key] = true
		result.Subscriptions++
	}
	if err := tx.Subscriptions.Delete(ctx, duplicates...); err != nil {
		return err
	}
	result.Dropped += len(duplicates)
	return nil
}

// checkSignatures asserts that no signature appears twice on the profile.
func checkSignatures(ctx context.Context, tx *repository.Store, profileID string) error {
	accounts, err := tx.Accounts.ListByProfile(ctx, profileID)
	if err != nil {
		return err
	}
	seen := make(map[string]string, len(accounts))
	for _, a := range accounts {
		sig := identity.Signature(a).String()
		if other, ok := seen[sig]; ok {
			return &sentinel.InvariantViolation{
				Invariant: "unique-signature",
				Detail:    fmt.Sprintf("accounts %s and %s of %s share %s", other, a.ID, profileID, sig),
			}
		}
		seen[sig] = a.ID
	}
	return nil
}
