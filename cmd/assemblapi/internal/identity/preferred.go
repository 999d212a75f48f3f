package identity

import (
	"cmp"
	"context"
	"slices"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/lazy"
)

// PreferredEmailFinder runs the preferred-email ranking in the store.
type PreferredEmailFinder interface {
	FindPreferredEmail(ctx context.Context, profileID string) (*models.Account, error)
}

// RankEmailAccounts returns the email accounts with an address, best first:
// verified, then preferred, then by id.
func RankEmailAccounts(accounts []*models.Account) []*models.Account {
	ranked := make([]*models.Account, 0, len(accounts))
	for _, a := range accounts {
		if a.Kind == models.AccountKindEmail && a.Email != "" {
			ranked = append(ranked, a)
		}
	}
	slices.SortFunc(ranked, func(x, y *models.Account) int {
		if c := cmpBoolDesc(x.Verified, y.Verified); c != 0 {
			return c
		}
		if c := cmpBoolDesc(x.Preferred, y.Preferred); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return ranked
}

// ResolvePreferredEmail picks the profile's best email account, or nil. It
// ranks in memory when accounts is loaded and asks finder otherwise.
func ResolvePreferredEmail(ctx context.Context, profileID string, accounts *lazy.List[*models.Account], finder PreferredEmailFinder) (*models.Account, error) {
	if items, ok := accounts.Items(); ok {
		ranked := RankEmailAccounts(items)
		if len(ranked) == 0 {
			return nil, nil
		}
		return ranked[0], nil
	}
	return finder.FindPreferredEmail(ctx, profileID)
}

func cmpBoolDesc(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}
