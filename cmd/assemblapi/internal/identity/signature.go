// Package identity holds the account variants: their signatures, their
// field-level merge rules and their presentation. Every function dispatches
// explicitly on models.Account.Kind.
package identity

import (
	"net/url"
	"strings"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

// SignatureKey identifies "the same underlying account" regardless of the
// profile that currently owns it.
type SignatureKey struct {
	Kind  string
	Parts []string
}

// String encodes the key canonically. The encoding is what accounts.signature
// stores, so it must never change for an existing kind.
func (k SignatureKey) String() string {
	var b strings.Builder
	b.WriteString(url.QueryEscape(k.Kind))
	for _, p := range k.Parts {
		b.WriteByte('|')
		b.WriteString(url.QueryEscape(p))
	}
	return b.String()
}

// Equal compares two keys component-wise.
func (k SignatureKey) Equal(other SignatureKey) bool {
	return k.String() == other.String()
}

// Signature computes the deduplication key of a. It only reads identifying
// fields, never ProfileID, and is total over every kind.
func Signature(a *models.Account) SignatureKey {
	switch a.Kind {
	case models.AccountKindPassword:
		return SignatureKey{Kind: a.Kind, Parts: []string{normalize(a.Login)}}
	case models.AccountKindEmail:
		return SignatureKey{Kind: a.Kind, Parts: []string{normalize(a.Email)}}
	case models.AccountKindIDProvider:
		provider := ""
		if a.ProviderID != nil {
			provider = *a.ProviderID
		}
		return SignatureKey{Kind: a.Kind, Parts: []string{provider, a.ProviderUsername, a.ProviderDomain, a.ProviderUserID}}
	default:
		return SignatureKey{Kind: a.Kind, Parts: []string{a.ID}}
	}
}

// Stamp sets a.Signature from its identifying fields.
func Stamp(a *models.Account) {
	a.Signature = Signature(a).String()
}

// NormalizeEmail is the canonical form of an email address for lookups.
func NormalizeEmail(email string) string {
	return normalize(email)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
