package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

func strPtr(s string) *string { return &s }

func TestSignature_EmailIsCaseInsensitive(t *testing.T) {
	a := &models.Account{ID: "1", Kind: models.AccountKindEmail, Email: "A@X.com "}
	b := &models.Account{ID: "2", Kind: models.AccountKindEmail, Email: "a@x.com"}

	assert.True(t, Signature(a).Equal(Signature(b)))
	assert.Equal(t, "email|a%40x.com", Signature(a).String())
}

func TestSignature_StableUnderReparenting(t *testing.T) {
	accounts := []*models.Account{
		{ID: "1", ProfileID: "p1", Kind: models.AccountKindEmail, Email: "a@x.com"},
		{ID: "2", ProfileID: "p1", Kind: models.AccountKindPassword, Login: "Alice"},
		{ID: "3", ProfileID: "p1", Kind: models.AccountKindIDProvider, ProviderID: strPtr("github"), ProviderUsername: "alice", ProviderUserID: "42"},
		{ID: "4", ProfileID: "p1", Kind: "legacy"},
	}

	for _, a := range accounts {
		before := Signature(a).String()
		a.ProfileID = "p2"
		assert.Equal(t, before, Signature(a).String(), a.Kind)
	}
}

func TestSignature_ProviderFieldsDistinguish(t *testing.T) {
	base := models.Account{Kind: models.AccountKindIDProvider, ProviderID: strPtr("github"), ProviderUsername: "alice", ProviderUserID: "42"}
	other := base
	other.ProviderUserID = "43"
	noProvider := base
	noProvider.ProviderID = nil

	assert.False(t, Signature(&base).Equal(Signature(&other)))
	assert.False(t, Signature(&base).Equal(Signature(&noProvider)))
}

func TestSignature_SeparatorsCannotCollide(t *testing.T) {
	a := &models.Account{Kind: models.AccountKindIDProvider, ProviderID: strPtr("p"), ProviderUsername: "a|b", ProviderUserID: "c"}
	b := &models.Account{Kind: models.AccountKindIDProvider, ProviderID: strPtr("p"), ProviderUsername: "a", ProviderDomain: "b", ProviderUserID: "c"}

	assert.NotEqual(t, Signature(a).String(), Signature(b).String())
}

func TestSignature_UnknownKindFallsBackToID(t *testing.T) {
	a := &models.Account{ID: "abc", Kind: "saml"}
	assert.Equal(t, SignatureKey{Kind: "saml", Parts: []string{"abc"}}, Signature(a))

	Stamp(a)
	assert.Equal(t, "saml|abc", a.Signature)
}
