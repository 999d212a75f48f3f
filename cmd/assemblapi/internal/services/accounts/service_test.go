package accounts

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/identity"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/lazy"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/repository"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/services/reconcile"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/testdb"
)

type testEnv struct {
	store  *repository.Store
	svc    *Service
	tokens *auth.TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewStore(testdb.Open(t))
	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	svc := NewService(store, &auth.PasswordHasher{Cost: bcrypt.MinCost}, tokens)
	return &testEnv{store: store, svc: svc, tokens: tokens}
}

func (e *testEnv) user(t *testing.T, name string) string {
	t.Helper()
	profile := &models.Profile{Name: name}
	require.NoError(t, e.store.Users.Create(context.Background(), profile, &models.User{}))
	return profile.ID
}

func (e *testEnv) account(t *testing.T, a *models.Account) *models.Account {
	t.Helper()
	require.NoError(t, e.store.Accounts.Create(context.Background(), a))
	return a
}

func email(addr string) *models.Account {
	return &models.Account{Kind: models.AccountKindEmail, Email: addr}
}

func TestGetOrCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, isNew, err := env.svc.GetOrCreate(ctx, email("New@X.com"))
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "new@x.com", created.Email)

	profile, err := env.store.Profiles.GetByID(ctx, created.ProfileID)
	require.NoError(t, err)
	assert.Equal(t, models.ProfileKindProfile, profile.Kind)
	assert.Equal(t, "new@x.com", profile.Name)

	again, isNew, err := env.svc.GetOrCreate(ctx, email("new@x.com "))
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, created.ID, again.ID)
}

func TestGetOrCreate_PrefersUserThenVerified(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	plain := &models.Profile{Name: "plain"}
	require.NoError(t, env.store.Profiles.Create(ctx, plain))
	env.account(t, &models.Account{ProfileID: plain.ID, Kind: models.AccountKindEmail, Email: "dup@x.com", Verified: true})
	u := env.user(t, "user")
	owned := env.account(t, &models.Account{ProfileID: u, Kind: models.AccountKindEmail, Email: "dup@x.com"})

	got, isNew, err := env.svc.GetOrCreate(ctx, email("dup@x.com"))
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, owned.ID, got.ID)
}

func TestGetOrCreate_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, _, err := env.svc.GetOrCreate(ctx, &models.Account{Kind: models.AccountKindPassword, Login: "racer"})
			assert.NoError(t, err)
			if a != nil {
				ids[i] = a.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	all, err := env.store.Accounts.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetOrCreate_Invalid(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.svc.GetOrCreate(context.Background(), &models.Account{Kind: "carrier-pigeon"})
	assert.ErrorIs(t, err, sentinel.ErrInvalidInput)
	_, _, err = env.svc.GetOrCreate(context.Background(), email("not-an-email"))
	assert.ErrorIs(t, err, sentinel.ErrInvalidInput)
}

func TestGetOrCreate_AfterMerge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p1 := env.user(t, "p1")
	p2 := env.user(t, "p2")
	env.account(t, &models.Account{ProfileID: p2, Kind: models.AccountKindEmail, Email: "p2@x.com"})
	env.account(t, &models.Account{ProfileID: p2, Kind: models.AccountKindPassword, Login: "p2"})

	_, err := reconcile.NewService(env.store).MergeProfiles(ctx, p1, p2)
	require.NoError(t, err)

	for _, candidate := range []*models.Account{email("p2@x.com"), {Kind: models.AccountKindPassword, Login: "P2"}} {
		got, isNew, err := env.svc.GetOrCreate(ctx, candidate)
		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, p1, got.ProfileID)
	}
	all, err := env.store.Accounts.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetOrCreate_Provider(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	idp, err := env.svc.RegisterProvider(ctx, "github", "github", false)
	require.NoError(t, err)
	providers, err := env.svc.Providers(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 1)

	candidate := &models.Account{
		Kind:             models.AccountKindIDProvider,
		ProviderID:       &idp.ID,
		ProviderUsername: "octo",
		ProviderUserID:   "42",
	}
	created, isNew, err := env.svc.GetOrCreate(ctx, candidate)
	require.NoError(t, err)
	assert.True(t, isNew)

	again, isNew, err := env.svc.GetOrCreate(ctx, candidate)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, created.ID, again.ID)

	unknown := "not-registered"
	_, _, err = env.svc.GetOrCreate(ctx, &models.Account{
		Kind:           models.AccountKindIDProvider,
		ProviderID:     &unknown,
		ProviderUserID: "42",
	})
	assert.ErrorIs(t, err, sentinel.ErrInvalidInput)
}

func TestEmailPathsShareLockScope(t *testing.T) {
	sig := identity.Signature(&models.Account{Kind: models.AccountKindEmail, Email: "a@x.com"}).String()
	assert.Equal(t, accountScope(sig), emailScope("a@x.com"))
}

func TestCreateUserRacesGetOrCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const rounds = 10
	for i := range rounds {
		addr := fmt.Sprintf("race%d@x.com", i)
		var wg sync.WaitGroup
		var createErr, getErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, createErr = env.svc.CreateUser(ctx, NewUser{Name: "racer", Email: addr})
		}()
		go func() {
			defer wg.Done()
			_, _, getErr = env.svc.GetOrCreate(ctx, email(addr))
		}()
		wg.Wait()

		require.NoError(t, getErr)
		if createErr != nil {
			assert.ErrorIs(t, createErr, sentinel.ErrConflict)
		}
		found, err := env.store.Accounts.FindBySignature(ctx, identity.Signature(email(addr)).String())
		require.NoError(t, err)
		assert.Len(t, found, 1, addr)
	}
}

func TestGetOrMakeProfileForEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("creates a profile with an unverified account", func(t *testing.T) {
		p, err := env.svc.GetOrMakeProfileForEmail(ctx, "fresh@x.com", "Fresh")
		require.NoError(t, err)
		assert.Equal(t, "Fresh", p.Name)

		accounts, err := env.store.Accounts.ListByProfile(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, accounts, 1)
		assert.False(t, accounts[0].Verified)

		again, err := env.svc.GetOrMakeProfileForEmail(ctx, "FRESH@x.com", "Other")
		require.NoError(t, err)
		assert.Equal(t, p.ID, again.ID)
	})

	t.Run("unverified user address is not trusted", func(t *testing.T) {
		u := env.user(t, "squatter")
		env.account(t, &models.Account{ProfileID: u, Kind: models.AccountKindEmail, Email: "claimed@x.com"})

		p, err := env.svc.GetOrMakeProfileForEmail(ctx, "claimed@x.com", "")
		require.NoError(t, err)
		assert.NotEqual(t, u, p.ID)
	})

	t.Run("verified user wins", func(t *testing.T) {
		u := env.user(t, "owner")
		env.account(t, &models.Account{ProfileID: u, Kind: models.AccountKindEmail, Email: "owned@x.com", Verified: true})
		_, err := env.svc.GetOrMakeProfileForEmail(ctx, "owned@x.com", "")
		require.NoError(t, err)

		p, err := env.svc.GetOrMakeProfileForEmail(ctx, "owned@x.com", "")
		require.NoError(t, err)
		assert.Equal(t, u, p.ID)
	})

	t.Run("two verified users break an invariant", func(t *testing.T) {
		for _, name := range []string{"a", "b"} {
			u := env.user(t, name)
			env.account(t, &models.Account{ProfileID: u, Kind: models.AccountKindEmail, Email: "twice@x.com", Verified: true})
		}
		_, err := env.svc.GetOrMakeProfileForEmail(ctx, "twice@x.com", "")
		assert.ErrorIs(t, err, sentinel.ErrInvariant)
	})
}

func TestDeleteAccount_Guards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.user(t, "guarded")
	verified := env.account(t, &models.Account{ProfileID: u, Kind: models.AccountKindEmail, Email: "v@x.com", Verified: true})
	unverified := env.account(t, &models.Account{ProfileID: u, Kind: models.AccountKindEmail, Email: "u@x.com"})

	err := env.svc.DeleteAccount(ctx, verified.ID)
	assert.ErrorIs(t, err, sentinel.ErrForbidden, "last verified email")

	require.NoError(t, env.svc.DeleteAccount(ctx, unverified.ID))

	err = env.svc.DeleteAccount(ctx, verified.ID)
	assert.ErrorIs(t, err, sentinel.ErrForbidden, "last email")

	password := env.account(t, &models.Account{ProfileID: u, Kind: models.AccountKindPassword, Login: "guarded"})
	require.NoError(t, env.svc.DeleteAccount(ctx, password.ID))
}

func TestPreferredEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.user(t, "mail")
	first := env.account(t, &models.Account{ProfileID: u, Kind: models.AccountKindEmail, Email: "first@x.com"})
	second := env.account(t, &models.Account{ProfileID: u, Kind: models.AccountKindEmail, Email: "second@x.com", Verified: true})

	t.Run("ranking from the store", func(t *testing.T) {
		got, err := env.svc.PreferredEmail(ctx, u, nil)
		require.NoError(t, err)
		assert.Equal(t, "second@x.com", got)
	})

	t.Run("ranking in memory", func(t *testing.T) {
		loaded := lazy.Of([]*models.Account{first, second})
		got, err := env.svc.PreferredEmail(ctx, u, loaded)
		require.NoError(t, err)
		assert.Equal(t, "second@x.com", got)
	})

	t.Run("explicit choice wins", func(t *testing.T) {
		err := env.svc.SetPreferredEmail(ctx, u, first.ID)
		assert.ErrorIs(t, err, sentinel.ErrInvalidInput, "unverified cannot be preferred")

		require.NoError(t, env.svc.SetPreferredEmail(ctx, u, second.ID))
		user, err := env.store.Users.GetByID(ctx, u)
		require.NoError(t, err)
		require.NotNil(t, user.PreferredEmail)
		assert.Equal(t, "second@x.com", *user.PreferredEmail)

		got, err := env.svc.PreferredEmail(ctx, u, lazy.Of[*models.Account](nil))
		require.NoError(t, err)
		assert.Equal(t, "second@x.com", got)
	})

	t.Run("no email", func(t *testing.T) {
		got, err := env.svc.PreferredEmail(ctx, env.user(t, "silent"), nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestListAccounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.user(t, "lister")
	env.account(t, &models.Account{ProfileID: u, Kind: models.AccountKindEmail, Email: "v@x.com", Verified: true})
	env.account(t, &models.Account{ProfileID: u, Kind: models.AccountKindEmail, Email: "u@x.com"})
	env.account(t, &models.Account{ProfileID: u, Kind: models.AccountKindPassword, Login: "lister"})

	got, err := env.svc.ListAccounts(ctx, `Kind == "email" and Verified == true`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v@x.com", got[0].Email)

	all, err := env.svc.ListAccounts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = env.svc.ListAccounts(ctx, "Kind ==")
	assert.ErrorIs(t, err, sentinel.ErrInvalidInput)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	profile, err := env.svc.CreateUser(ctx, NewUser{
		Name: "Erin", Email: "erin@x.com", Verified: true, Username: "erin", Password: "s3cret",
	})
	require.NoError(t, err)

	t.Run("by username", func(t *testing.T) {
		tok, err := env.svc.Login(ctx, "erin", "s3cret")
		require.NoError(t, err)
		assert.Equal(t, profile.ID, tok.ProfileID)

		claims, err := env.tokens.Parse(tok.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, profile.ID, claims.Subject)
	})

	t.Run("by verified email", func(t *testing.T) {
		tok, err := env.svc.Login(ctx, "ERIN@x.com", "s3cret")
		require.NoError(t, err)
		assert.Equal(t, profile.ID, tok.ProfileID)
	})

	t.Run("wrong password counts a failure", func(t *testing.T) {
		_, err := env.svc.Login(ctx, "erin", "nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		user, err := env.store.Users.GetByID(ctx, profile.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, user.LoginFailures)

		_, err = env.svc.Login(ctx, "erin", "s3cret")
		require.NoError(t, err)
		user, err = env.store.Users.GetByID(ctx, profile.ID)
		require.NoError(t, err)
		assert.Zero(t, user.LoginFailures)
		assert.NotNil(t, user.LastLogin)
	})

	t.Run("concurrent failures are all counted", func(t *testing.T) {
		const n = 5
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.svc.Login(ctx, "erin", "wrong")
				assert.ErrorIs(t, err, ErrInvalidCredentials)
			}()
		}
		wg.Wait()
		user, err := env.store.Users.GetByID(ctx, profile.ID)
		require.NoError(t, err)
		assert.Equal(t, n, user.LoginFailures)

		_, err = env.svc.Login(ctx, "erin", "s3cret")
		require.NoError(t, err)
	})

	t.Run("unknown login", func(t *testing.T) {
		_, err := env.svc.Login(ctx, "nobody", "s3cret")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := env.svc.CreateUser(ctx, NewUser{Email: "erin@x.com"})
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})
}

func TestRevokeToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.user(t, "revoker")
	tok, err := env.svc.IssueToken(ctx, u)
	require.NoError(t, err)

	claims, err := env.tokens.Parse(tok.AccessToken)
	require.NoError(t, err)

	require.NoError(t, env.svc.RevokeToken(ctx, tok.AccessToken))
	revoked, err := env.store.RevokedTokens.IsRevoked(ctx, claims.ID)
	require.NoError(t, err)
	assert.True(t, revoked)

	require.NoError(t, env.svc.RevokeToken(ctx, tok.AccessToken), "revoking twice is a no-op")
	assert.ErrorIs(t, env.svc.RevokeToken(ctx, "garbage"), auth.ErrInvalidToken)

	plain := &models.Profile{Name: "plain"}
	require.NoError(t, env.store.Profiles.Create(ctx, plain))
	_, err = env.svc.IssueToken(ctx, plain.ID)
	assert.ErrorIs(t, err, sentinel.ErrInvalidInput)
}
