package iam

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/config"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/repository"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/telemetry"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/testdb"
)

type recordingMaterializer struct {
	mu    sync.Mutex
	calls []string
}

func (m *recordingMaterializer) MaterializeDefaults(_ context.Context, userID, discussionID string, reset bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := userID + "/" + discussionID
	if reset {
		call += "/reset"
	}
	m.calls = append(m.calls, call)
	return nil
}

func (m *recordingMaterializer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type testEnv struct {
	store   *repository.Store
	svc     Service
	metrics *telemetry.Metrics
	mat     *recordingMaterializer
	tokens  *auth.TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testdb.Open(t)
	store := repository.NewStore(db)
	enforcer, err := auth.InitEnforcer(db)
	require.NoError(t, err)

	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	svc, err := NewIAMService(IAMServiceDependencies{
		Store:    store,
		Enforcer: enforcer,
		Tokens:   tokens,
		Metrics:  metrics,
	}, IAMServiceConfig{Permissions: config.PermissionsConfig{CacheSize: 128, CacheTTL: time.Minute}})
	require.NoError(t, err)

	mat := &recordingMaterializer{}
	svc.SetMaterializer(mat)
	return &testEnv{store: store, svc: svc, metrics: metrics, mat: mat, tokens: tokens}
}

func (e *testEnv) user(t *testing.T, name string) string {
	t.Helper()
	profile := &models.Profile{Name: name}
	require.NoError(t, e.store.Users.Create(context.Background(), profile, &models.User{}))
	return profile.ID
}

func (e *testEnv) discussion(t *testing.T, slug string) string {
	t.Helper()
	d, err := e.svc.CreateDiscussion(context.Background(), slug, slug)
	require.NoError(t, err)
	return d.ID
}

type ownedBy string

func (o ownedBy) OwnerID() string { return string(o) }

func TestEffectivePermissions_Baseline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "baseline")
	u := env.user(t, "newcomer")

	t.Run("anonymous holds everyone only", func(t *testing.T) {
		roles, err := env.svc.Roles(ctx, "", d)
		require.NoError(t, err)
		assert.Equal(t, []string{auth.RoleEveryone}, roles)

		perms, err := env.svc.EffectivePermissions(ctx, "", d)
		require.NoError(t, err)
		assert.Equal(t, []string{auth.PermRead}, perms)
	})

	t.Run("new user resolves to everyone and authenticated", func(t *testing.T) {
		roles, err := env.svc.Roles(ctx, u, d)
		require.NoError(t, err)
		assert.Equal(t, []string{auth.RoleAuthenticated, auth.RoleEveryone}, roles)

		perms, err := env.svc.EffectivePermissions(ctx, u, d)
		require.NoError(t, err)
		assert.Equal(t, []string{auth.PermRead, auth.PermSelfRegister}, perms)
	})

	t.Run("unknown discussion is empty", func(t *testing.T) {
		perms, err := env.svc.EffectivePermissions(ctx, u, "no-such-discussion")
		require.NoError(t, err)
		assert.NotNil(t, perms)
		assert.Empty(t, perms)
	})
}

func TestEffectivePermissions_GrantIsMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "monotonic")
	u := env.user(t, "catcher")

	before, err := env.svc.EffectivePermissions(ctx, u, d)
	require.NoError(t, err)

	_, err = env.svc.GrantLocalRole(ctx, LocalRoleRequest{UserID: u, DiscussionID: d, Role: auth.RoleCatcher})
	require.NoError(t, err)

	after, err := env.svc.EffectivePermissions(ctx, u, d)
	require.NoError(t, err)
	assert.Subset(t, after, before)
	assert.Contains(t, after, auth.PermAddExtract)
	assert.NotContains(t, after, auth.PermAdminDiscussion)
}

func TestEffectivePermissions_GlobalSysadmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "sysadmin")
	admin := env.user(t, "root")

	require.NoError(t, env.svc.GrantGlobalRole(ctx, admin, auth.RoleSysadmin))

	ok, err := env.svc.IsSysadmin(ctx, admin)
	require.NoError(t, err)
	assert.True(t, ok)

	perms, err := env.svc.EffectivePermissions(ctx, admin, d)
	require.NoError(t, err)
	assert.ElementsMatch(t, auth.AllPermissions, perms)

	perms, err = env.svc.EffectivePermissions(ctx, admin, "missing")
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestEffectivePermissions_PendingRequestConfersNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "pending")
	u := env.user(t, "hopeful")

	lur, err := env.svc.GrantLocalRole(ctx, LocalRoleRequest{UserID: u, DiscussionID: d, Role: auth.RoleModerator, Requested: true})
	require.NoError(t, err)
	assert.True(t, lur.Requested)

	perms, err := env.svc.EffectivePermissions(ctx, u, d)
	require.NoError(t, err)
	assert.NotContains(t, perms, auth.PermEditPost)
	assert.Empty(t, env.mat.Calls())

	confirmed, err := env.svc.ConfirmLocalRole(ctx, lur.ID)
	require.NoError(t, err)
	assert.False(t, confirmed.Requested)

	perms, err = env.svc.EffectivePermissions(ctx, u, d)
	require.NoError(t, err)
	assert.Contains(t, perms, auth.PermEditPost)
	assert.Equal(t, []string{u + "/" + d + "/reset"}, env.mat.Calls())
}

func TestEffectivePermissions_Cache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "cache")
	u := env.user(t, "cached")

	_, err := env.svc.EffectivePermissions(ctx, u, d)
	require.NoError(t, err)
	_, err = env.svc.EffectivePermissions(ctx, u, d)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.PermissionCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.PermissionCache.WithLabelValues("hit")))

	t.Run("returned slices are copies", func(t *testing.T) {
		perms, err := env.svc.EffectivePermissions(ctx, u, d)
		require.NoError(t, err)
		perms[0] = "tampered"

		again, err := env.svc.EffectivePermissions(ctx, u, d)
		require.NoError(t, err)
		assert.NotContains(t, again, "tampered")
	})

	t.Run("matrix change invalidates discussion", func(t *testing.T) {
		require.NoError(t, env.svc.GrantDiscussionPermission(ctx, d, auth.RoleAuthenticated, auth.PermAddPost))

		perms, err := env.svc.EffectivePermissions(ctx, u, d)
		require.NoError(t, err)
		assert.Contains(t, perms, auth.PermAddPost)
	})
}

func TestHasPermission_OwnershipBypass(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "owned")
	owner := env.user(t, "owner")
	other := env.user(t, "other")

	ok, err := env.svc.HasPermission(ctx, owner, d, auth.PermEditPost, ownedBy(owner))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.svc.HasPermission(ctx, other, d, auth.PermEditPost, ownedBy(owner))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.svc.HasPermission(ctx, other, d, auth.PermRead, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("anonymous never owns", func(t *testing.T) {
		ok, err := env.svc.HasPermission(ctx, "", d, auth.PermEditPost, ownedBy(""))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestAddLocalRole(t *testing.T) {
	ctx := context.Background()

	t.Run("self register forces confirmed participant", func(t *testing.T) {
		env := newTestEnv(t)
		d := env.discussion(t, "open")
		u := env.user(t, "joiner")

		lur, err := env.svc.AddLocalRole(ctx, u, LocalRoleRequest{DiscussionID: d, Role: auth.RoleAdministrator})
		require.NoError(t, err)
		assert.False(t, lur.Requested)
		assert.Equal(t, u, lur.UserID)

		roles, err := env.svc.Roles(ctx, u, d)
		require.NoError(t, err)
		assert.Contains(t, roles, auth.RoleParticipant)
		assert.NotContains(t, roles, auth.RoleAdministrator)
		assert.Equal(t, []string{u + "/" + d + "/reset"}, env.mat.Calls())

		again, err := env.svc.AddLocalRole(ctx, u, LocalRoleRequest{DiscussionID: d, Role: auth.RoleParticipant})
		require.NoError(t, err)
		assert.Equal(t, lur.ID, again.ID)
		assert.Len(t, env.mat.Calls(), 1)
	})

	t.Run("self register request creates pending grant", func(t *testing.T) {
		env := newTestEnv(t)
		d := env.discussion(t, "moderated")
		u := env.user(t, "asker")
		require.NoError(t, env.svc.RevokeDiscussionPermission(ctx, d, auth.RoleAuthenticated, auth.PermSelfRegister))
		require.NoError(t, env.svc.GrantDiscussionPermission(ctx, d, auth.RoleAuthenticated, auth.PermSelfRegisterRequest))

		lur, err := env.svc.AddLocalRole(ctx, u, LocalRoleRequest{DiscussionID: d, Role: auth.RoleParticipant})
		require.NoError(t, err)
		assert.True(t, lur.Requested)
		assert.Empty(t, env.mat.Calls())
	})

	t.Run("without registration permissions", func(t *testing.T) {
		env := newTestEnv(t)
		d := env.discussion(t, "closed")
		u := env.user(t, "outsider")
		require.NoError(t, env.svc.RevokeDiscussionPermission(ctx, d, auth.RoleAuthenticated, auth.PermSelfRegister))

		_, err := env.svc.AddLocalRole(ctx, u, LocalRoleRequest{DiscussionID: d, Role: auth.RoleParticipant})
		assert.ErrorIs(t, err, sentinel.ErrForbidden)
	})

	t.Run("non admin cannot grant to others", func(t *testing.T) {
		env := newTestEnv(t)
		d := env.discussion(t, "others")
		u := env.user(t, "meddler")
		victim := env.user(t, "victim")

		_, err := env.svc.AddLocalRole(ctx, u, LocalRoleRequest{UserID: victim, DiscussionID: d, Role: auth.RoleParticipant})
		assert.ErrorIs(t, err, sentinel.ErrForbidden)
	})

	t.Run("anonymous is forbidden", func(t *testing.T) {
		env := newTestEnv(t)
		d := env.discussion(t, "anon")

		_, err := env.svc.AddLocalRole(ctx, "", LocalRoleRequest{DiscussionID: d, Role: auth.RoleParticipant})
		assert.ErrorIs(t, err, sentinel.ErrForbidden)
	})

	t.Run("admin grants any role", func(t *testing.T) {
		env := newTestEnv(t)
		d := env.discussion(t, "admin")
		admin := env.user(t, "admin")
		u := env.user(t, "promoted")
		_, err := env.svc.GrantLocalRole(ctx, LocalRoleRequest{UserID: admin, DiscussionID: d, Role: auth.RoleAdministrator})
		require.NoError(t, err)

		lur, err := env.svc.AddLocalRole(ctx, admin, LocalRoleRequest{UserID: u, DiscussionID: d, Role: auth.RoleModerator})
		require.NoError(t, err)
		assert.False(t, lur.Requested)

		perms, err := env.svc.EffectivePermissions(ctx, u, d)
		require.NoError(t, err)
		assert.Contains(t, perms, auth.PermEditSynthesis)
	})

	t.Run("unknown discussion", func(t *testing.T) {
		env := newTestEnv(t)
		u := env.user(t, "lost")

		_, err := env.svc.AddLocalRole(ctx, u, LocalRoleRequest{DiscussionID: "missing", Role: auth.RoleParticipant})
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestGrantLocalRole_ConcurrentConfirmedGrants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "race")
	u := env.user(t, "racer")

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lur, err := env.svc.GrantLocalRole(ctx, LocalRoleRequest{UserID: u, DiscussionID: d, Role: auth.RoleParticipant})
			if assert.NoError(t, err) {
				ids[i] = lur.ID
			}
		}(i)
	}
	wg.Wait()

	grants, err := env.store.Roles.ListLocalRoles(ctx, u)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	for _, id := range ids {
		assert.Equal(t, grants[0].ID, id)
	}
}

func TestGrantLocalRole_ConfirmsPendingRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "redundant")
	u := env.user(t, "twice")

	pending, err := env.svc.GrantLocalRole(ctx, LocalRoleRequest{UserID: u, DiscussionID: d, Role: auth.RoleCatcher, Requested: true})
	require.NoError(t, err)
	// A confirmed grant converts the pending request in place.
	granted, err := env.svc.GrantLocalRole(ctx, LocalRoleRequest{UserID: u, DiscussionID: d, Role: auth.RoleCatcher})
	require.NoError(t, err)
	assert.Equal(t, pending.ID, granted.ID)
	assert.False(t, granted.Requested)

	confirmed, err := env.svc.ConfirmLocalRole(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, granted.ID, confirmed.ID)
}

func TestRevokeLocalRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "revoke")
	u := env.user(t, "demoted")

	lur, err := env.svc.GrantLocalRole(ctx, LocalRoleRequest{UserID: u, DiscussionID: d, Role: auth.RoleModerator})
	require.NoError(t, err)
	perms, err := env.svc.EffectivePermissions(ctx, u, d)
	require.NoError(t, err)
	require.Contains(t, perms, auth.PermEditPost)

	require.NoError(t, env.svc.RevokeLocalRole(ctx, lur.ID))

	perms, err = env.svc.EffectivePermissions(ctx, u, d)
	require.NoError(t, err)
	assert.NotContains(t, perms, auth.PermEditPost)

	assert.ErrorIs(t, env.svc.RevokeLocalRole(ctx, lur.ID), sentinel.ErrNotFound)
}

func TestGlobalRoles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "global")

	assert.ErrorIs(t, env.svc.GrantGlobalRole(ctx, u, auth.RoleEveryone), sentinel.ErrInvalidInput)
	assert.ErrorIs(t, env.svc.GrantGlobalRole(ctx, u, "r:nope"), sentinel.ErrNotFound)
	assert.ErrorIs(t, env.svc.GrantGlobalRole(ctx, "missing", auth.RoleSysadmin), sentinel.ErrNotFound)

	require.NoError(t, env.svc.GrantGlobalRole(ctx, u, auth.RoleSysadmin))
	require.NoError(t, env.svc.GrantGlobalRole(ctx, u, auth.RoleSysadmin))
	require.NoError(t, env.svc.RevokeGlobalRole(ctx, u, auth.RoleSysadmin))
	assert.ErrorIs(t, env.svc.RevokeGlobalRole(ctx, u, auth.RoleSysadmin), sentinel.ErrNotFound)
}

func TestDiscussionPermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "matrix")

	matrix, err := env.svc.DiscussionPermissions(ctx, d)
	require.NoError(t, err)
	assert.Len(t, matrix, len(auth.DefaultPolicies(d)))
	assert.Contains(t, matrix, RolePermission{Role: auth.RoleEveryone, Permission: auth.PermRead})

	assert.ErrorIs(t, env.svc.GrantDiscussionPermission(ctx, d, auth.RoleEveryone, "fly"), sentinel.ErrInvalidInput)
	assert.ErrorIs(t, env.svc.GrantDiscussionPermission(ctx, "missing", auth.RoleEveryone, auth.PermRead), sentinel.ErrNotFound)
	assert.ErrorIs(t, env.svc.RevokeDiscussionPermission(ctx, d, auth.RoleEveryone, auth.PermSysadmin), sentinel.ErrNotFound)
}

// failingSeedEnforcer rejects the batch insert CreateDiscussion uses.
type failingSeedEnforcer struct {
	casbin.IEnforcer
}

func (failingSeedEnforcer) AddPolicies(rules [][]string) (bool, error) {
	return false, errors.New("adapter unavailable")
}

func TestCreateDiscussion_SeedFailureRemovesDiscussion(t *testing.T) {
	db := testdb.Open(t)
	store := repository.NewStore(db)
	enforcer, err := auth.InitEnforcer(db)
	require.NoError(t, err)

	svc, err := NewIAMService(IAMServiceDependencies{
		Store:    store,
		Enforcer: failingSeedEnforcer{IEnforcer: enforcer},
	}, IAMServiceConfig{Permissions: config.PermissionsConfig{CacheSize: 16, CacheTTL: time.Minute}})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.CreateDiscussion(ctx, "unseeded", "topic")
	require.Error(t, err)

	_, err = store.Discussions.GetBySlug(ctx, "unseeded")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestEffectivePermissions_SeesOwnGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "fresh")
	admin := env.user(t, "admin")
	require.NoError(t, env.svc.GrantGlobalRole(ctx, admin, auth.RoleSysadmin))
	u := env.user(t, "reader")

	before, err := env.svc.EffectivePermissions(ctx, u, d)
	require.NoError(t, err)
	require.NotContains(t, before, auth.PermAddPost)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.svc.EffectivePermissions(ctx, u, d)
		}()
	}
	_, err = env.svc.AddLocalRole(ctx, admin, LocalRoleRequest{UserID: u, DiscussionID: d, Role: auth.RoleParticipant})
	require.NoError(t, err)
	wg.Wait()

	after, err := env.svc.EffectivePermissions(ctx, u, d)
	require.NoError(t, err)
	assert.Contains(t, after, auth.PermAddPost)
}

func TestRefreshPolicies_SeesOtherWriters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "refresh")
	u := env.user(t, "reader")

	perms, err := env.svc.EffectivePermissions(ctx, u, d)
	require.NoError(t, err)
	require.NotContains(t, perms, auth.PermAddIdea)

	// Another process grants through the table directly.
	role, err := env.store.Roles.GetByName(ctx, auth.RoleAuthenticated)
	require.NoError(t, err)
	var permID string
	require.NoError(t, env.store.DB().NewSelect().Model((*models.Permission)(nil)).
		Column("id").Where("name = ?", auth.PermAddIdea).Scan(ctx, &permID))
	_, err = env.store.DB().NewInsert().Model(&models.DiscussionPermission{
		ID: "external", DiscussionID: d, RoleID: role.ID, PermissionID: permID,
	}).Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, env.svc.RefreshPolicies(ctx))

	perms, err = env.svc.EffectivePermissions(ctx, u, d)
	require.NoError(t, err)
	assert.Contains(t, perms, auth.PermAddIdea)
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.user(t, "bearer")

	request := func(header string) AuthRequest {
		h := http.Header{}
		if header != "" {
			h.Set("Authorization", header)
		}
		return AuthRequest{Headers: h}
	}

	t.Run("no header is anonymous", func(t *testing.T) {
		p, err := env.svc.Authenticate(ctx, request(""))
		require.NoError(t, err)
		assert.False(t, p.Authenticated())
	})

	t.Run("valid token", func(t *testing.T) {
		token, claims, err := env.tokens.Issue(u)
		require.NoError(t, err)

		p, err := env.svc.Authenticate(ctx, request("Bearer "+token))
		require.NoError(t, err)
		assert.Equal(t, u, p.ProfileID)
		assert.Equal(t, claims.ID, p.TokenID)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := env.svc.Authenticate(ctx, request("Bearer not-a-jwt"))
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("revoked token", func(t *testing.T) {
		token, claims, err := env.tokens.Issue(u)
		require.NoError(t, err)
		require.NoError(t, env.store.RevokedTokens.Revoke(ctx, &models.RevokedToken{
			JTI: claims.ID, ProfileID: u, Exp: claims.ExpiresAt.Time,
		}))

		_, err = env.svc.Authenticate(ctx, request("Bearer "+token))
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("subject no longer a user", func(t *testing.T) {
		token, _, err := env.tokens.Issue("gone")
		require.NoError(t, err)

		_, err = env.svc.Authenticate(ctx, request("Bearer "+token))
		assert.True(t, errors.Is(err, auth.ErrInvalidToken))
	})

	t.Run("other scheme is ignored", func(t *testing.T) {
		p, err := env.svc.Authenticate(ctx, request("Basic dXNlcjpwYXNz"))
		require.NoError(t, err)
		assert.False(t, p.Authenticated())
	})
}
