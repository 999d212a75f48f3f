package subscriptions

import (
	"context"
	"errors"
	"sync"
	"testing"

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

// stubRoles maps user id to the roles it holds in every discussion.
type stubRoles struct {
	mu    sync.RWMutex
	roles map[string][]string
}

func (r *stubRoles) Roles(_ context.Context, userID, _ string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append(auth.ImplicitRoles(true), r.roles[userID]...), nil
}

func (r *stubRoles) set(userID string, roles ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[userID] = roles
}

type testEnv struct {
	store   *repository.Store
	roles   *stubRoles
	svc     *Service
	metrics *telemetry.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := repository.NewStore(testdb.Open(t))
	roles := &stubRoles{roles: map[string][]string{}}
	defaults := config.SubscriptionsConfig{Defaults: map[string]string{
		"participant": ClassFollowSyntheses + "\n" + ClassFollowOwnMessagesDirectReplies + "\nNOT_A_CLASS",
		"moderator":   ClassFollowAllMessages,
	}}
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	svc := NewService(store, roles, defaults).WithMetrics(metrics)
	return &testEnv{store: store, roles: roles, svc: svc, metrics: metrics}
}

func (e *testEnv) user(t *testing.T, name string, roles ...string) string {
	t.Helper()
	profile := &models.Profile{Name: name}
	require.NoError(t, e.store.Users.Create(context.Background(), profile, &models.User{}))
	e.roles.set(profile.ID, roles...)
	return profile.ID
}

func (e *testEnv) discussion(t *testing.T, slug string) string {
	t.Helper()
	d := &models.Discussion{Slug: slug}
	require.NoError(t, e.store.Discussions.Create(context.Background(), d))
	return d.ID
}

func statuses(subs []*models.NotificationSubscription) map[string]string {
	out := make(map[string]string, len(subs))
	for _, sub := range subs {
		out[sub.Class] = sub.Status
	}
	return out
}

func TestGetOrMaterialize_ParticipantDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "defaults")
	u := env.user(t, "participant", auth.RoleParticipant)

	subs, err := env.svc.GetOrMaterialize(ctx, u, d, false)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		ClassFollowAllMessages:              models.SubscriptionInactiveDefault,
		ClassFollowOwnMessagesDirectReplies: models.SubscriptionActive,
		ClassFollowOwnMessagesNestedReplies: models.SubscriptionInactiveDefault,
		ClassFollowSyntheses:                models.SubscriptionActive,
	}, statuses(subs))
	for _, sub := range subs {
		assert.Equal(t, models.OriginDiscussionDefault, sub.CreationOrigin)
		assert.Equal(t, u, sub.UserID)
	}

	stored, err := env.store.Subscriptions.ListForUser(ctx, u, d, false)
	require.NoError(t, err)
	assert.Len(t, stored, len(ApplicableClasses()))

	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.MaterializedSubscriptions.WithLabelValues(models.SubscriptionActive)))
}

func TestGetOrMaterialize_FastPathTakesNoLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "fast")
	u := env.user(t, "repeat", auth.RoleParticipant)

	first, err := env.svc.GetOrMaterialize(ctx, u, d, false)
	require.NoError(t, err)
	locks := testutil.ToFloat64(env.metrics.MaterializeLocks)
	require.Positive(t, locks)

	second, err := env.svc.GetOrMaterialize(ctx, u, d, false)
	require.NoError(t, err)
	assert.Equal(t, locks, testutil.ToFloat64(env.metrics.MaterializeLocks))
	assert.Equal(t, statuses(first), statuses(second))
}

func TestGetOrMaterialize_NoTemplatesMeansInactive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "lurkers")
	u := env.user(t, "lurker")

	subs, err := env.svc.GetOrMaterialize(ctx, u, d, false)
	require.NoError(t, err)
	require.Len(t, subs, len(ApplicableClasses()))
	for _, sub := range subs {
		assert.Equal(t, models.SubscriptionInactiveDefault, sub.Status)
	}

	// Only the participant template is created on demand.
	_, err = env.store.Templates.Get(ctx, d, mustRoleID(t, env, auth.RoleAuthenticated))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestGetOrMaterialize_OrAcrossRoleTemplates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "roles")
	u := env.user(t, "mod", auth.RoleParticipant, auth.RoleModerator)

	// The moderator template only exists once someone asks for it.
	defaults, err := env.svc.TemplateDefaults(ctx, d, auth.RoleModerator)
	require.NoError(t, err)
	assert.True(t, defaults[ClassFollowAllMessages])
	assert.False(t, defaults[ClassFollowSyntheses])

	subs, err := env.svc.GetOrMaterialize(ctx, u, d, false)
	require.NoError(t, err)
	got := statuses(subs)
	assert.Equal(t, models.SubscriptionActive, got[ClassFollowAllMessages])
	assert.Equal(t, models.SubscriptionActive, got[ClassFollowSyntheses])
	assert.Equal(t, models.SubscriptionInactiveDefault, got[ClassFollowOwnMessagesNestedReplies])
}

func TestGetOrMaterialize_UnknownDiscussion(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "lost", auth.RoleParticipant)

	_, err := env.svc.GetOrMaterialize(context.Background(), u, "missing", false)
	require.Error(t, err)

	var notFound *DiscussionNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "missing", notFound.DiscussionID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMaterialize_ConcurrentCallersCreateOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "concurrent")
	u := env.user(t, "popular", auth.RoleParticipant)

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Bypass in-process coalescing to exercise the scope lock.
			subs, err := env.svc.materialize(ctx, u, d, false)
			if err == nil && len(subs) != len(ApplicableClasses()) {
				err = errors.New("incomplete subscription set")
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	stored, err := env.store.Subscriptions.ListForUser(ctx, u, d, false)
	require.NoError(t, err)
	assert.Len(t, stored, len(ApplicableClasses()))

	tmpl, err := env.store.Templates.Get(ctx, d, mustRoleID(t, env, auth.RoleParticipant))
	require.NoError(t, err)
	tmplSubs, err := env.store.Subscriptions.ListForUser(ctx, tmpl.ProfileID, d, false)
	require.NoError(t, err)
	assert.Len(t, tmplSubs, len(ApplicableClasses()))
}

func TestGetOrMaterialize_CoalescedCallers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "coalesced")
	u := env.user(t, "busy", auth.RoleParticipant)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.GetOrMaterialize(ctx, u, d, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := env.store.Subscriptions.ListForUser(ctx, u, d, false)
	require.NoError(t, err)
	assert.Len(t, stored, len(ApplicableClasses()))
}

func TestGetOrMaterialize_Reset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "reset")
	u := env.user(t, "member", auth.RoleParticipant)

	_, err := env.svc.GetOrMaterialize(ctx, u, d, false)
	require.NoError(t, err)

	// The user explicitly keeps direct replies and drops all messages.
	_, err = env.svc.SetSubscriptionStatus(ctx, u, d, ClassFollowOwnMessagesDirectReplies, models.SubscriptionActive)
	require.NoError(t, err)
	_, err = env.svc.SetSubscriptionStatus(ctx, u, d, ClassFollowAllMessages, "inactive")
	require.NoError(t, err)

	// An administrator turns both syntheses and direct replies off by default.
	require.NoError(t, env.svc.SetTemplateStatus(ctx, d, auth.RoleParticipant, ClassFollowSyntheses, false))
	require.NoError(t, env.svc.SetTemplateStatus(ctx, d, auth.RoleParticipant, ClassFollowOwnMessagesDirectReplies, false))

	t.Run("without reset nothing changes", func(t *testing.T) {
		subs, err := env.svc.GetOrMaterialize(ctx, u, d, false)
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionActive, statuses(subs)[ClassFollowSyntheses])
	})

	t.Run("reset applies defaults to untouched rows only", func(t *testing.T) {
		subs, err := env.svc.GetOrMaterialize(ctx, u, d, true)
		require.NoError(t, err)
		require.Len(t, subs, len(ApplicableClasses()))

		byClass := make(map[string]*models.NotificationSubscription)
		for _, sub := range subs {
			byClass[sub.Class] = sub
		}
		assert.Equal(t, models.SubscriptionInactiveDefault, byClass[ClassFollowSyntheses].Status)
		assert.Equal(t, models.OriginDiscussionDefault, byClass[ClassFollowSyntheses].CreationOrigin)

		assert.Equal(t, models.SubscriptionActive, byClass[ClassFollowOwnMessagesDirectReplies].Status)
		assert.Equal(t, models.OriginUserChosen, byClass[ClassFollowOwnMessagesDirectReplies].CreationOrigin)

		assert.Equal(t, models.SubscriptionInactiveExplicit, byClass[ClassFollowAllMessages].Status)
		assert.Equal(t, models.OriginUserChosen, byClass[ClassFollowAllMessages].CreationOrigin)

		stored, err := env.store.Subscriptions.ListForUser(ctx, u, d, false)
		require.NoError(t, err)
		assert.Len(t, stored, len(ApplicableClasses()))
	})

	t.Run("classes no role template covers are left alone", func(t *testing.T) {
		other := env.user(t, "roleless")
		_, err := env.svc.GetOrMaterialize(ctx, other, d, false)
		require.NoError(t, err)
		sub, err := env.store.Subscriptions.Get(ctx, other, d, ClassFollowSyntheses)
		require.NoError(t, err)
		sub.Status = models.SubscriptionActive
		require.NoError(t, env.store.Subscriptions.Update(ctx, sub))

		subs, err := env.svc.GetOrMaterialize(ctx, other, d, true)
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionActive, statuses(subs)[ClassFollowSyntheses])
	})
}

func TestSetSubscriptionStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := env.discussion(t, "choices")
	u := env.user(t, "chooser", auth.RoleParticipant)

	sub, err := env.svc.SetSubscriptionStatus(ctx, u, d, ClassFollowSyntheses, "inactive")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionInactiveExplicit, sub.Status)
	assert.Equal(t, models.OriginUserChosen, sub.CreationOrigin)

	stored, err := env.store.Subscriptions.ListForUser(ctx, u, d, false)
	require.NoError(t, err)
	assert.Len(t, stored, len(ApplicableClasses()))

	_, err = env.svc.SetSubscriptionStatus(ctx, u, d, "FOLLOW_NOTHING", models.SubscriptionActive)
	assert.ErrorIs(t, err, sentinel.ErrInvalidInput)
	_, err = env.svc.SetSubscriptionStatus(ctx, u, d, ClassFollowSyntheses, "sometimes")
	assert.ErrorIs(t, err, sentinel.ErrInvalidInput)
	_, err = env.svc.SetSubscriptionStatus(ctx, u, "missing", ClassFollowSyntheses, models.SubscriptionActive)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"active", models.SubscriptionActive, true},
		{" ACTIVE ", models.SubscriptionActive, true},
		{"inactive", models.SubscriptionInactiveExplicit, true},
		{"inactive_default", models.SubscriptionInactiveExplicit, true},
		{"unsubscribed", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseStatus(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func mustRoleID(t *testing.T, env *testEnv, name string) string {
	t.Helper()
	role, err := env.store.Roles.GetByName(context.Background(), name)
	require.NoError(t, err)
	return role.ID
}
