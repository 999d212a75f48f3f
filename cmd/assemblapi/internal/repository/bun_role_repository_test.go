package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
)

func TestBunRoleRepository_Seeded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	roles, err := s.Roles.List(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, auth.SystemRoles, names)

	perms, err := s.Roles.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, len(auth.AllPermissions))

	_, err = s.Roles.GetByName(ctx, "r:nope")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestBunRoleRepository_GlobalRoles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "admin")
	sysadmin, err := s.Roles.GetByName(ctx, auth.RoleSysadmin)
	require.NoError(t, err)

	require.NoError(t, s.Roles.GrantGlobal(ctx, user.ID, sysadmin.ID))
	require.NoError(t, s.Roles.GrantGlobal(ctx, user.ID, sysadmin.ID))

	names, err := s.Roles.GlobalRoleNames(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleSysadmin}, names)

	rows, err := s.Roles.ListGlobalRoles(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	other := createTestUser(t, s, "other")
	require.NoError(t, s.Roles.ReparentGlobalRole(ctx, rows[0].ID, other.ID))
	names, err = s.Roles.GlobalRoleNames(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleSysadmin}, names)

	require.NoError(t, s.Roles.DeleteGlobalRole(ctx, rows[0].ID))
	assert.ErrorIs(t, s.Roles.DeleteGlobalRole(ctx, rows[0].ID), sentinel.ErrNotFound)
}

func TestBunRoleRepository_LocalRoles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "participant")
	d := createTestDiscussion(t, s, "local-roles")
	participant, err := s.Roles.GetByName(ctx, auth.RoleParticipant)
	require.NoError(t, err)

	requested := &models.LocalUserRole{UserID: user.ID, DiscussionID: d.ID, RoleID: participant.ID, Requested: true}
	require.NoError(t, s.Roles.CreateLocalRole(ctx, requested))

	t.Run("requested roles confer nothing", func(t *testing.T) {
		names, err := s.Roles.LocalRoleNames(ctx, user.ID, d.ID)
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("confirm", func(t *testing.T) {
		requested.Requested = false
		require.NoError(t, s.Roles.UpdateLocalRole(ctx, requested))

		names, err := s.Roles.LocalRoleNames(ctx, user.ID, d.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{auth.RoleParticipant}, names)
	})

	t.Run("second confirmed grant violates uniqueness", func(t *testing.T) {
		dup := &models.LocalUserRole{UserID: user.ID, DiscussionID: d.ID, RoleID: participant.ID}
		err := s.Roles.CreateLocalRole(ctx, dup)
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("pending requests may coexist", func(t *testing.T) {
		pending := &models.LocalUserRole{UserID: user.ID, DiscussionID: d.ID, RoleID: participant.ID, Requested: true}
		require.NoError(t, s.Roles.CreateLocalRole(ctx, pending))

		rows, err := s.Roles.FindLocalRoles(ctx, user.ID, d.ID, participant.ID)
		require.NoError(t, err)
		assert.Len(t, rows, 2)

		require.NoError(t, s.Roles.DeleteLocalRole(ctx, pending.ID))
	})
}
