package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/testdb"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(testdb.Open(t))
}

func createTestUser(t *testing.T, s *Store, name string) *models.Profile {
	t.Helper()

	profile := &models.Profile{Name: name}
	require.NoError(t, s.Users.Create(context.Background(), profile, &models.User{}))
	return profile
}

func createTestDiscussion(t *testing.T, s *Store, slug string) *models.Discussion {
	t.Helper()

	d := &models.Discussion{Slug: slug, Topic: slug}
	require.NoError(t, s.Discussions.Create(context.Background(), d))
	return d
}

func TestStore_RunInTx(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		var id string
		err := s.RunInTx(ctx, func(ctx context.Context, tx *Store) error {
			assert.True(t, tx.InTx())
			p := &models.Profile{Name: "committed"}
			require.NoError(t, tx.Profiles.Create(ctx, p))
			id = p.ID
			return nil
		})
		require.NoError(t, err)

		got, err := s.Profiles.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "committed", got.Name)
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		var id string
		err := s.RunInTx(ctx, func(ctx context.Context, tx *Store) error {
			p := &models.Profile{Name: "rolled back"}
			require.NoError(t, tx.Profiles.Create(ctx, p))
			id = p.ID
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = s.Profiles.GetByID(ctx, id)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("nested reuses transaction", func(t *testing.T) {
		err := s.RunInTx(ctx, func(ctx context.Context, outer *Store) error {
			return outer.RunInTx(ctx, func(ctx context.Context, inner *Store) error {
				assert.Same(t, outer, inner)
				return nil
			})
		})
		require.NoError(t, err)
	})

	t.Run("lock scope requires transaction", func(t *testing.T) {
		err := s.LockScope(ctx, "anything")
		require.ErrorIs(t, err, sentinel.ErrInvariant)

		err = s.RunInTx(ctx, func(ctx context.Context, tx *Store) error {
			return tx.LockScope(ctx, "subscriptions:u:d")
		})
		require.NoError(t, err)
	})
}
