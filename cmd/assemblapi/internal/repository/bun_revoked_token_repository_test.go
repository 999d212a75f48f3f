package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

func TestBunRevokedTokenRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "revoker")

	live := &models.RevokedToken{JTI: "live", ProfileID: user.ID, Exp: time.Now().UTC().Add(time.Hour)}
	expired := &models.RevokedToken{JTI: "expired", ProfileID: user.ID, Exp: time.Now().UTC().Add(-2 * time.Hour)}
	require.NoError(t, s.RevokedTokens.Revoke(ctx, live))
	require.NoError(t, s.RevokedTokens.Revoke(ctx, live))
	require.NoError(t, s.RevokedTokens.Revoke(ctx, expired))

	revoked, err := s.RevokedTokens.IsRevoked(ctx, "live")
	require.NoError(t, err)
	assert.True(t, revoked)

	n, err := s.RevokedTokens.DeleteExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	revoked, err = s.RevokedTokens.IsRevoked(ctx, "expired")
	require.NoError(t, err)
	assert.False(t, revoked)
}
