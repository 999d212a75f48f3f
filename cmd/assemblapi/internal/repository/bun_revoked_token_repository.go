package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/bunx"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

// BunRevokedTokenRepository implements RevokedTokenRepository using Bun ORM
type BunRevokedTokenRepository struct {
	db bun.IDB
}

// NewBunRevokedTokenRepository creates a new Bun-based revoked token repository
func NewBunRevokedTokenRepository(db bun.IDB) RevokedTokenRepository {
	return &BunRevokedTokenRepository{db: db}
}

// Revoke adds a token ID to the denylist; revoking twice is a no-op
func (r *BunRevokedTokenRepository) Revoke(ctx context.Context, token *models.RevokedToken) error {
	if token.RevokedAt.IsZero() {
		token.RevokedAt = time.Now().UTC()
	}
	if _, err := r.db.NewInsert().Model(token).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return bunx.TranslateError("revoke token", err)
	}
	return nil
}

// IsRevoked checks if a token ID is on the denylist
// Uses SELECT EXISTS pattern for efficient boolean check
func (r *BunRevokedTokenRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.RevokedToken)(nil)).
		Where("jti = ?", jti).
		Exists(ctx)
	if err != nil {
		return false, bunx.TranslateError("check revoked token", err)
	}
	return exists, nil
}

// DeleteExpired removes entries whose token expired more than grace ago
// and returns how many were removed
func (r *BunRevokedTokenRepository) DeleteExpired(ctx context.Context, grace time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-grace)
	result, err := r.db.NewDelete().
		Model((*models.RevokedToken)(nil)).
		Where("exp < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, bunx.TranslateError("delete expired revoked tokens", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}
