package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20261001000006, down_20261001000006)
}

// up_20261001000006 creates the access token denylist
func up_20261001000006(ctx context.Context, db *bun.DB) error {
	if err := createTable(ctx, db, "revoked_tokens", (*models.RevokedToken)(nil),
		`("profile_id") REFERENCES "profiles" ("id") ON DELETE CASCADE`,
	); err != nil {
		return err
	}

	// Cleanup scans by expiry
	return createIndexes(ctx, db,
		`CREATE INDEX IF NOT EXISTS idx_revoked_tokens_exp ON revoked_tokens (exp)`,
	)
}

func down_20261001000006(ctx context.Context, db *bun.DB) error {
	return dropTables(ctx, db, "revoked_tokens")
}
