package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20261001000001, down_20261001000001)
}

// up_20261001000001 creates profiles, users and their accounts.
func up_20261001000001(ctx context.Context, db *bun.DB) error {
	if err := createTable(ctx, db, "profiles", (*models.Profile)(nil)); err != nil {
		return err
	}
	if err := createTable(ctx, db, "users", (*models.User)(nil),
		`("profile_id") REFERENCES "profiles" ("id") ON DELETE CASCADE`,
	); err != nil {
		return err
	}
	if err := createTable(ctx, db, "usernames", (*models.Username)(nil),
		`("user_id") REFERENCES "users" ("profile_id") ON DELETE CASCADE`,
	); err != nil {
		return err
	}
	if err := createTable(ctx, db, "identity_providers", (*models.IdentityProvider)(nil)); err != nil {
		return err
	}
	if err := createTable(ctx, db, "accounts", (*models.Account)(nil),
		`("profile_id") REFERENCES "profiles" ("id") ON DELETE CASCADE`,
		`("provider_id") REFERENCES "identity_providers" ("id") ON DELETE RESTRICT`,
	); err != nil {
		return err
	}

	return createIndexes(ctx, db,
		`CREATE INDEX IF NOT EXISTS idx_accounts_signature ON accounts (signature)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_profile_id ON accounts (profile_id)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts (email)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_identity_providers_name ON identity_providers (name)`,
	)
}

func down_20261001000001(ctx context.Context, db *bun.DB) error {
	return dropTables(ctx, db, "accounts", "identity_providers", "usernames", "users", "profiles")
}
