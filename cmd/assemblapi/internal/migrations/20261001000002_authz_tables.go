package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20261001000002, down_20261001000002)
}

// up_20261001000002 creates discussions, roles, permissions and the grant tables.
func up_20261001000002(ctx context.Context, db *bun.DB) error {
	if err := createTable(ctx, db, "discussions", (*models.Discussion)(nil)); err != nil {
		return err
	}
	if err := createTable(ctx, db, "roles", (*models.Role)(nil)); err != nil {
		return err
	}
	if err := createTable(ctx, db, "permissions", (*models.Permission)(nil)); err != nil {
		return err
	}
	if err := createTable(ctx, db, "user_roles", (*models.UserRole)(nil),
		`("user_id") REFERENCES "users" ("profile_id") ON DELETE CASCADE`,
		`("role_id") REFERENCES "roles" ("id") ON DELETE CASCADE`,
	); err != nil {
		return err
	}
	if err := createTable(ctx, db, "local_user_roles", (*models.LocalUserRole)(nil),
		`("user_id") REFERENCES "users" ("profile_id") ON DELETE CASCADE`,
		`("discussion_id") REFERENCES "discussions" ("id") ON DELETE CASCADE`,
		`("role_id") REFERENCES "roles" ("id") ON DELETE CASCADE`,
	); err != nil {
		return err
	}
	if err := createTable(ctx, db, "discussion_permissions", (*models.DiscussionPermission)(nil),
		`("discussion_id") REFERENCES "discussions" ("id") ON DELETE CASCADE`,
		`("role_id") REFERENCES "roles" ("id") ON DELETE CASCADE`,
		`("permission_id") REFERENCES "permissions" ("id") ON DELETE CASCADE`,
	); err != nil {
		return err
	}

	return createIndexes(ctx, db,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_roles_user_role ON user_roles (user_id, role_id)`,
		// At most one confirmed grant per (user, role, discussion).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_local_user_roles_confirmed ON local_user_roles (user_id, role_id, discussion_id) WHERE requested = false`,
		`CREATE INDEX IF NOT EXISTS idx_local_user_roles_discussion ON local_user_roles (discussion_id, user_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_discussion_permissions_cell ON discussion_permissions (discussion_id, role_id, permission_id)`,
	)
}

func down_20261001000002(ctx context.Context, db *bun.DB) error {
	return dropTables(ctx, db, "discussion_permissions", "local_user_roles", "user_roles", "permissions", "roles", "discussions")
}
