package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20261001000003, down_20261001000003)
}

// up_20261001000003 creates user templates and notification subscriptions.
func up_20261001000003(ctx context.Context, db *bun.DB) error {
	if err := createTable(ctx, db, "user_templates", (*models.UserTemplate)(nil),
		`("profile_id") REFERENCES "users" ("profile_id") ON DELETE CASCADE`,
		`("discussion_id") REFERENCES "discussions" ("id") ON DELETE CASCADE`,
		`("role_id") REFERENCES "roles" ("id") ON DELETE CASCADE`,
	); err != nil {
		return err
	}
	if err := createTable(ctx, db, "notification_subscriptions", (*models.NotificationSubscription)(nil),
		`("user_id") REFERENCES "profiles" ("id") ON DELETE CASCADE`,
		`("discussion_id") REFERENCES "discussions" ("id") ON DELETE CASCADE`,
	); err != nil {
		return err
	}

	return createIndexes(ctx, db,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_templates_discussion_role ON user_templates (discussion_id, role_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_notification_subscriptions_identity ON notification_subscriptions (user_id, discussion_id, class)`,
	)
}

func down_20261001000003(ctx context.Context, db *bun.DB) error {
	return dropTables(ctx, db, "notification_subscriptions", "user_templates")
}
