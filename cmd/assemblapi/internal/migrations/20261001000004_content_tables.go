package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20261001000004, down_20261001000004)
}

// up_20261001000004 creates the profile-owned content tables the reconciler
// re-parents.
func up_20261001000004(ctx context.Context, db *bun.DB) error {
	if err := createTable(ctx, db, "posts", (*models.Post)(nil),
		`("discussion_id") REFERENCES "discussions" ("id") ON DELETE CASCADE`,
		`("creator_id") REFERENCES "profiles" ("id")`,
	); err != nil {
		return err
	}
	if err := createTable(ctx, db, "extracts", (*models.Extract)(nil),
		`("discussion_id") REFERENCES "discussions" ("id") ON DELETE CASCADE`,
		`("post_id") REFERENCES "posts" ("id") ON DELETE SET NULL`,
		`("creator_id") REFERENCES "profiles" ("id")`,
		`("owner_id") REFERENCES "profiles" ("id")`,
	); err != nil {
		return err
	}
	if err := createTable(ctx, db, "actions", (*models.Action)(nil),
		`("actor_id") REFERENCES "profiles" ("id")`,
	); err != nil {
		return err
	}

	return createIndexes(ctx, db,
		`CREATE INDEX IF NOT EXISTS idx_posts_creator ON posts (creator_id)`,
		`CREATE INDEX IF NOT EXISTS idx_extracts_owner ON extracts (owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_actor ON actions (actor_id)`,
	)
}

func down_20261001000004(ctx context.Context, db *bun.DB) error {
	return dropTables(ctx, db, "actions", "extracts", "posts")
}
