// Package testdb opens migrated databases for package tests.
package testdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/bunx"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/migrations"
)

// EnvDatabaseURL selects a PostgreSQL database for tests instead of SQLite.
const EnvDatabaseURL = "ASSEMBL_TEST_DATABASE_URL"

// Open returns a fully migrated database. Without ASSEMBL_TEST_DATABASE_URL
// it is a fresh SQLite file in t.TempDir(). The database is closed when the
// test ends.
func Open(t testing.TB) *bun.DB {
	t.Helper()

	dsn := os.Getenv(EnvDatabaseURL)
	if dsn == "" {
		dsn = "file:" + filepath.Join(t.TempDir(), "assembl.db")
	}

	db, err := bunx.NewDB(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)

	if bunx.IsPostgreSQL(db) {
		t.Cleanup(func() { truncate(t, db) })
	}
	return db
}

// truncate clears data tables between tests sharing a PostgreSQL database.
// Seeded roles and permissions are kept.
func truncate(t testing.TB, db *bun.DB) {
	_, err := db.ExecContext(context.Background(), `TRUNCATE
		revoked_tokens, actions, extracts, posts,
		notification_subscriptions, user_templates,
		discussion_permissions, local_user_roles, user_roles, discussions,
		accounts, identity_providers, usernames, users, profiles CASCADE`)
	if err != nil {
		t.Logf("Warning: Failed to cleanup test data: %v", err)
	}
}
