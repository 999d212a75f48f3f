package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/bunx"
)

// Migrations is the registry every migration file adds itself to.
var Migrations = migrate.NewMigrations()

// createTable creates the table for model with the given foreign key clauses.
func createTable(ctx context.Context, db *bun.DB, name string, model any, foreignKeys ...string) error {
	fmt.Printf(" [up] creating %s table...", name)
	q := db.NewCreateTable().Model(model).IfNotExists()
	for _, fk := range foreignKeys {
		q = q.ForeignKey(fk)
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create %s table: %w", name, err)
	}
	fmt.Println(" OK")
	return nil
}

// createIndexes runs CREATE INDEX statements that are valid on both dialects.
func createIndexes(ctx context.Context, db *bun.DB, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index (%s): %w", stmt, err)
		}
	}
	return nil
}

// dropTables drops tables in order. CASCADE is PostgreSQL only.
func dropTables(ctx context.Context, db *bun.DB, tables ...string) error {
	suffix := ""
	if bunx.IsPostgreSQL(db) {
		suffix = " CASCADE"
	}
	for _, table := range tables {
		fmt.Printf(" [down] dropping %s table...", table)
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s%s", table, suffix)); err != nil {
			return fmt.Errorf("failed to drop %s table: %w", table, err)
		}
		fmt.Println(" OK")
	}
	return nil
}
