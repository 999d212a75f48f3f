package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/bunx"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20261001000005, down_20261001000005)
}

// up_20261001000005 seeds the system roles and permissions.
func up_20261001000005(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] seeding system roles...")
	for _, name := range auth.SystemRoles {
		role := &models.Role{ID: bunx.NewID(), Name: name}
		if _, err := db.NewInsert().Model(role).On("CONFLICT (name) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", name, err)
		}
	}
	fmt.Println(" OK")

	fmt.Print(" [up] seeding permissions...")
	for _, name := range auth.AllPermissions {
		perm := &models.Permission{ID: bunx.NewID(), Name: name}
		if _, err := db.NewInsert().Model(perm).On("CONFLICT (name) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", name, err)
		}
	}
	fmt.Println(" OK")
	return nil
}

func down_20261001000005(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] removing seeded roles and permissions...")
	if _, err := db.NewDelete().Model((*models.Permission)(nil)).Where("name IN (?)", bun.In(auth.AllPermissions)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove permissions: %w", err)
	}
	if _, err := db.NewDelete().Model((*models.Role)(nil)).Where("name IN (?)", bun.In(auth.SystemRoles)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove roles: %w", err)
	}
	fmt.Println(" OK")
	return nil
}
