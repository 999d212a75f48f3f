package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/bunx"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

// BunRoleRepository implements RoleRepository using Bun ORM
type BunRoleRepository struct {
	db bun.IDB
}

// NewBunRoleRepository creates a new Bun-based role repository
func NewBunRoleRepository(db bun.IDB) RoleRepository {
	return &BunRoleRepository{db: db}
}

// ========================================
// Roles and permissions
// ========================================

// GetByName retrieves a role by name
func (r *BunRoleRepository) GetByName(ctx context.Context, name string) (*models.Role, error) {
	role := new(models.Role)
	if err := r.db.NewSelect().Model(role).Where("name = ?", name).Scan(ctx); err != nil {
		return nil, bunx.TranslateError(fmt.Sprintf("get role %s", name), err)
	}
	return role, nil
}

// List returns all roles ordered by name
func (r *BunRoleRepository) List(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := r.db.NewSelect().Model(&roles).Order("name").Scan(ctx); err != nil {
		return nil, bunx.TranslateError("list roles", err)
	}
	return roles, nil
}

// ListPermissions returns all permissions ordered by name
func (r *BunRoleRepository) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	var perms []models.Permission
	if err := r.db.NewSelect().Model(&perms).Order("name").Scan(ctx); err != nil {
		return nil, bunx.TranslateError("list permissions", err)
	}
	return perms, nil
}

// ========================================
// Global roles
// ========================================

// GlobalRoleNames returns the names of a user's global roles
func (r *BunRoleRepository) GlobalRoleNames(ctx context.Context, userID string) ([]string, error) {
	var names []string
	err := r.db.NewSelect().
		TableExpr("user_roles AS ur").
		ColumnExpr("r.name").
		Join("JOIN roles AS r ON r.id = ur.role_id").
		Where("ur.user_id = ?", userID).
		OrderExpr("r.name").
		Scan(ctx, &names)
	if err != nil {
		return nil, bunx.TranslateError("list global role names", err)
	}
	return names, nil
}

// ListGlobalRoles returns a user's global role rows
func (r *BunRoleRepository) ListGlobalRoles(ctx context.Context, userID string) ([]*models.UserRole, error) {
	var rows []*models.UserRole
	if err := r.db.NewSelect().Model(&rows).Where("user_id = ?", userID).Order("id").Scan(ctx); err != nil {
		return nil, bunx.TranslateError("list global roles", err)
	}
	return rows, nil
}

// GrantGlobal grants a global role; granting twice is a no-op
func (r *BunRoleRepository) GrantGlobal(ctx context.Context, userID, roleID string) error {
	ur := &models.UserRole{ID: bunx.NewID(), UserID: userID, RoleID: roleID, AssignedAt: time.Now().UTC()}
	if _, err := r.db.NewInsert().Model(ur).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return bunx.TranslateError("grant global role", err)
	}
	return nil
}

// ReparentGlobalRole moves a global grant to another user
func (r *BunRoleRepository) ReparentGlobalRole(ctx context.Context, id, userID string) error {
	result, err := r.db.NewUpdate().
		Model((*models.UserRole)(nil)).
		Set("user_id = ?", userID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return bunx.TranslateError("reparent global role", err)
	}
	return checkAffected(result, "user role", id)
}

// DeleteGlobalRole deletes a global grant
func (r *BunRoleRepository) DeleteGlobalRole(ctx context.Context, id string) error {
	result, err := r.db.NewDelete().Model((*models.UserRole)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return bunx.TranslateError("delete global role", err)
	}
	return checkAffected(result, "user role", id)
}

// ========================================
// Local roles
// ========================================

// LocalRoleNames returns the names of the confirmed local roles of a user
func (r *BunRoleRepository) LocalRoleNames(ctx context.Context, userID, discussionID string) ([]string, error) {
	var names []string
	err := r.db.NewSelect().
		TableExpr("local_user_roles AS lur").
		ColumnExpr("r.name").
		Join("JOIN roles AS r ON r.id = lur.role_id").
		Where("lur.user_id = ?", userID).
		Where("lur.discussion_id = ?", discussionID).
		Where("lur.requested = ?", false).
		OrderExpr("r.name").
		Scan(ctx, &names)
	if err != nil {
		return nil, bunx.TranslateError("list local role names", err)
	}
	return names, nil
}

// ListLocalRoles returns every local role row of a user, confirmed or not
func (r *BunRoleRepository) ListLocalRoles(ctx context.Context, userID string) ([]*models.LocalUserRole, error) {
	var rows []*models.LocalUserRole
	if err := r.db.NewSelect().Model(&rows).Where("user_id = ?", userID).Order("id").Scan(ctx); err != nil {
		return nil, bunx.TranslateError("list local roles", err)
	}
	return rows, nil
}

// FindLocalRoles returns the rows for one (user, discussion, role) tuple
func (r *BunRoleRepository) FindLocalRoles(ctx context.Context, userID, discussionID, roleID string) ([]*models.LocalUserRole, error) {
	var rows []*models.LocalUserRole
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("discussion_id = ?", discussionID).
		Where("role_id = ?", roleID).
		Order("id").
		Scan(ctx)
	if err != nil {
		return nil, bunx.TranslateError("find local roles", err)
	}
	return rows, nil
}

// GetLocalRole retrieves a local role by ID
func (r *BunRoleRepository) GetLocalRole(ctx context.Context, id string) (*models.LocalUserRole, error) {
	lur := new(models.LocalUserRole)
	if err := r.db.NewSelect().Model(lur).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, bunx.TranslateError(fmt.Sprintf("get local role %s", id), err)
	}
	return lur, nil
}

// CreateLocalRole inserts a local role grant or request
func (r *BunRoleRepository) CreateLocalRole(ctx context.Context, lur *models.LocalUserRole) error {
	if lur.ID == "" {
		lur.ID = bunx.NewID()
	}
	if lur.CreatedAt.IsZero() {
		lur.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NewInsert().Model(lur).Exec(ctx); err != nil {
		return bunx.TranslateError("create local role", err)
	}
	return nil
}

// UpdateLocalRole writes the requested flag
func (r *BunRoleRepository) UpdateLocalRole(ctx context.Context, lur *models.LocalUserRole) error {
	result, err := r.db.NewUpdate().Model(lur).Column("requested").WherePK().Exec(ctx)
	if err != nil {
		return bunx.TranslateError("update local role", err)
	}
	return checkAffected(result, "local role", lur.ID)
}

// ReparentLocalRole moves a local role row to another user
func (r *BunRoleRepository) ReparentLocalRole(ctx context.Context, id, userID string) error {
	result, err := r.db.NewUpdate().
		Model((*models.LocalUserRole)(nil)).
		Set("user_id = ?", userID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return bunx.TranslateError("reparent local role", err)
	}
	return checkAffected(result, "local role", id)
}

// DeleteLocalRole deletes a local role row
func (r *BunRoleRepository) DeleteLocalRole(ctx context.Context, id string) error {
	result, err := r.db.NewDelete().Model((*models.LocalUserRole)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return bunx.TranslateError("delete local role", err)
	}
	return checkAffected(result, "local role", id)
}
