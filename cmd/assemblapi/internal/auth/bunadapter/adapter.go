package bunadapter

import (
	"context"
	"fmt"

	"github.com/casbin/casbin/v2/model"
	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/bunx"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

// Adapter persists Casbin "p" rules (role name, discussion id, permission
// name) as rows of discussion_permissions. Role and permission names are
// resolved to ids on write; both must already exist.
type Adapter struct {
	db *bun.DB
}

// NewAdapter creates an Adapter over an existing connection pool.
func NewAdapter(db *bun.DB) *Adapter {
	return &Adapter{db: db}
}

type policyRow struct {
	Role         string `bun:"role"`
	DiscussionID string `bun:"discussion_id"`
	Permission   string `bun:"permission"`
}

func (r policyRow) rule() []string {
	return []string{r.Role, r.DiscussionID, r.Permission}
}

// LoadPolicy loads every discussion permission into model.
func (a *Adapter) LoadPolicy(model model.Model) error {
	var rows []policyRow
	err := a.db.NewSelect().
		TableExpr("discussion_permissions AS dp").
		ColumnExpr("r.name AS role").
		ColumnExpr("dp.discussion_id").
		ColumnExpr("perm.name AS permission").
		Join("JOIN roles AS r ON r.id = dp.role_id").
		Join("JOIN permissions AS perm ON perm.id = dp.permission_id").
		OrderExpr("dp.discussion_id, r.name, perm.name").
		Scan(context.Background(), &rows)
	if err != nil {
		return fmt.Errorf("failed to load policy from adapter db: %w", err)
	}

	for _, r := range rows {
		_ = model.AddPolicy("p", "p", r.rule())
	}
	return nil
}

// SavePolicy replaces every stored rule with the rules held by model.
func (a *Adapter) SavePolicy(model model.Model) error {
	var rules [][]string
	if assertion, ok := model["p"]["p"]; ok {
		rules = assertion.Policy
	}

	return a.db.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*models.DiscussionPermission)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return fmt.Errorf("failed to clear discussion permissions: %w", err)
		}
		for _, rule := range rules {
			if err := insertRule(ctx, tx, rule); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddPolicy adds a single rule.
func (a *Adapter) AddPolicy(_ string, ptype string, rule []string) error {
	return a.AddPolicies("p", ptype, [][]string{rule})
}

// AddPolicies adds rules atomically.
func (a *Adapter) AddPolicies(_ string, ptype string, rules [][]string) error {
	if err := checkPtype(ptype); err != nil {
		return err
	}
	return a.db.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		for _, rule := range rules {
			if err := insertRule(ctx, tx, rule); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemovePolicy removes a single rule.
func (a *Adapter) RemovePolicy(_ string, ptype string, rule []string) error {
	return a.RemovePolicies("p", ptype, [][]string{rule})
}

// RemovePolicies removes rules atomically.
func (a *Adapter) RemovePolicies(_ string, ptype string, rules [][]string) error {
	if err := checkPtype(ptype); err != nil {
		return err
	}
	return a.db.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		for _, rule := range rules {
			if len(rule) != 3 {
				return fmt.Errorf("policy rule must have 3 fields, got %d", len(rule))
			}
			if _, err := filteredDelete(tx, 0, rule...).Exec(ctx); err != nil {
				return fmt.Errorf("failed to remove adapter policy rule: %w", err)
			}
		}
		return nil
	})
}

// RemoveFilteredPolicy removes rules matching fieldValues starting at
// fieldIndex. Empty values match anything.
func (a *Adapter) RemoveFilteredPolicy(_ string, ptype string, fieldIndex int, fieldValues ...string) error {
	if err := checkPtype(ptype); err != nil {
		return err
	}
	if _, err := filteredDelete(a.db, fieldIndex, fieldValues...).Exec(context.Background()); err != nil {
		return fmt.Errorf("failed to remove filtered adapter policy: %w", err)
	}
	return nil
}

func checkPtype(ptype string) error {
	if ptype != "p" {
		return fmt.Errorf("unsupported policy type %q", ptype)
	}
	return nil
}

func filteredDelete(db bun.IDB, fieldIndex int, fieldValues ...string) *bun.DeleteQuery {
	q := db.NewDelete().Model((*models.DiscussionPermission)(nil))
	filtered := false
	for i, v := range fieldValues {
		if v == "" {
			continue
		}
		switch fieldIndex + i {
		case 0:
			q = q.Where("role_id = (SELECT id FROM roles WHERE name = ?)", v)
		case 1:
			q = q.Where("discussion_id = ?", v)
		case 2:
			q = q.Where("permission_id = (SELECT id FROM permissions WHERE name = ?)", v)
		default:
			continue
		}
		filtered = true
	}
	if !filtered {
		// bun refuses an unconditional DELETE
		q = q.Where("1 = 1")
	}
	return q
}

func insertRule(ctx context.Context, tx bun.Tx, rule []string) error {
	if len(rule) != 3 {
		return fmt.Errorf("policy rule must have 3 fields, got %d", len(rule))
	}

	var roleID, permissionID string
	if err := tx.NewSelect().Model((*models.Role)(nil)).Column("id").Where("name = ?", rule[0]).Scan(ctx, &roleID); err != nil {
		return bunx.TranslateError(fmt.Sprintf("resolve role %s", rule[0]), err)
	}
	if err := tx.NewSelect().Model((*models.Permission)(nil)).Column("id").Where("name = ?", rule[2]).Scan(ctx, &permissionID); err != nil {
		return bunx.TranslateError(fmt.Sprintf("resolve permission %s", rule[2]), err)
	}

	dp := &models.DiscussionPermission{
		ID:           bunx.NewID(),
		DiscussionID: rule[1],
		RoleID:       roleID,
		PermissionID: permissionID,
	}
	if _, err := tx.NewInsert().Model(dp).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("failed to add adapter policy rule: %w", err)
	}
	return nil
}
