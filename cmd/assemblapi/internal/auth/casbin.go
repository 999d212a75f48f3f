package auth

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth/bunadapter"
)

//go:embed model.conf
var casbinModelContent string

// NewModel parses the embedded authorization model: policies are
// (role, discussion id, permission) triples.
func NewModel() (model.Model, error) {
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}
	return m, nil
}

// InitEnforcer creates a synced enforcer whose policies live in the
// discussion_permissions table. Auto-save is on, so AddPolicy and
// RemovePolicy write through to the database.
func InitEnforcer(db *bun.DB) (casbin.IEnforcer, error) {
	m, err := NewModel()
	if err != nil {
		return nil, err
	}

	enforcer, err := casbin.NewSyncedEnforcer(m, bunadapter.NewAdapter(db))
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	enforcer.EnableAutoSave(true)

	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load casbin policies: %w", err)
	}

	return enforcer, nil
}

// NewMemoryEnforcer creates an enforcer without persistence, seeded with
// rules. Used by tests and dry runs.
func NewMemoryEnforcer(rules ...[]string) (casbin.IEnforcer, error) {
	m, err := NewModel()
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	if len(rules) > 0 {
		if _, err := enforcer.AddPolicies(rules); err != nil {
			return nil, fmt.Errorf("seed casbin policies: %w", err)
		}
	}
	return enforcer, nil
}
