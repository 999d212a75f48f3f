package iam

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/casbin/casbin/v2"
)

// PermissionsForRoles returns the sorted union of the permissions that the
// discussion's policies grant to any of roles.
//
// This is a READ-ONLY query that never mutates Casbin state. Policies are
// (role, discussion, permission) triples, so a filtered lookup on the role
// field followed by a discussion match is enough.
//
// Thread Safety:
//   - The synced enforcer guards its model with a read lock
//   - Multiple goroutines can call this concurrently
func PermissionsForRoles(enforcer casbin.IEnforcer, roles []string, discussionID string) ([]string, error) {
	if enforcer == nil {
		return nil, fmt.Errorf("casbin enforcer not initialized")
	}

	set := make(map[string]struct{})
	for _, role := range roles {
		rules, err := enforcer.GetFilteredPolicy(0, role, discussionID)
		if err != nil {
			return nil, fmt.Errorf("casbin policies for role %s: %w", role, err)
		}
		for _, rule := range rules {
			if len(rule) == 3 {
				set[rule[2]] = struct{}{}
			}
		}
	}

	perms := make([]string, 0, len(set))
	for perm := range set {
		perms = append(perms, perm)
	}
	slices.Sort(perms)
	return perms, nil
}

// RolePermission is one cell of a discussion's authorization matrix.
type RolePermission struct {
	Role       string `json:"role"`
	Permission string `json:"permission"`
}

// MatrixForDiscussion lists the discussion's policies ordered by role then
// permission.
func MatrixForDiscussion(enforcer casbin.IEnforcer, discussionID string) ([]RolePermission, error) {
	rules, err := enforcer.GetFilteredPolicy(1, discussionID)
	if err != nil {
		return nil, fmt.Errorf("casbin policies for discussion %s: %w", discussionID, err)
	}

	matrix := make([]RolePermission, 0, len(rules))
	for _, rule := range rules {
		if len(rule) == 3 {
			matrix = append(matrix, RolePermission{Role: rule[0], Permission: rule[2]})
		}
	}
	slices.SortFunc(matrix, func(a, b RolePermission) int {
		if c := cmp.Compare(a.Role, b.Role); c != 0 {
			return c
		}
		return cmp.Compare(a.Permission, b.Permission)
	})
	return matrix, nil
}
