// Package iam resolves roles and effective permissions and manages role
// grants.
//
// The authorization matrix lives in Casbin: every policy is a
// (role, discussion id, permission) triple persisted in
// discussion_permissions. A user's effective permissions in a discussion are
// the union of the policies of every role the user holds there:
//
//   - implicit roles: r:everyone always, r:authenticated for logged-in users
//   - global roles from user_roles
//   - confirmed local roles from local_user_roles
//
// A global r:sysadmin holds every permission in every existing discussion.
//
// Request Flow:
//
//	Request → Authenticate() → auth.Principal
//	       ↓
//	   Handler → EffectivePermissions / HasPermission → LRU → Casbin (read-only)
//
// Effective permission sets are cached per (user, discussion) with a TTL.
// Grants made through this package invalidate the affected entries; the
// periodic RefreshPolicies call reloads Casbin and purges the cache so
// grants made by other processes become visible.
package iam
