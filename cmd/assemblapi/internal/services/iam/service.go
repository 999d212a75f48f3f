package iam

import (
	"context"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

// Service provides role resolution, authorization and grant management.
//
// This service centralizes:
//   - Authentication (request path, bearer tokens)
//   - Authorization (request path, read-only Casbin plus an LRU)
//   - Local and global role grants (admin and self-registration)
//   - The per-discussion authorization matrix
//   - Cache management (out-of-band refresh)
type Service interface {
	// =========================================================================
	// Authentication (Request Path)
	// =========================================================================

	// Authenticate tries all registered authenticators in order. A request
	// without credentials yields the anonymous principal.
	Authenticate(ctx context.Context, req AuthRequest) (auth.Principal, error)

	// =========================================================================
	// Authorization (Request Path - Read-Only)
	// =========================================================================

	// Roles returns the sorted role names userID holds in discussionID:
	// implicit roles, global roles and confirmed local roles. An empty
	// userID is the anonymous caller and holds r:everyone only.
	Roles(ctx context.Context, userID, discussionID string) ([]string, error)

	// EffectivePermissions returns the sorted permission names userID holds
	// in discussionID. An unknown discussion yields an empty set, never an
	// error.
	EffectivePermissions(ctx context.Context, userID, discussionID string) ([]string, error)

	// HasPermission reports whether userID may exercise permission in
	// discussionID. When subject is owned by userID the check passes
	// without consulting the permission set.
	HasPermission(ctx context.Context, userID, discussionID, permission string, subject Owned) (bool, error)

	// IsSysadmin reports whether userID holds the global r:sysadmin role.
	IsSysadmin(ctx context.Context, userID string) (bool, error)

	// =========================================================================
	// Role Grants
	// =========================================================================

	// AddLocalRole grants or requests a role in a discussion on behalf of
	// actorID. Holders of admin_discussion may grant any role to anyone;
	// other callers may only self-register (participant) or request.
	AddLocalRole(ctx context.Context, actorID string, req LocalRoleRequest) (*models.LocalUserRole, error)

	// GrantLocalRole creates the grant without any actor check.
	GrantLocalRole(ctx context.Context, req LocalRoleRequest) (*models.LocalUserRole, error)

	// ConfirmLocalRole turns a pending request into a confirmed grant.
	ConfirmLocalRole(ctx context.Context, id string) (*models.LocalUserRole, error)

	// RevokeLocalRole deletes a local grant or request.
	RevokeLocalRole(ctx context.Context, id string) error

	// ListLocalRoles lists the grants and requests of a user.
	ListLocalRoles(ctx context.Context, userID string) ([]*models.LocalUserRole, error)

	GrantGlobalRole(ctx context.Context, userID, role string) error
	RevokeGlobalRole(ctx context.Context, userID, role string) error

	// =========================================================================
	// Discussions and the Authorization Matrix
	// =========================================================================

	// CreateDiscussion creates a discussion and seeds its default matrix.
	CreateDiscussion(ctx context.Context, slug, topic string) (*models.Discussion, error)

	GrantDiscussionPermission(ctx context.Context, discussionID, role, permission string) error
	RevokeDiscussionPermission(ctx context.Context, discussionID, role, permission string) error
	DiscussionPermissions(ctx context.Context, discussionID string) ([]RolePermission, error)

	// =========================================================================
	// Cache Management (Out-of-Band, Not in Request Path)
	// =========================================================================

	// RefreshPolicies reloads Casbin policies from the database and purges
	// the permission cache.
	RefreshPolicies(ctx context.Context) error

	// InvalidateUser drops cached permission sets of the given users.
	InvalidateUser(userIDs ...string)

	// SetMaterializer registers the subscription materializer run after a
	// confirmed local grant.
	SetMaterializer(m Materializer)
}

// Owned is implemented by records that have an owning profile, such as
// posts and extracts.
type Owned interface {
	OwnerID() string
}

// Materializer creates the default subscriptions of a user in a discussion.
type Materializer interface {
	MaterializeDefaults(ctx context.Context, userID, discussionID string, reset bool) error
}

// LocalRoleRequest describes a local grant. Requested marks a pending
// self-registration request.
type LocalRoleRequest struct {
	UserID       string `json:"user_id"`
	DiscussionID string `json:"discussion_id"`
	Role         string `json:"role"`
	Requested    bool   `json:"requested"`
}
