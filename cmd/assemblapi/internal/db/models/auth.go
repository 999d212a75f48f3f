package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Role is a named, system-wide tag such as r:participant.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID          string    `bun:"id,pk"`
	Name        string    `bun:"name,notnull,unique"`
	Description string    `bun:"description"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Permission is a named, system-wide capability tag.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:perm"`

	ID   string `bun:"id,pk"`
	Name string `bun:"name,notnull,unique"`
}

// UserRole is a global (discussion-independent) role grant.
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:ur"`

	ID         string    `bun:"id,pk"`
	UserID     string    `bun:"user_id,notnull"`
	RoleID     string    `bun:"role_id,notnull"`
	AssignedAt time.Time `bun:"assigned_at,notnull,default:current_timestamp"`
}

// LocalUserRole grants a role inside one discussion. Requested rows are
// pending self-registration requests and confer nothing.
type LocalUserRole struct {
	bun.BaseModel `bun:"table:local_user_roles,alias:lur"`

	ID           string    `bun:"id,pk"`
	UserID       string    `bun:"user_id,notnull"`
	DiscussionID string    `bun:"discussion_id,notnull"`
	RoleID       string    `bun:"role_id,notnull"`
	Requested    bool      `bun:"requested,notnull,default:false"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// DiscussionPermission is one cell of a discussion's authorization matrix.
type DiscussionPermission struct {
	bun.BaseModel `bun:"table:discussion_permissions,alias:dp"`

	ID           string `bun:"id,pk"`
	DiscussionID string `bun:"discussion_id,notnull"`
	RoleID       string `bun:"role_id,notnull"`
	PermissionID string `bun:"permission_id,notnull"`
}

// Discussion is the tenant that scopes local roles, permissions and
// subscriptions.
type Discussion struct {
	bun.BaseModel `bun:"table:discussions,alias:d"`

	ID        string    `bun:"id,pk"`
	Slug      string    `bun:"slug,notnull,unique"`
	Topic     string    `bun:"topic"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
