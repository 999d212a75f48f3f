package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Subscription statuses.
const (
	SubscriptionActive           = "active"
	SubscriptionInactiveDefault  = "inactive_default"
	SubscriptionInactiveExplicit = "inactive_explicit"
)

// Subscription creation origins.
const (
	OriginDiscussionDefault = "discussion_default"
	OriginUserChosen        = "user_chosen"
)

// NotificationSubscription is unique on (class, user_id, discussion_id).
type NotificationSubscription struct {
	bun.BaseModel `bun:"table:notification_subscriptions,alias:ns"`

	ID             string    `bun:"id,pk"`
	Class          string    `bun:"class,notnull"`
	UserID         string    `bun:"user_id,notnull"`
	DiscussionID   string    `bun:"discussion_id,notnull"`
	Status         string    `bun:"status,notnull"`
	CreationOrigin string    `bun:"creation_origin,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// UserTemplate ties a template profile to one (discussion, role) pair.
type UserTemplate struct {
	bun.BaseModel `bun:"table:user_templates,alias:ut"`

	ProfileID    string `bun:"profile_id,pk"`
	DiscussionID string `bun:"discussion_id,notnull"`
	RoleID       string `bun:"role_id,notnull"`
}
