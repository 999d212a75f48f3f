package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Post is a message authored in a discussion.
type Post struct {
	bun.BaseModel `bun:"table:posts,alias:po"`

	ID           string    `bun:"id,pk"`
	DiscussionID string    `bun:"discussion_id,notnull"`
	CreatorID    string    `bun:"creator_id,notnull"`
	Subject      string    `bun:"subject"`
	Body         string    `bun:"body"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// OwnerID implements ownership checks for posts.
func (p *Post) OwnerID() string { return p.CreatorID }

// Extract is a harvested fragment of a post.
type Extract struct {
	bun.BaseModel `bun:"table:extracts,alias:ex"`

	ID           string    `bun:"id,pk"`
	DiscussionID string    `bun:"discussion_id,notnull"`
	PostID       *string   `bun:"post_id"`
	CreatorID    string    `bun:"creator_id,notnull"`
	OwnerProfile string    `bun:"owner_id,notnull"`
	Body         string    `bun:"body"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// OwnerID implements ownership checks for extracts.
func (e *Extract) OwnerID() string { return e.OwnerProfile }

// Action is an event record attributed to the profile that performed it.
type Action struct {
	bun.BaseModel `bun:"table:actions,alias:act"`

	ID         string    `bun:"id,pk"`
	ActorID    string    `bun:"actor_id,notnull"`
	Verb       string    `bun:"verb,notnull"`
	TargetType string    `bun:"target_type"`
	TargetID   string    `bun:"target_id"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
