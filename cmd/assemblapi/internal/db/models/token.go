package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RevokedToken is a denylist entry for an access token ID. Rows are kept
// until the token would have expired anyway.
type RevokedToken struct {
	bun.BaseModel `bun:"table:revoked_tokens,alias:rt"`

	JTI       string    `bun:"jti,pk"`
	ProfileID string    `bun:"profile_id,notnull"`
	Exp       time.Time `bun:"exp,notnull"`
	RevokedAt time.Time `bun:"revoked_at,notnull,default:current_timestamp"`
}
