package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Profile kinds. A user is a profile with a users row; a user template is a
// user that can never log in.
const (
	ProfileKindProfile      = "profile"
	ProfileKindUser         = "user"
	ProfileKindUserTemplate = "user_template"
)

// Profile is the canonical identity record.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:p"`

	ID          string    `bun:"id,pk"`
	Kind        string    `bun:"kind,notnull,default:'profile'"`
	Name        string    `bun:"name"`
	Description string    `bun:"description"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// IsUser reports whether the profile carries the user capability.
func (p *Profile) IsUser() bool {
	return p != nil && (p.Kind == ProfileKindUser || p.Kind == ProfileKindUserTemplate)
}

// User extends a Profile with login metadata. ProfileID is both the primary
// key and the reference to profiles.id.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ProfileID      string     `bun:"profile_id,pk"`
	PreferredEmail *string    `bun:"preferred_email"`
	Verified       bool       `bun:"verified,notnull,default:false"`
	PasswordHash   *string    `bun:"password_hash"`
	LastLogin      *time.Time `bun:"last_login"`
	LoginFailures  int        `bun:"login_failures,notnull,default:0"`
	CreationDate   time.Time  `bun:"creation_date,notnull,default:current_timestamp"`
	Timezone       string     `bun:"timezone"`
}

// Username is the optional unique login handle of a user.
type Username struct {
	bun.BaseModel `bun:"table:usernames,alias:un"`

	UserID   string `bun:"user_id,pk"`
	Username string `bun:"username,notnull,unique"`
}

// Account kinds.
const (
	AccountKindPassword   = "password"
	AccountKindEmail      = "email"
	AccountKindIDProvider = "idprovider"
)

// Account is one authentication method. The variant-specific columns are
// only meaningful for the matching Kind.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID        string `bun:"id,pk"`
	ProfileID string `bun:"profile_id,notnull"`
	Kind      string `bun:"kind,notnull"`
	Signature string `bun:"signature,notnull"`

	// password
	Login string `bun:"login"`

	// email
	Email     string `bun:"email"`
	Verified  bool   `bun:"verified,notnull,default:false"`
	Preferred bool   `bun:"preferred,notnull,default:false"`

	// idprovider
	ProviderID       *string        `bun:"provider_id"`
	ProviderUsername string         `bun:"provider_username"`
	ProviderDomain   string         `bun:"provider_domain"`
	ProviderUserID   string         `bun:"provider_userid"`
	ProfileInfo      map[string]any `bun:"profile_info,type:jsonb"`
	PictureURL       string         `bun:"picture_url"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// IdentityProvider is an external authentication provider.
type IdentityProvider struct {
	bun.BaseModel `bun:"table:identity_providers,alias:idp"`

	ID           string `bun:"id,pk"`
	ProviderType string `bun:"provider_type,notnull"`
	Name         string `bun:"name,notnull"`
	TrustEmails  bool   `bun:"trust_emails,notnull,default:false"`
}
