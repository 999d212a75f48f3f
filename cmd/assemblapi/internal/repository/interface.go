package repository

import (
	"context"
	"time"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

// ProfileRepository exposes persistence operations for profiles.
type ProfileRepository interface {
	Create(ctx context.Context, profile *models.Profile) error
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	Update(ctx context.Context, profile *models.Profile) error
	Delete(ctx context.Context, id string) error
}

// UserRepository exposes the user extension of profiles.
type UserRepository interface {
	// Create inserts the profile (as kind user unless already a template)
	// together with its users row.
	Create(ctx context.Context, profile *models.Profile, user *models.User) error
	GetByID(ctx context.Context, profileID string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error

	GetUsername(ctx context.Context, userID string) (*models.Username, error)
	SetUsername(ctx context.Context, userID, username string) error
	MoveUsername(ctx context.Context, fromUserID, toUserID string) error
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// EmailCandidate is an email account joined with its owner's profile kind.
type EmailCandidate struct {
	Account     *models.Account
	ProfileKind string
}

// AccountRepository exposes persistence operations for accounts. Create and
// Update keep accounts.signature in sync with the identifying fields.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Account, error)
	ListByProfile(ctx context.Context, profileID string) ([]*models.Account, error)
	FindBySignature(ctx context.Context, signature string) ([]*models.Account, error)
	FindPreferredEmail(ctx context.Context, profileID string) (*models.Account, error)
	FindEmailCandidates(ctx context.Context, email string) ([]EmailCandidate, error)
	Reparent(ctx context.Context, accountID, profileID string) error
	ClearPreferred(ctx context.Context, profileID, exceptID string) error
}

// IdentityProviderRepository exposes the external providers idprovider
// accounts reference.
type IdentityProviderRepository interface {
	Create(ctx context.Context, provider *models.IdentityProvider) error
	GetByID(ctx context.Context, id string) (*models.IdentityProvider, error)
	GetByName(ctx context.Context, name string) (*models.IdentityProvider, error)
	List(ctx context.Context) ([]models.IdentityProvider, error)
}

// RoleRepository exposes roles, permissions and both kinds of role grants.
type RoleRepository interface {
	GetByName(ctx context.Context, name string) (*models.Role, error)
	List(ctx context.Context) ([]models.Role, error)
	ListPermissions(ctx context.Context) ([]models.Permission, error)

	GlobalRoleNames(ctx context.Context, userID string) ([]string, error)
	ListGlobalRoles(ctx context.Context, userID string) ([]*models.UserRole, error)
	GrantGlobal(ctx context.Context, userID, roleID string) error
	ReparentGlobalRole(ctx context.Context, id, userID string) error
	DeleteGlobalRole(ctx context.Context, id string) error

	// LocalRoleNames returns the confirmed local roles of a user.
	LocalRoleNames(ctx context.Context, userID, discussionID string) ([]string, error)
	ListLocalRoles(ctx context.Context, userID string) ([]*models.LocalUserRole, error)
	FindLocalRoles(ctx context.Context, userID, discussionID, roleID string) ([]*models.LocalUserRole, error)
	GetLocalRole(ctx context.Context, id string) (*models.LocalUserRole, error)
	CreateLocalRole(ctx context.Context, lur *models.LocalUserRole) error
	UpdateLocalRole(ctx context.Context, lur *models.LocalUserRole) error
	ReparentLocalRole(ctx context.Context, id, userID string) error
	DeleteLocalRole(ctx context.Context, id string) error
}

// DiscussionRepository exposes persistence operations for discussions.
type DiscussionRepository interface {
	Create(ctx context.Context, discussion *models.Discussion) error
	GetByID(ctx context.Context, id string) (*models.Discussion, error)
	GetBySlug(ctx context.Context, slug string) (*models.Discussion, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]models.Discussion, error)
	Delete(ctx context.Context, id string) error
}

// SubscriptionRepository exposes notification subscriptions.
type SubscriptionRepository interface {
	// ListForUser returns the subscriptions of one (user, discussion) pair.
	// With forUpdate the rows are locked until the transaction ends.
	ListForUser(ctx context.Context, userID, discussionID string, forUpdate bool) ([]*models.NotificationSubscription, error)
	ListByUser(ctx context.Context, userID string) ([]*models.NotificationSubscription, error)
	Get(ctx context.Context, userID, discussionID, class string) (*models.NotificationSubscription, error)
	CreateMany(ctx context.Context, subs []*models.NotificationSubscription) error
	Update(ctx context.Context, sub *models.NotificationSubscription) error
	Reparent(ctx context.Context, id, userID string) error
	Delete(ctx context.Context, ids ...string) error
}

// TemplateRepository exposes the per-(discussion, role) user templates.
type TemplateRepository interface {
	Get(ctx context.Context, discussionID, roleID string) (*models.UserTemplate, error)
	// Create inserts the template profile, its users row and the template row.
	Create(ctx context.Context, discussionID, roleID string) (*models.UserTemplate, error)
}

// ContentRepository exposes the profile-owned records the reconciler moves.
type ContentRepository interface {
	CreatePost(ctx context.Context, post *models.Post) error
	GetPost(ctx context.Context, id string) (*models.Post, error)
	CreateExtract(ctx context.Context, extract *models.Extract) error
	GetExtract(ctx context.Context, id string) (*models.Extract, error)
	RecordAction(ctx context.Context, action *models.Action) error
	ListActions(ctx context.Context, actorID string) ([]models.Action, error)

	ReparentPosts(ctx context.Context, fromID, toID string) (int64, error)
	ReparentExtracts(ctx context.Context, fromID, toID string) (int64, error)
	ReparentActions(ctx context.Context, fromID, toID string) (int64, error)
}

// RevokedTokenRepository exposes the access token denylist.
type RevokedTokenRepository interface {
	Revoke(ctx context.Context, token *models.RevokedToken) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	DeleteExpired(ctx context.Context, grace time.Duration) (int64, error)
}
