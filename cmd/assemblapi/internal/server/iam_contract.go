package server

import (
	"context"
	"time"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/lazy"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/services/accounts"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/services/iam"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/services/reconcile"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/services/subscriptions"
)

// iamService defines the exact IAM methods used by server handlers.
type iamService interface {
	Authenticate(ctx context.Context, req iam.AuthRequest) (auth.Principal, error)
	Roles(ctx context.Context, userID, discussionID string) ([]string, error)
	EffectivePermissions(ctx context.Context, userID, discussionID string) ([]string, error)
	IsSysadmin(ctx context.Context, userID string) (bool, error)
	AddLocalRole(ctx context.Context, actorID string, req iam.LocalRoleRequest) (*models.LocalUserRole, error)
	DiscussionPermissions(ctx context.Context, discussionID string) ([]iam.RolePermission, error)
	RefreshPolicies(ctx context.Context) error
}

// accountService defines the account operations used by server handlers.
type accountService interface {
	Login(ctx context.Context, login, password string) (*accounts.Token, error)
	RevokeToken(ctx context.Context, tokenString string) error
	Profile(ctx context.Context, profileID string) (*models.Profile, error)
	Accounts(ctx context.Context, profileID string) (*lazy.List[*models.Account], error)
	PreferredEmail(ctx context.Context, profileID string, accounts *lazy.List[*models.Account]) (string, error)
	ListAccounts(ctx context.Context, filter string) ([]*models.Account, error)
}

// subscriptionService defines the subscription operations used by server
// handlers.
type subscriptionService interface {
	GetOrMaterialize(ctx context.Context, userID, discussionID string, reset bool) ([]*models.NotificationSubscription, error)
	SetSubscriptionStatus(ctx context.Context, userID, discussionID, class, status string) (*models.NotificationSubscription, error)
}

// profileMerger merges duplicate profiles.
type profileMerger interface {
	MergeProfiles(ctx context.Context, targetID, sourceID string) (*reconcile.Result, error)
}

// Compile-time assertions: the concrete services satisfy the contracts.
var (
	_ iamService          = (iam.Service)(nil)
	_ accountService      = (*accounts.Service)(nil)
	_ subscriptionService = (*subscriptions.Service)(nil)
	_ profileMerger       = (*reconcile.Service)(nil)
)

// subscriptionView is the wire form of a subscription.
type subscriptionView struct {
	Class     string    `json:"class"`
	Status    string    `json:"status"`
	Origin    string    `json:"origin"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toSubscriptionView(sub *models.NotificationSubscription) subscriptionView {
	return subscriptionView{
		Class:     sub.Class,
		Status:    sub.Status,
		Origin:    sub.CreationOrigin,
		UpdatedAt: sub.UpdatedAt,
	}
}

// accountView is the wire form of an account.
type accountView struct {
	ID          string `json:"id"`
	ProfileID   string `json:"profile_id"`
	Kind        string `json:"kind"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Verified    bool   `json:"verified"`
	Preferred   bool   `json:"preferred,omitempty"`
}

// localRoleView is the wire form of a local role grant.
type localRoleView struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	DiscussionID string `json:"discussion_id"`
	RoleID       string `json:"role_id"`
	Requested    bool   `json:"requested"`
}
