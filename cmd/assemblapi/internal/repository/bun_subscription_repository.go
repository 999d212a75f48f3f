package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/bunx"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

// ========================================
// Subscription Repository
// ========================================

// BunSubscriptionRepository implements SubscriptionRepository using Bun ORM
type BunSubscriptionRepository struct {
	db bun.IDB
}

// NewBunSubscriptionRepository creates a new Bun-based subscription repository
func NewBunSubscriptionRepository(db bun.IDB) SubscriptionRepository {
	return &BunSubscriptionRepository{db: db}
}

// ListForUser returns the subscriptions of a (user, discussion) pair ordered by class
func (r *BunSubscriptionRepository) ListForUser(ctx context.Context, userID, discussionID string, forUpdate bool) ([]*models.NotificationSubscription, error) {
	var subs []*models.NotificationSubscription
	q := r.db.NewSelect().
		Model(&subs).
		Where("user_id = ?", userID).
		Where("discussion_id = ?", discussionID).
		Order("class")
	if forUpdate {
		q = bunx.ForUpdate(q, r.db)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, bunx.TranslateError("list subscriptions", err)
	}
	return subs, nil
}

// ListByUser returns a user's subscriptions across discussions
func (r *BunSubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]*models.NotificationSubscription, error) {
	var subs []*models.NotificationSubscription
	if err := r.db.NewSelect().Model(&subs).Where("user_id = ?", userID).Order("id").Scan(ctx); err != nil {
		return nil, bunx.TranslateError("list subscriptions by user", err)
	}
	return subs, nil
}

// Get retrieves one subscription by its identity
func (r *BunSubscriptionRepository) Get(ctx context.Context, userID, discussionID, class string) (*models.NotificationSubscription, error) {
	sub := new(models.NotificationSubscription)
	err := r.db.NewSelect().
		Model(sub).
		Where("user_id = ?", userID).
		Where("discussion_id = ?", discussionID).
		Where("class = ?", class).
		Scan(ctx)
	if err != nil {
		return nil, bunx.TranslateError(fmt.Sprintf("get subscription %s", class), err)
	}
	return sub, nil
}

// CreateMany inserts subscriptions in one statement
func (r *BunSubscriptionRepository) CreateMany(ctx context.Context, subs []*models.NotificationSubscription) error {
	if len(subs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, sub := range subs {
		if sub.ID == "" {
			sub.ID = bunx.NewID()
		}
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = now
		}
		sub.UpdatedAt = now
	}
	if _, err := r.db.NewInsert().Model(&subs).Exec(ctx); err != nil {
		return bunx.TranslateError("create subscriptions", err)
	}
	return nil
}

// Update writes status and origin
func (r *BunSubscriptionRepository) Update(ctx context.Context, sub *models.NotificationSubscription) error {
	sub.UpdatedAt = time.Now().UTC()
	result, err := r.db.NewUpdate().
		Model(sub).
		Column("status", "creation_origin", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return bunx.TranslateError("update subscription", err)
	}
	return checkAffected(result, "subscription", sub.ID)
}

// Reparent moves a subscription to another user
func (r *BunSubscriptionRepository) Reparent(ctx context.Context, id, userID string) error {
	result, err := r.db.NewUpdate().
		Model((*models.NotificationSubscription)(nil)).
		Set("user_id = ?", userID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return bunx.TranslateError("reparent subscription", err)
	}
	return checkAffected(result, "subscription", id)
}

// Delete deletes subscriptions by ID
func (r *BunSubscriptionRepository) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.NewDelete().
		Model((*models.NotificationSubscription)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return bunx.TranslateError("delete subscriptions", err)
	}
	return nil
}

// ========================================
// Template Repository
// ========================================

// BunTemplateRepository implements TemplateRepository using Bun ORM
type BunTemplateRepository struct {
	db bun.IDB
}

// NewBunTemplateRepository creates a new Bun-based template repository
func NewBunTemplateRepository(db bun.IDB) TemplateRepository {
	return &BunTemplateRepository{db: db}
}

// Get retrieves the template of a (discussion, role) pair
func (r *BunTemplateRepository) Get(ctx context.Context, discussionID, roleID string) (*models.UserTemplate, error) {
	ut := new(models.UserTemplate)
	err := r.db.NewSelect().
		Model(ut).
		Where("discussion_id = ?", discussionID).
		Where("role_id = ?", roleID).
		Scan(ctx)
	if err != nil {
		return nil, bunx.TranslateError("get user template", err)
	}
	return ut, nil
}

// Create inserts a template pseudo-user for a (discussion, role) pair
func (r *BunTemplateRepository) Create(ctx context.Context, discussionID, roleID string) (*models.UserTemplate, error) {
	profile := &models.Profile{Kind: models.ProfileKindUserTemplate, Name: "template"}
	if err := NewBunUserRepository(r.db).Create(ctx, profile, &models.User{}); err != nil {
		return nil, err
	}

	ut := &models.UserTemplate{ProfileID: profile.ID, DiscussionID: discussionID, RoleID: roleID}
	if _, err := r.db.NewInsert().Model(ut).Exec(ctx); err != nil {
		return nil, bunx.TranslateError("create user template", err)
	}
	return ut, nil
}
