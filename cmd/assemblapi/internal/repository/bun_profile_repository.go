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
// Profile Repository
// ========================================

// BunProfileRepository implements ProfileRepository using Bun ORM
type BunProfileRepository struct {
	db bun.IDB
}

// NewBunProfileRepository creates a new Bun-based profile repository
func NewBunProfileRepository(db bun.IDB) ProfileRepository {
	return &BunProfileRepository{db: db}
}

// Create inserts a new profile
func (r *BunProfileRepository) Create(ctx context.Context, profile *models.Profile) error {
	if profile.ID == "" {
		profile.ID = bunx.NewID()
	}
	if profile.Kind == "" {
		profile.Kind = models.ProfileKindProfile
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}

	if _, err := r.db.NewInsert().Model(profile).Exec(ctx); err != nil {
		return bunx.TranslateError("create profile", err)
	}
	return nil
}

// GetByID retrieves a profile by ID
func (r *BunProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	profile := new(models.Profile)
	if err := r.db.NewSelect().Model(profile).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, bunx.TranslateError(fmt.Sprintf("get profile %s", id), err)
	}
	return profile, nil
}

// Update updates name, description and kind
func (r *BunProfileRepository) Update(ctx context.Context, profile *models.Profile) error {
	result, err := r.db.NewUpdate().
		Model(profile).
		Column("name", "description", "kind").
		WherePK().
		Exec(ctx)
	if err != nil {
		return bunx.TranslateError("update profile", err)
	}
	return checkAffected(result, "profile", profile.ID)
}

// Delete deletes a profile; accounts and the users row cascade.
func (r *BunProfileRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.NewDelete().
		Model((*models.Profile)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return bunx.TranslateError("delete profile", err)
	}
	return checkAffected(result, "profile", id)
}

// ========================================
// User Repository
// ========================================

// BunUserRepository implements UserRepository using Bun ORM
type BunUserRepository struct {
	db bun.IDB
}

// NewBunUserRepository creates a new Bun-based user repository
func NewBunUserRepository(db bun.IDB) UserRepository {
	return &BunUserRepository{db: db}
}

// Create inserts the profile and its user extension
func (r *BunUserRepository) Create(ctx context.Context, profile *models.Profile, user *models.User) error {
	if profile.Kind != models.ProfileKindUserTemplate {
		profile.Kind = models.ProfileKindUser
	}
	if err := NewBunProfileRepository(r.db).Create(ctx, profile); err != nil {
		return err
	}

	user.ProfileID = profile.ID
	if user.CreationDate.IsZero() {
		user.CreationDate = profile.CreatedAt
	}
	if _, err := r.db.NewInsert().Model(user).Exec(ctx); err != nil {
		return bunx.TranslateError("create user", err)
	}
	return nil
}

// GetByID retrieves a user by profile ID
func (r *BunUserRepository) GetByID(ctx context.Context, profileID string) (*models.User, error) {
	user := new(models.User)
	if err := r.db.NewSelect().Model(user).Where("profile_id = ?", profileID).Scan(ctx); err != nil {
		return nil, bunx.TranslateError(fmt.Sprintf("get user %s", profileID), err)
	}
	return user, nil
}

// Update writes every user column
func (r *BunUserRepository) Update(ctx context.Context, user *models.User) error {
	result, err := r.db.NewUpdate().Model(user).WherePK().Exec(ctx)
	if err != nil {
		return bunx.TranslateError("update user", err)
	}
	return checkAffected(result, "user", user.ProfileID)
}

// GetUsername returns the user's username row
func (r *BunUserRepository) GetUsername(ctx context.Context, userID string) (*models.Username, error) {
	un := new(models.Username)
	if err := r.db.NewSelect().Model(un).Where("user_id = ?", userID).Scan(ctx); err != nil {
		return nil, bunx.TranslateError(fmt.Sprintf("get username of %s", userID), err)
	}
	return un, nil
}

// SetUsername creates or replaces the user's username
func (r *BunUserRepository) SetUsername(ctx context.Context, userID, username string) error {
	un := &models.Username{UserID: userID, Username: username}
	_, err := r.db.NewInsert().
		Model(un).
		On("CONFLICT (user_id) DO UPDATE").
		Set("username = EXCLUDED.username").
		Exec(ctx)
	if err != nil {
		return bunx.TranslateError("set username", err)
	}
	return nil
}

// MoveUsername hands the username of fromUserID over to toUserID
func (r *BunUserRepository) MoveUsername(ctx context.Context, fromUserID, toUserID string) error {
	result, err := r.db.NewUpdate().
		Model((*models.Username)(nil)).
		Set("user_id = ?", toUserID).
		Where("user_id = ?", fromUserID).
		Exec(ctx)
	if err != nil {
		return bunx.TranslateError("move username", err)
	}
	return checkAffected(result, "username of", fromUserID)
}

// GetByUsername resolves a login handle to its user
func (r *BunUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Join("JOIN usernames AS un ON un.user_id = u.profile_id").
		Where("un.username = ?", username).
		Scan(ctx)
	if err != nil {
		return nil, bunx.TranslateError(fmt.Sprintf("get user by username %s", username), err)
	}
	return user, nil
}
