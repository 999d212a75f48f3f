package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/bunx"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

// BunContentRepository implements ContentRepository using Bun ORM
type BunContentRepository struct {
	db bun.IDB
}

// NewBunContentRepository creates a new Bun-based content repository
func NewBunContentRepository(db bun.IDB) ContentRepository {
	return &BunContentRepository{db: db}
}

// CreatePost inserts a post
func (r *BunContentRepository) CreatePost(ctx context.Context, post *models.Post) error {
	if post.ID == "" {
		post.ID = bunx.NewID()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NewInsert().Model(post).Exec(ctx); err != nil {
		return bunx.TranslateError("create post", err)
	}
	return nil
}

// GetPost retrieves a post by ID
func (r *BunContentRepository) GetPost(ctx context.Context, id string) (*models.Post, error) {
	post := new(models.Post)
	if err := r.db.NewSelect().Model(post).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, bunx.TranslateError(fmt.Sprintf("get post %s", id), err)
	}
	return post, nil
}

// CreateExtract inserts an extract
func (r *BunContentRepository) CreateExtract(ctx context.Context, extract *models.Extract) error {
	if extract.ID == "" {
		extract.ID = bunx.NewID()
	}
	if extract.CreatedAt.IsZero() {
		extract.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NewInsert().Model(extract).Exec(ctx); err != nil {
		return bunx.TranslateError("create extract", err)
	}
	return nil
}

// GetExtract retrieves an extract by ID
func (r *BunContentRepository) GetExtract(ctx context.Context, id string) (*models.Extract, error) {
	extract := new(models.Extract)
	if err := r.db.NewSelect().Model(extract).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, bunx.TranslateError(fmt.Sprintf("get extract %s", id), err)
	}
	return extract, nil
}

// RecordAction inserts an action record
func (r *BunContentRepository) RecordAction(ctx context.Context, action *models.Action) error {
	if action.ID == "" {
		action.ID = bunx.NewID()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NewInsert().Model(action).Exec(ctx); err != nil {
		return bunx.TranslateError("record action", err)
	}
	return nil
}

// ListActions returns the actions attributed to a profile, oldest first
func (r *BunContentRepository) ListActions(ctx context.Context, actorID string) ([]models.Action, error) {
	var actions []models.Action
	if err := r.db.NewSelect().Model(&actions).Where("actor_id = ?", actorID).Order("created_at", "id").Scan(ctx); err != nil {
		return nil, bunx.TranslateError("list actions", err)
	}
	return actions, nil
}

// ReparentPosts moves authorship of every post of fromID to toID
func (r *BunContentRepository) ReparentPosts(ctx context.Context, fromID, toID string) (int64, error) {
	return r.reparent(ctx, "posts", (*models.Post)(nil), "creator_id", fromID, toID)
}

// ReparentExtracts moves creation and ownership of extracts of fromID to toID
func (r *BunContentRepository) ReparentExtracts(ctx context.Context, fromID, toID string) (int64, error) {
	created, err := r.reparent(ctx, "extracts", (*models.Extract)(nil), "creator_id", fromID, toID)
	if err != nil {
		return 0, err
	}
	owned, err := r.reparent(ctx, "extracts", (*models.Extract)(nil), "owner_id", fromID, toID)
	if err != nil {
		return 0, err
	}
	return created + owned, nil
}

// ReparentActions re-attributes every action of fromID to toID
func (r *BunContentRepository) ReparentActions(ctx context.Context, fromID, toID string) (int64, error) {
	return r.reparent(ctx, "actions", (*models.Action)(nil), "actor_id", fromID, toID)
}

func (r *BunContentRepository) reparent(ctx context.Context, what string, model any, column, fromID, toID string) (int64, error) {
	result, err := r.db.NewUpdate().
		Model(model).
		Set("? = ?", bun.Ident(column), toID).
		Where("? = ?", bun.Ident(column), fromID).
		Exec(ctx)
	if err != nil {
		return 0, bunx.TranslateError(fmt.Sprintf("reparent %s", what), err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}
