package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/bunx"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

// BunDiscussionRepository implements DiscussionRepository using Bun ORM
type BunDiscussionRepository struct {
	db bun.IDB
}

// NewBunDiscussionRepository creates a new Bun-based discussion repository
func NewBunDiscussionRepository(db bun.IDB) DiscussionRepository {
	return &BunDiscussionRepository{db: db}
}

// Create inserts a new discussion
func (r *BunDiscussionRepository) Create(ctx context.Context, discussion *models.Discussion) error {
	if discussion.ID == "" {
		discussion.ID = bunx.NewID()
	}
	if discussion.CreatedAt.IsZero() {
		discussion.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NewInsert().Model(discussion).Exec(ctx); err != nil {
		return bunx.TranslateError("create discussion", err)
	}
	return nil
}

// GetByID retrieves a discussion by ID
func (r *BunDiscussionRepository) GetByID(ctx context.Context, id string) (*models.Discussion, error) {
	d := new(models.Discussion)
	if err := r.db.NewSelect().Model(d).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, bunx.TranslateError(fmt.Sprintf("get discussion %s", id), err)
	}
	return d, nil
}

// GetBySlug retrieves a discussion by slug
func (r *BunDiscussionRepository) GetBySlug(ctx context.Context, slug string) (*models.Discussion, error) {
	d := new(models.Discussion)
	if err := r.db.NewSelect().Model(d).Where("slug = ?", slug).Scan(ctx); err != nil {
		return nil, bunx.TranslateError(fmt.Sprintf("get discussion %s", slug), err)
	}
	return d, nil
}

// Exists reports whether a discussion with id exists
func (r *BunDiscussionRepository) Exists(ctx context.Context, id string) (bool, error) {
	exists, err := r.db.NewSelect().Model((*models.Discussion)(nil)).Where("id = ?", id).Exists(ctx)
	if err != nil {
		return false, bunx.TranslateError("check discussion", err)
	}
	return exists, nil
}

// List returns all discussions ordered by slug
func (r *BunDiscussionRepository) List(ctx context.Context) ([]models.Discussion, error) {
	var ds []models.Discussion
	if err := r.db.NewSelect().Model(&ds).Order("slug").Scan(ctx); err != nil {
		return nil, bunx.TranslateError("list discussions", err)
	}
	return ds, nil
}

// Delete removes a discussion; its matrix and local roles cascade
func (r *BunDiscussionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.NewDelete().Model((*models.Discussion)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return bunx.TranslateError("delete discussion", err)
	}
	return checkAffected(result, "discussion", id)
}
