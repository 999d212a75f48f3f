package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/bunx"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
)

// BunIdentityProviderRepository implements IdentityProviderRepository using Bun ORM
type BunIdentityProviderRepository struct {
	db bun.IDB
}

// NewBunIdentityProviderRepository creates a new Bun-based identity provider repository
func NewBunIdentityProviderRepository(db bun.IDB) IdentityProviderRepository {
	return &BunIdentityProviderRepository{db: db}
}

// Create registers a provider; names are unique
func (r *BunIdentityProviderRepository) Create(ctx context.Context, provider *models.IdentityProvider) error {
	provider.Name = strings.TrimSpace(provider.Name)
	provider.ProviderType = strings.TrimSpace(provider.ProviderType)
	if provider.Name == "" || provider.ProviderType == "" {
		return fmt.Errorf("identity provider needs a name and a type: %w", sentinel.ErrInvalidInput)
	}
	if provider.ID == "" {
		provider.ID = bunx.NewID()
	}
	if _, err := r.db.NewInsert().Model(provider).Exec(ctx); err != nil {
		return bunx.TranslateError("create identity provider", err)
	}
	return nil
}

// GetByID retrieves a provider by ID
func (r *BunIdentityProviderRepository) GetByID(ctx context.Context, id string) (*models.IdentityProvider, error) {
	provider := new(models.IdentityProvider)
	if err := r.db.NewSelect().Model(provider).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, bunx.TranslateError(fmt.Sprintf("get identity provider %s", id), err)
	}
	return provider, nil
}

// GetByName retrieves a provider by its unique name
func (r *BunIdentityProviderRepository) GetByName(ctx context.Context, name string) (*models.IdentityProvider, error) {
	provider := new(models.IdentityProvider)
	if err := r.db.NewSelect().Model(provider).Where("name = ?", name).Scan(ctx); err != nil {
		return nil, bunx.TranslateError(fmt.Sprintf("get identity provider %s", name), err)
	}
	return provider, nil
}

// List returns every provider ordered by name
func (r *BunIdentityProviderRepository) List(ctx context.Context) ([]models.IdentityProvider, error) {
	var providers []models.IdentityProvider
	if err := r.db.NewSelect().Model(&providers).Order("name").Scan(ctx); err != nil {
		return nil, bunx.TranslateError("list identity providers", err)
	}
	return providers, nil
}
