package accounts

import (
	"context"
	"fmt"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

// RegisterProvider records an external identity provider so idprovider
// accounts can reference it.
func (s *Service) RegisterProvider(ctx context.Context, name, providerType string, trustEmails bool) (*models.IdentityProvider, error) {
	provider := &models.IdentityProvider{Name: name, ProviderType: providerType, TrustEmails: trustEmails}
	if err := s.store.Providers.Create(ctx, provider); err != nil {
		return nil, fmt.Errorf("register identity provider %s: %w", name, err)
	}
	s.logger.Info("identity provider registered", "provider_id", provider.ID, "name", provider.Name)
	return provider, nil
}

// Providers lists the registered identity providers.
func (s *Service) Providers(ctx context.Context) ([]models.IdentityProvider, error) {
	return s.store.Providers.List(ctx)
}
