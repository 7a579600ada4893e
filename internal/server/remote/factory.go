package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/mediasync/internal/server/models"
)

// Factory opens a provider session for an account.
type Factory interface {
	ForAccount(ctx context.Context, account *models.StorageAccountConfig) (Client, error)
}

// Builder constructs a Client for one provider.
type Builder func(ctx context.Context, account *models.StorageAccountConfig, creds Credentials) (Client, error)

// Registry is a Factory that dispatches on the account's provider.
type Registry struct {
	resolver CredentialResolver

	mu       sync.RWMutex
	builders map[string]Builder
}

func NewRegistry(resolver CredentialResolver) *Registry {
	return &Registry{resolver: resolver, builders: make(map[string]Builder)}
}

// Register binds a provider name to a builder, replacing any previous one.
func (r *Registry) Register(provider string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[provider] = b
}

func (r *Registry) ForAccount(ctx context.Context, account *models.StorageAccountConfig) (Client, error) {
	r.mu.RLock()
	b, ok := r.builders[account.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, NewError(models.KindConfigUnavailable, "open", fmt.Errorf("no client for provider %q", account.Provider))
	}

	creds, err := r.resolver.Resolve(ctx, account.CredentialsRef)
	if err != nil {
		return nil, err
	}

	return b(ctx, account, creds)
}
