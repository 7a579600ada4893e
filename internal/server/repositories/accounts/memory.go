package accounts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/dmitrijs2005/mediasync/internal/server/models"
)

// MemoryRepository is the in-process counterpart of PostgresRepository.
// GetForUpdate does not lock; callers serialize through the Store.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]*models.StorageAccountConfig
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[string]*models.StorageAccountConfig), now: time.Now}
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.StorageAccountConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.accounts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return c.Clone(), nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, id string) (*models.StorageAccountConfig, error) {
	return r.Get(ctx, id)
}

func (r *MemoryRepository) GetDefault(ctx context.Context, ownerID string) (*models.StorageAccountConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.accounts {
		if c.OwnerID == ownerID && c.IsDefault {
			return c.Clone(), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) List(ctx context.Context) ([]*models.StorageAccountConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.StorageAccountConfig, 0, len(r.accounts))
	for _, c := range r.accounts {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (r *MemoryRepository) Save(ctx context.Context, cfg *models.StorageAccountConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	cur, exists := r.accounts[cfg.ID]
	switch {
	case cfg.Version == 0 && exists:
		return common.ErrVersionConflict
	case cfg.Version != 0 && (!exists || cur.Version != cfg.Version):
		return common.ErrVersionConflict
	}

	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.Version++
	cfg.UpdatedAt = now
	r.accounts[cfg.ID] = cfg.Clone()
	return nil
}
