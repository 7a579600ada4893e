package accounts

import (
	"context"

	"github.com/dmitrijs2005/mediasync/internal/server/models"
)

// Repository persists storage-account configs with optimistic versioning:
// Save with a stale Version fails with ErrVersionConflict.
type Repository interface {
	Get(ctx context.Context, id string) (*models.StorageAccountConfig, error)
	// GetForUpdate is Get that also locks the row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.StorageAccountConfig, error)
	GetDefault(ctx context.Context, ownerID string) (*models.StorageAccountConfig, error)
	List(ctx context.Context) ([]*models.StorageAccountConfig, error)
	Save(ctx context.Context, cfg *models.StorageAccountConfig) error
}
