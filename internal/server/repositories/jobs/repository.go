package jobs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/server/models"
)

// Repository persists upload jobs. Save is an upsert that refuses to touch a
// row already in a terminal state, and refuses a second pending or uploading
// job for the same account with ErrConflict.
type Repository interface {
	Save(ctx context.Context, job *models.UploadJob) error
	// FailPending moves a job that is still pending to failed. A job in any
	// other state is left alone and ErrInvalidTransition is returned.
	FailPending(ctx context.Context, id string, kind models.ErrorKind, message string, at time.Time) error
	Get(ctx context.Context, id string) (*models.UploadJob, error)
	LoadByAccount(ctx context.Context, accountID string) ([]*models.UploadJob, error)
	LoadByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.UploadJob, error)
}
