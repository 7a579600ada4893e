package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/dmitrijs2005/mediasync/internal/server/models"
)

// MemoryRepository keeps jobs in process memory with the same semantics as
// PostgresRepository. Stored and returned jobs are copies.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*models.UploadJob
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]*models.UploadJob)}
}

func (r *MemoryRepository) Save(ctx context.Context, job *models.UploadJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.jobs[job.ID]
	if ok && cur.Status.Terminal() {
		return common.ErrAlreadyTerminal
	}

	account := job.TargetAccountID
	if ok {
		account = cur.TargetAccountID
	}
	if job.Status.Active() {
		for id, other := range r.jobs {
			if id != job.ID && other.TargetAccountID == account && other.Status.Active() {
				return fmt.Errorf("account %s: %w", account, common.ErrConflict)
			}
		}
	}

	if ok {
		next := job.Clone()
		next.SourceFilePath = cur.SourceFilePath
		next.DisplayName = cur.DisplayName
		next.TargetName = cur.TargetName
		next.TargetAccountID = cur.TargetAccountID
		next.CreatedAt = cur.CreatedAt
		r.jobs[job.ID] = next
		return nil
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryRepository) FailPending(ctx context.Context, id string, kind models.ErrorKind, message string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.jobs[id]
	if !ok {
		return common.ErrorNotFound
	}
	if cur.Status != models.JobPending {
		return fmt.Errorf("job %s is not pending: %w", id, common.ErrInvalidTransition)
	}
	next := cur.Clone()
	if err := next.Fail(models.JobFailed, kind, message, at.UTC()); err != nil {
		return err
	}
	r.jobs[id] = next
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.UploadJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return j.Clone(), nil
}

func (r *MemoryRepository) LoadByAccount(ctx context.Context, accountID string) ([]*models.UploadJob, error) {
	return r.filter(func(j *models.UploadJob) bool { return j.TargetAccountID == accountID }), nil
}

func (r *MemoryRepository) LoadByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.UploadJob, error) {
	return r.filter(func(j *models.UploadJob) bool {
		for _, s := range statuses {
			if j.Status == s {
				return true
			}
		}
		return false
	}), nil
}

func (r *MemoryRepository) filter(keep func(*models.UploadJob) bool) []*models.UploadJob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.UploadJob
	for _, j := range r.jobs {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}
