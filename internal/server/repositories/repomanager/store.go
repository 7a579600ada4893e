package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/dbx"
	"github.com/dmitrijs2005/mediasync/internal/server/models"
	"github.com/dmitrijs2005/mediasync/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/mediasync/internal/server/repositories/jobs"
)

// Store is the durable record of jobs and account configs.
type Store interface {
	// Save returns ErrConflict when another job of the account is already
	// pending or uploading.
	Save(ctx context.Context, job *models.UploadJob) error
	// FailPending fails the job only if it is still pending.
	FailPending(ctx context.Context, jobID string, kind models.ErrorKind, message string, at time.Time) error
	Get(ctx context.Context, jobID string) (*models.UploadJob, error)
	LoadByAccount(ctx context.Context, accountID string) ([]*models.UploadJob, error)
	LoadByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.UploadJob, error)

	// LoadConfig returns ErrorNotFound when the account does not exist.
	LoadConfig(ctx context.Context, accountID string) (*models.StorageAccountConfig, error)
	LoadDefaultConfig(ctx context.Context, ownerID string) (*models.StorageAccountConfig, error)
	ListConfigs(ctx context.Context) ([]*models.StorageAccountConfig, error)
	SaveConfig(ctx context.Context, cfg *models.StorageAccountConfig) error
	// UpdateConfig applies fn to the current config and persists the result
	// atomically. If fn returns an error nothing is written.
	UpdateConfig(ctx context.Context, accountID string, fn func(*models.StorageAccountConfig) error) (*models.StorageAccountConfig, error)
}

// SQLStore is a Store over a *sql.DB using the manager's repositories.
type SQLStore struct {
	db *sql.DB
	rm RepositoryManager
}

func NewSQLStore(db *sql.DB, rm RepositoryManager) *SQLStore {
	return &SQLStore{db: db, rm: rm}
}

func (s *SQLStore) Save(ctx context.Context, job *models.UploadJob) error {
	return s.rm.Jobs(s.db).Save(ctx, job)
}

func (s *SQLStore) FailPending(ctx context.Context, jobID string, kind models.ErrorKind, message string, at time.Time) error {
	return s.rm.Jobs(s.db).FailPending(ctx, jobID, kind, message, at)
}

func (s *SQLStore) Get(ctx context.Context, jobID string) (*models.UploadJob, error) {
	return s.rm.Jobs(s.db).Get(ctx, jobID)
}

func (s *SQLStore) LoadByAccount(ctx context.Context, accountID string) ([]*models.UploadJob, error) {
	return s.rm.Jobs(s.db).LoadByAccount(ctx, accountID)
}

func (s *SQLStore) LoadByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.UploadJob, error) {
	return s.rm.Jobs(s.db).LoadByStatus(ctx, statuses...)
}

func (s *SQLStore) LoadConfig(ctx context.Context, accountID string) (*models.StorageAccountConfig, error) {
	return s.rm.Accounts(s.db).Get(ctx, accountID)
}

func (s *SQLStore) LoadDefaultConfig(ctx context.Context, ownerID string) (*models.StorageAccountConfig, error) {
	return s.rm.Accounts(s.db).GetDefault(ctx, ownerID)
}

func (s *SQLStore) ListConfigs(ctx context.Context) ([]*models.StorageAccountConfig, error) {
	return s.rm.Accounts(s.db).List(ctx)
}

func (s *SQLStore) SaveConfig(ctx context.Context, cfg *models.StorageAccountConfig) error {
	return s.rm.Accounts(s.db).Save(ctx, cfg)
}

// UpdateConfig locks the row for the duration of fn.
func (s *SQLStore) UpdateConfig(ctx context.Context, accountID string, fn func(*models.StorageAccountConfig) error) (*models.StorageAccountConfig, error) {
	var out *models.StorageAccountConfig
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.rm.Accounts(tx)
		cfg, err := repo.GetForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		if err := repo.Save(ctx, cfg); err != nil {
			return fmt.Errorf("save account %s: %w", accountID, err)
		}
		out = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MemoryStore keeps everything in process memory. It backs single-node runs
// without a database and the orchestrator tests.
type MemoryStore struct {
	jobs     *jobs.MemoryRepository
	accounts *accounts.MemoryRepository

	// update serializes UpdateConfig the way a row lock would.
	update sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: jobs.NewMemoryRepository(), accounts: accounts.NewMemoryRepository()}
}

func (s *MemoryStore) Save(ctx context.Context, job *models.UploadJob) error {
	return s.jobs.Save(ctx, job)
}

func (s *MemoryStore) FailPending(ctx context.Context, jobID string, kind models.ErrorKind, message string, at time.Time) error {
	return s.jobs.FailPending(ctx, jobID, kind, message, at)
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*models.UploadJob, error) {
	return s.jobs.Get(ctx, jobID)
}

func (s *MemoryStore) LoadByAccount(ctx context.Context, accountID string) ([]*models.UploadJob, error) {
	return s.jobs.LoadByAccount(ctx, accountID)
}

func (s *MemoryStore) LoadByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.UploadJob, error) {
	return s.jobs.LoadByStatus(ctx, statuses...)
}

func (s *MemoryStore) LoadConfig(ctx context.Context, accountID string) (*models.StorageAccountConfig, error) {
	return s.accounts.Get(ctx, accountID)
}

func (s *MemoryStore) LoadDefaultConfig(ctx context.Context, ownerID string) (*models.StorageAccountConfig, error) {
	return s.accounts.GetDefault(ctx, ownerID)
}

func (s *MemoryStore) ListConfigs(ctx context.Context) ([]*models.StorageAccountConfig, error) {
	return s.accounts.List(ctx)
}

func (s *MemoryStore) SaveConfig(ctx context.Context, cfg *models.StorageAccountConfig) error {
	return s.accounts.Save(ctx, cfg)
}

func (s *MemoryStore) UpdateConfig(ctx context.Context, accountID string, fn func(*models.StorageAccountConfig) error) (*models.StorageAccountConfig, error) {
	s.update.Lock()
	defer s.update.Unlock()

	cfg, err := s.accounts.GetForUpdate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := fn(cfg); err != nil {
		return nil, err
	}
	if err := s.accounts.Save(ctx, cfg); err != nil {
		return nil, fmt.Errorf("save account %s: %w", accountID, err)
	}
	return cfg, nil
}
