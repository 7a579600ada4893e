package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/dmitrijs2005/mediasync/internal/filex"
	"github.com/dmitrijs2005/mediasync/internal/logging"
	"github.com/dmitrijs2005/mediasync/internal/server/config"
	"github.com/dmitrijs2005/mediasync/internal/server/models"
	"github.com/dmitrijs2005/mediasync/internal/server/notify"
	"github.com/dmitrijs2005/mediasync/internal/server/remote"
	"github.com/dmitrijs2005/mediasync/internal/server/repositories/repomanager"
)

// Cancellation causes the orchestrator attaches to a job context. Any other
// cause means the service itself is shutting down.
var (
	errCancelRequested = remote.NewError(models.KindCancelled, "cancel", errors.New("cancelled by request"))
	errConfigWithdrawn = remote.NewError(models.KindConfigUnavailable, "watch", errors.New("account is no longer active"))
)

// SubmitRequest describes a file to upload.
type SubmitRequest struct {
	SourcePath string
	// AccountID may be empty to use the owner's default account.
	AccountID string
	OwnerID   string
	FolderID  string
	// Title is a human-readable name the upload name is derived from.
	Title      string
	TargetName string
}

// run is the in-process state of one active job.
type run struct {
	mu        sync.Mutex
	job       *models.UploadJob
	cancel    context.CancelCauseFunc
	started   bool
	finalized bool

	once sync.Once
	done chan struct{}
}

// UploadService drives upload jobs from submission to a terminal state.
// At most one job per account is active at a time.
type UploadService struct {
	store    repomanager.Store
	factory  remote.Factory
	notifier notify.Notifier
	log      logging.Logger
	cfg      *config.Config
	now      func() time.Time

	tokens *accountTokens
	slots  chan struct{}
	queue  chan string

	mu     sync.Mutex
	active map[string]*run
	closed bool
}

func NewUploadService(store repomanager.Store, factory remote.Factory, notifier notify.Notifier, log logging.Logger, cfg *config.Config) *UploadService {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	return &UploadService{
		store:    store,
		factory:  factory,
		notifier: notifier,
		log:      log.With("module", "upload"),
		cfg:      cfg,
		now:      time.Now,
		tokens:   newAccountTokens(),
		slots:    make(chan struct{}, size),
		queue:    make(chan string, size),
		active:   make(map[string]*run),
	}
}

// Submit records a Pending job and queues it. It fails with ErrConflict,
// creating nothing, when the account already has an active job.
func (s *UploadService) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.SourcePath == "" {
		return "", errors.New("submit: source path is required")
	}

	accountID := req.AccountID
	if accountID == "" {
		acc, err := s.store.LoadDefaultConfig(ctx, req.OwnerID)
		if err != nil {
			return "", fmt.Errorf("default account of %q: %w", req.OwnerID, err)
		}
		accountID = acc.ID
	}

	source := filex.Resolve(s.cfg.MediaRoot, req.SourcePath)
	display := req.Title
	if display == "" {
		display = filepath.Base(source)
	}

	job := &models.UploadJob{
		ID:              uuid.NewString(),
		SourceFilePath:  source,
		DisplayName:     display,
		TargetName:      ResolveUploadName(req.TargetName, req.Title, source),
		TargetAccountID: accountID,
		TargetFolderID:  req.FolderID,
		Status:          models.JobPending,
		CreatedAt:       s.now().UTC(),
	}

	if s.isClosed() {
		return "", common.ErrClosed
	}

	if holder, ok := s.tokens.acquire(accountID, job.ID); !ok {
		return "", fmt.Errorf("account %s is busy with %s: %w", accountID, holder, common.ErrConflict)
	}

	// The token only covers this process; a job persisted before Resume or
	// by another process still holds the account.
	if err := s.checkStoredActive(ctx, accountID); err != nil {
		s.tokens.release(accountID, job.ID)
		return "", err
	}

	select {
	case s.slots <- struct{}{}:
	default:
		s.tokens.release(accountID, job.ID)
		return "", common.ErrQueueFull
	}

	// Save enforces the same rule for concurrent submitters in other
	// processes and fails with ErrConflict.
	if err := s.store.Save(ctx, job); err != nil {
		<-s.slots
		s.tokens.release(accountID, job.ID)
		return "", fmt.Errorf("save job: %w", err)
	}

	if err := s.enqueue(job); err != nil {
		<-s.slots
		s.tokens.release(accountID, job.ID)
		return "", err
	}

	s.log.Info(ctx, "job submitted", "job_id", job.ID, "account_id", accountID, "name", job.TargetName)
	return job.ID, nil
}

func (s *UploadService) checkStoredActive(ctx context.Context, accountID string) error {
	stored, err := s.store.LoadByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load jobs of %s: %w", accountID, err)
	}
	for _, j := range stored {
		if j.Status.Active() {
			return fmt.Errorf("account %s has %v job %s: %w", accountID, j.Status, j.ID, common.ErrConflict)
		}
	}
	return nil
}

// enqueue tracks job as active and hands it to the workers. The caller
// holds the account token and a queue slot.
func (s *UploadService) enqueue(job *models.UploadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return common.ErrClosed
	}
	s.active[job.ID] = &run{job: job, done: make(chan struct{})}
	s.queue <- job.ID
	return nil
}

func (s *UploadService) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *UploadService) lookup(jobID string) *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[jobID]
}

// finish drops r from the active set and releases its account token.
func (s *UploadService) finish(r *run) {
	r.once.Do(func() {
		s.mu.Lock()
		delete(s.active, r.job.ID)
		s.mu.Unlock()
		s.tokens.release(r.job.TargetAccountID, r.job.ID)
		close(r.done)
	})
}

// GetStatus returns a read-only copy of the job's current state.
func (s *UploadService) GetStatus(ctx context.Context, jobID string) (models.JobSnapshot, error) {
	if r := s.lookup(jobID); r != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.job.Snapshot(), nil
	}
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return models.JobSnapshot{}, fmt.Errorf("job %s: %w", jobID, err)
	}
	return job.Snapshot(), nil
}

// Wait blocks until the job leaves the active set, then returns its state.
func (s *UploadService) Wait(ctx context.Context, jobID string) (models.JobSnapshot, error) {
	if r := s.lookup(jobID); r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return models.JobSnapshot{}, ctx.Err()
		}
	}
	return s.GetStatus(ctx, jobID)
}

// ListJobs returns the account's jobs, oldest first, with live state for
// the active one.
func (s *UploadService) ListJobs(ctx context.Context, accountID string) ([]models.JobSnapshot, error) {
	jobs, err := s.store.LoadByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load jobs of %s: %w", accountID, err)
	}
	out := make([]models.JobSnapshot, 0, len(jobs))
	for _, j := range jobs {
		if r := s.lookup(j.ID); r != nil {
			r.mu.Lock()
			out = append(out, r.job.Snapshot())
			r.mu.Unlock()
			continue
		}
		out = append(out, j.Snapshot())
	}
	return out, nil
}

// Cancel aborts a Pending or Uploading job. A job whose object the provider
// already finalized cannot be cancelled. A job this process does not run is
// cancelled only while the store still has it Pending; one that another
// process is uploading yields ErrNotOwned.
func (s *UploadService) Cancel(ctx context.Context, jobID string) error {
	if r := s.lookup(jobID); r != nil {
		return s.abort(ctx, r, errCancelRequested)
	}

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("cancel %s: %w", jobID, err)
	}
	switch {
	case job.Status.Terminal():
		return fmt.Errorf("cancel %s: %w", jobID, common.ErrAlreadyTerminal)
	case job.Status == models.JobUploading:
		return fmt.Errorf("cancel %s: %w", jobID, common.ErrNotOwned)
	}

	now := s.now().UTC()
	err = s.store.FailPending(ctx, jobID, models.KindCancelled, errCancelRequested.Error(), now)
	if errors.Is(err, common.ErrInvalidTransition) {
		return fmt.Errorf("cancel %s: job left pending: %w", jobID, common.ErrNotOwned)
	}
	if err != nil {
		return fmt.Errorf("cancel %s: %w", jobID, err)
	}

	if err := job.Fail(models.JobFailed, models.KindCancelled, errCancelRequested.Error(), now); err != nil {
		return fmt.Errorf("cancel %s: %w", jobID, err)
	}
	s.log.Info(ctx, "queued job cancelled", "job_id", jobID, "account_id", job.TargetAccountID)
	s.notifyFailed(ctx, job, 0, 0)
	return nil
}

// abort ends r with cause. A job still waiting for a worker fails at once;
// a running job is interrupted and its worker records the failure.
func (s *UploadService) abort(ctx context.Context, r *run, cause *remote.Error) error {
	r.mu.Lock()
	if r.finalized || r.job.Status.Terminal() {
		r.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", r.job.ID, common.ErrAlreadyTerminal)
	}

	if r.started {
		r.cancel(cause)
		r.mu.Unlock()
		return nil
	}

	if err := r.job.Fail(cause.Kind.TerminalStatus(), cause.Kind, cause.Error(), s.now().UTC()); err != nil {
		r.mu.Unlock()
		return err
	}
	r.finalized = true
	snap := r.job.Clone()
	r.mu.Unlock()

	s.persist(ctx, snap)
	s.finish(r)
	s.notifyFailed(ctx, snap, 0, 0)
	return nil
}

// Run starts the worker pool and blocks until ctx is cancelled or Close
// drains the queue.
func (s *UploadService) Run(ctx context.Context) error {
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			s.worker(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (s *UploadService) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-s.queue:
			if !ok {
				return
			}
			<-s.slots
			s.process(ctx, id)
		}
	}
}

// Close stops accepting jobs. Workers exit once the queue is drained.
func (s *UploadService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

func (s *UploadService) persist(ctx context.Context, job *models.UploadJob) {
	if err := s.store.Save(context.WithoutCancel(ctx), job); err != nil {
		s.log.Error(ctx, "persist job", "job_id", job.ID, "status", job.Status.String(), "error", err)
	}
}

func (s *UploadService) notifyFailed(ctx context.Context, job *models.UploadJob, required, available int64) {
	f := notify.Failure{
		Status:         job.Status,
		Kind:           job.ErrorKind,
		Message:        job.ErrorMessage,
		RequiredBytes:  required,
		AvailableBytes: available,
	}
	if err := s.notifier.NotifyFailed(context.WithoutCancel(ctx), job.ID, f); err != nil {
		s.log.Warn(ctx, "notify failed", "job_id", job.ID, "error", err)
	}
}

func (s *UploadService) notifyProgress(ctx context.Context, jobID string, percent float64, phase notify.Phase) {
	if err := s.notifier.NotifyProgress(ctx, jobID, percent, phase); err != nil {
		s.log.Warn(ctx, "notify progress", "job_id", jobID, "error", err)
	}
}
