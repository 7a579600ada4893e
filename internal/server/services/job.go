package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/dmitrijs2005/mediasync/internal/filex"
	"github.com/dmitrijs2005/mediasync/internal/logging"
	"github.com/dmitrijs2005/mediasync/internal/server/models"
	"github.com/dmitrijs2005/mediasync/internal/server/notify"
	"github.com/dmitrijs2005/mediasync/internal/server/quota"
	"github.com/dmitrijs2005/mediasync/internal/server/remote"
)

// transfer is the outcome of a successful attempt.
type transfer struct {
	client remote.Client
	result remote.UploadResult
	// live is the provider usage observed before the transfer.
	live quota.Usage
	size int64
}

// step is the retry decision for a failed attempt.
type step struct {
	retry  bool
	status models.JobStatus
	kind   models.ErrorKind
}

// nextStep decides what follows a failed attempt. Only transient kinds are
// retried, up to MaxRetries; an unclassified failure is retried once.
func nextStep(kind models.ErrorKind, retryAfter, backoffMax time.Duration, retries, maxRetries, unclassified int) step {
	if kind.Class() != models.Transient {
		return step{status: kind.TerminalStatus(), kind: kind}
	}
	if kind == models.KindUnclassified && unclassified > 1 {
		return step{status: models.JobFailed, kind: kind}
	}
	if kind == models.KindRateLimited && backoffMax > 0 && retryAfter > backoffMax {
		return step{status: models.JobRateLimited, kind: kind}
	}
	if retries >= maxRetries {
		return step{status: models.JobFailed, kind: kind}
	}
	return step{retry: true}
}

func (s *UploadService) newBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.cfg.BackoffInitial,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         s.cfg.BackoffMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func (s *UploadService) process(ctx context.Context, jobID string) {
	r := s.lookup(jobID)
	if r == nil {
		return
	}

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r.mu.Lock()
	if r.job.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.cancel = cancel
	job := r.job.Clone()
	r.mu.Unlock()

	defer s.finish(r)

	log := s.log.With("job_id", job.ID, "account_id", job.TargetAccountID)

	if err := job.Validate(); err != nil {
		log.Error(ctx, "malformed job record", "job", job, "error", err)
		s.failJob(jobCtx, r, remote.NewError(models.KindInternal, "validate", err), models.JobFailed, log)
		return
	}

	watchCtx, stopWatch := context.WithCancel(jobCtx)
	defer stopWatch()
	go s.watchAccount(watchCtx, r, job.TargetAccountID)

	s.execute(jobCtx, r, log)
}

// execute runs attempts until the job reaches a terminal state or the
// service shuts down.
func (s *UploadService) execute(ctx context.Context, r *run, log logging.Logger) {
	bo := s.newBackOff()
	co := notify.NewCoalescer(s.cfg.ProgressThreshold)
	unclassified := 0

	for {
		r.mu.Lock()
		attempt := r.job.RetryCount + 1
		r.mu.Unlock()

		log.Debug(ctx, "attempt started", "attempt", attempt)
		tr, err := s.attempt(ctx, r, co, log)

		if errors.Is(err, common.ErrAlreadyTerminal) {
			s.adoptStored(ctx, r, log)
			return
		}

		if err == nil {
			r.mu.Lock()
			live := ctx.Err() == nil
			if live {
				r.finalized = true
			}
			r.mu.Unlock()
			if live {
				s.complete(ctx, r, tr, log)
				return
			}
		}

		if ctx.Err() != nil {
			s.interrupted(ctx, r, tr, err, log)
			return
		}

		kind := remote.KindOf(err)
		if kind == models.KindUnclassified {
			unclassified++
		}
		retryAfter := remote.RetryAfterOf(err)

		r.mu.Lock()
		retries := r.job.RetryCount
		r.mu.Unlock()

		st := nextStep(kind, retryAfter, s.cfg.BackoffMax, retries, s.cfg.MaxRetries, unclassified)
		if !st.retry {
			var re *remote.Error
			if !errors.As(err, &re) || re.Kind != st.kind {
				re = remote.NewError(st.kind, "upload", err)
			}
			s.failJob(ctx, r, re, st.status, log)
			return
		}

		wait := bo.NextBackOff()
		if retryAfter > wait {
			wait = retryAfter
		}

		r.mu.Lock()
		r.job.RetryCount++
		snap := r.job.Clone()
		r.mu.Unlock()
		s.persist(ctx, snap)

		log.Warn(ctx, "attempt failed, retrying",
			"attempt", attempt, "kind", string(kind), "wait", wait.String(), "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			s.interrupted(ctx, r, nil, ctx.Err(), log)
			return
		}
	}
}

// attempt performs config-resolve, quota-check and transfer once. Progress
// goes through the job's coalescer co.
func (s *UploadService) attempt(ctx context.Context, r *run, co *notify.Coalescer, log logging.Logger) (*transfer, error) {
	r.mu.Lock()
	job := r.job.Clone()
	r.mu.Unlock()

	account, err := s.store.LoadConfig(ctx, job.TargetAccountID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, remote.NewError(models.KindConfigUnavailable, "config", err)
	}
	if err != nil {
		return nil, remote.NewError(models.KindUnclassified, "config", err)
	}
	if !account.Usable() {
		return nil, remote.NewError(models.KindConfigUnavailable, "config",
			fmt.Errorf("account %s is %v", account.ID, account.Status))
	}

	size, err := filex.SourceSize(job.SourceFilePath)
	if err != nil {
		return nil, remote.NewError(models.KindSourceMissing, "source", err)
	}
	contentType := filex.ContentType(job.SourceFilePath)

	client, live, err := s.liveQuota(ctx, account)
	if err != nil {
		return nil, err
	}

	if d := quota.Check(live.Limit, live.Used, size); !d.Allowed {
		return nil, &remote.Error{
			Kind:      models.KindQuotaExceeded,
			Op:        "quota",
			Err:       fmt.Errorf("need %d bytes, %d available", d.Required, d.Available),
			Required:  d.Required,
			Available: d.Available,
		}
	}

	r.mu.Lock()
	phase := notify.PhaseRetrying
	if r.job.Status == models.JobPending {
		if err := r.job.Transition(models.JobUploading, s.now().UTC()); err != nil {
			r.mu.Unlock()
			return nil, remote.NewError(models.KindInternal, "start", err)
		}
		phase = notify.PhaseStarting
	}
	if r.job.TargetFolderID == "" {
		r.job.TargetFolderID = account.DefaultFolderID
	}
	r.job.BytesTotal = size
	r.job.Progress(0)
	snap := r.job.Clone()
	r.mu.Unlock()

	if phase == notify.PhaseStarting {
		// another process may have cancelled the queued job
		if err := s.store.Save(context.WithoutCancel(ctx), snap); errors.Is(err, common.ErrAlreadyTerminal) {
			return nil, err
		} else if err != nil {
			log.Error(ctx, "persist job", "status", snap.Status.String(), "error", err)
		}
	} else {
		s.persist(ctx, snap)
	}

	// A retried attempt forwards nothing until progress passes the
	// coalescer; the first value that does carries the retrying phase.
	if co.Accept(0) {
		s.notifyProgress(ctx, snap.ID, 0, phase)
		phase = notify.PhaseUploading
	}

	progress := func(n int64) {
		r.mu.Lock()
		p := r.job.Progress(n)
		forward := co.Accept(p)
		var cp *models.UploadJob
		ph := phase
		if forward {
			cp = r.job.Clone()
			phase = notify.PhaseUploading
		}
		r.mu.Unlock()
		if forward {
			s.notifyProgress(ctx, cp.ID, p, ph)
			s.persist(ctx, cp)
		}
	}

	upCtx, cancel := s.withTimeout(ctx, s.cfg.UploadTimeout)
	defer cancel()

	res, err := client.UploadFile(upCtx, remote.UploadRequest{
		Path:        snap.SourceFilePath,
		Name:        snap.TargetName,
		FolderID:    snap.TargetFolderID,
		ContentType: contentType,
		Size:        size,
		ChunkSize:   s.cfg.ChunkSize,
	}, progress)
	if err != nil {
		return &transfer{client: client}, err
	}

	log.Debug(ctx, "transfer finished", "remote_id", res.RemoteID, "bytes", res.Size)
	return &transfer{client: client, result: res, live: live, size: size}, nil
}

// liveQuota opens a session for account and asks the provider for the
// authoritative usage.
func (s *UploadService) liveQuota(ctx context.Context, account *models.StorageAccountConfig) (remote.Client, quota.Usage, error) {
	client, err := s.factory.ForAccount(ctx, account)
	if err != nil {
		return nil, quota.Usage{}, err
	}

	callCtx, cancel := s.withTimeout(ctx, s.cfg.RemoteCallTimeout)
	err = client.Authenticate(callCtx)
	cancel()
	if err != nil {
		return nil, quota.Usage{}, err
	}

	callCtx, cancel = s.withTimeout(ctx, s.cfg.RemoteCallTimeout)
	usage, err := client.GetQuota(callCtx)
	cancel()
	if err != nil {
		return nil, quota.Usage{}, err
	}
	return client, usage, nil
}

func (s *UploadService) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// complete records a finalized transfer: job first, then the account's
// cached quota, then the notification. The caller marks r finalized.
func (s *UploadService) complete(ctx context.Context, r *run, tr *transfer, log logging.Logger) {
	transferred := tr.result.Size
	if transferred <= 0 {
		callCtx, cancel := s.withTimeout(ctx, s.cfg.RemoteCallTimeout)
		fi, err := tr.client.GetFile(callCtx, tr.result.RemoteID)
		cancel()
		if err == nil && fi.Size > 0 {
			transferred = fi.Size
		} else {
			transferred = tr.size
		}
	}

	now := s.now().UTC()

	r.mu.Lock()
	if err := r.job.Complete(tr.result.RemoteID, tr.result.Link, transferred, now); err != nil {
		r.mu.Unlock()
		log.Error(ctx, "complete job", "job", r.job.Snapshot(), "error", err)
		return
	}
	snap := r.job.Clone()
	r.mu.Unlock()

	s.persist(ctx, snap)

	_, err := s.store.UpdateConfig(context.WithoutCancel(ctx), snap.TargetAccountID, func(c *models.StorageAccountConfig) error {
		u := quota.Apply(tr.live, transferred)
		c.QuotaUsed = u.Used
		c.QuotaLimit = u.Limit
		c.LastUsed = now
		return nil
	})
	if err != nil {
		log.Error(ctx, "update account quota", "error", err)
	}

	log.Info(ctx, "job completed", "remote_id", snap.RemoteID, "bytes", transferred, "retries", snap.RetryCount)

	c := notify.Completion{RemoteID: snap.RemoteID, Link: snap.RemoteLink, Bytes: transferred}
	if err := s.notifier.NotifyCompleted(context.WithoutCancel(ctx), snap.ID, c); err != nil {
		log.Warn(ctx, "notify completed", "error", err)
	}
}

// interrupted handles an attempt whose context ended. A cancel or a
// withdrawn account fails the job; a shutdown leaves the persisted record
// for Resume unless the provider already finalized the object. A transfer
// finalized despite a cancel is removed on a best-effort basis.
func (s *UploadService) interrupted(ctx context.Context, r *run, tr *transfer, err error, log logging.Logger) {
	var cause *remote.Error
	if !errors.As(context.Cause(ctx), &cause) {
		if err == nil && tr != nil && tr.result.RemoteID != "" {
			r.mu.Lock()
			r.finalized = true
			r.mu.Unlock()
			s.complete(ctx, r, tr, log)
			return
		}
		log.Info(ctx, "job interrupted by shutdown", "error", err)
		return
	}

	if tr != nil && tr.result.RemoteID != "" {
		delCtx, cancel := s.withTimeout(context.WithoutCancel(ctx), s.cfg.RemoteCallTimeout)
		if derr := tr.client.DeleteFile(delCtx, tr.result.RemoteID); derr != nil {
			log.Warn(ctx, "remove cancelled upload", "remote_id", tr.result.RemoteID, "error", derr)
		}
		cancel()
	}

	s.failJob(ctx, r, cause, cause.Kind.TerminalStatus(), log)
}

// adoptStored takes over the terminal state another process recorded for
// a job that was still queued here. That process already notified it.
func (s *UploadService) adoptStored(ctx context.Context, r *run, log logging.Logger) {
	stored, err := s.store.Get(context.WithoutCancel(ctx), r.job.ID)

	r.mu.Lock()
	if err == nil {
		r.job = stored
	}
	r.finalized = true
	status := r.job.Status
	r.mu.Unlock()

	if err != nil {
		log.Error(ctx, "reload job ended elsewhere", "error", err)
		return
	}
	log.Info(ctx, "job ended by another process", "status", status.String(), "kind", string(stored.ErrorKind))
}

// failJob moves the job to status, persists and reports it. An AuthError
// also puts the account into Error.
func (s *UploadService) failJob(ctx context.Context, r *run, re *remote.Error, status models.JobStatus, log logging.Logger) {
	now := s.now().UTC()

	r.mu.Lock()
	if err := r.job.Fail(status, re.Kind, re.Error(), now); err != nil {
		// malformed records may not transition; force the terminal state
		r.job.Status = status
		r.job.ErrorKind = re.Kind
		r.job.ErrorMessage = re.Error()
		r.job.CompletedAt = now
	}
	r.finalized = true
	snap := r.job.Clone()
	r.mu.Unlock()

	s.persist(ctx, snap)

	log.Warn(ctx, "job failed", "status", snap.Status.String(), "kind", string(re.Kind), "retries", snap.RetryCount, "error", re.Err)

	if re.Kind == models.KindAuth {
		s.markAccountError(ctx, snap.TargetAccountID, re.Error(), log)
	}

	s.notifyFailed(ctx, snap, re.Required, re.Available)
}

func (s *UploadService) markAccountError(ctx context.Context, accountID, msg string, log logging.Logger) {
	_, err := s.store.UpdateConfig(context.WithoutCancel(ctx), accountID, func(c *models.StorageAccountConfig) error {
		c.MarkError(msg, s.now().UTC())
		return nil
	})
	if err != nil {
		log.Error(ctx, "mark account error", "account_id", accountID, "error", err)
	}
}

// watchAccount cancels the job once its account disappears or stops being
// Active.
func (s *UploadService) watchAccount(ctx context.Context, r *run, accountID string) {
	if s.cfg.ConfigPollInterval <= 0 {
		return
	}
	t := time.NewTicker(s.cfg.ConfigPollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			acc, err := s.store.LoadConfig(ctx, accountID)
			if errors.Is(err, common.ErrorNotFound) || (err == nil && !acc.Usable()) {
				r.mu.Lock()
				if !r.finalized {
					r.cancel(errConfigWithdrawn)
				}
				r.mu.Unlock()
				return
			}
		}
	}
}
