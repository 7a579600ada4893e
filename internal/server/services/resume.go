package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mediasync/internal/server/models"
)

var errInterrupted = errors.New("upload interrupted by restart")

// Resume picks up jobs a previous process left active. Pending jobs are
// queued as they are; an interrupted Uploading job counts as a failed
// attempt and is retried from scratch unless the retry ceiling is reached.
// Accounts left Syncing return to Active. Resume blocks while the queue is
// full, so workers must already be running. It returns the number of jobs
// queued.
func (s *UploadService) Resume(ctx context.Context) (int, error) {
	if err := s.releaseStaleSyncs(ctx); err != nil {
		return 0, err
	}

	jobs, err := s.store.LoadByStatus(ctx, models.JobPending, models.JobUploading)
	if err != nil {
		return 0, fmt.Errorf("load active jobs: %w", err)
	}

	queued := 0
	for _, job := range jobs {
		if s.lookup(job.ID) != nil {
			continue
		}
		log := s.log.With("job_id", job.ID, "account_id", job.TargetAccountID)

		if err := job.Validate(); err != nil {
			log.Error(ctx, "malformed job record", "job", job, "error", err)
			s.failStored(ctx, job, models.KindInternal, err.Error())
			continue
		}

		if job.Status == models.JobUploading {
			if job.RetryCount >= s.cfg.MaxRetries {
				s.failStored(ctx, job, models.KindRemoteUnavailable, errInterrupted.Error())
				continue
			}
			job.RetryCount++
		}

		if holder, ok := s.tokens.acquire(job.TargetAccountID, job.ID); !ok {
			log.Error(ctx, "second active job for account", "holder", holder)
			s.failStored(ctx, job, models.KindInternal, fmt.Sprintf("account already has active job %s", holder))
			continue
		}

		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			s.tokens.release(job.TargetAccountID, job.ID)
			return queued, ctx.Err()
		}

		if err := s.store.Save(ctx, job); err != nil {
			<-s.slots
			s.tokens.release(job.TargetAccountID, job.ID)
			return queued, fmt.Errorf("save job %s: %w", job.ID, err)
		}

		if err := s.enqueue(job); err != nil {
			<-s.slots
			s.tokens.release(job.TargetAccountID, job.ID)
			return queued, err
		}

		log.Info(ctx, "job resumed", "status", job.Status.String(), "retries", job.RetryCount)
		queued++
	}
	return queued, nil
}

func (s *UploadService) releaseStaleSyncs(ctx context.Context) error {
	configs, err := s.store.ListConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, c := range configs {
		if c.Status != models.AccountSyncing {
			continue
		}
		if _, held := s.tokens.holder(c.ID); held {
			continue
		}
		_, err := s.store.UpdateConfig(ctx, c.ID, func(c *models.StorageAccountConfig) error {
			return c.AbortSync(s.now().UTC())
		})
		if err != nil {
			return fmt.Errorf("release sync of %s: %w", c.ID, err)
		}
	}
	return nil
}

// failStored ends a job this process does not own.
func (s *UploadService) failStored(ctx context.Context, job *models.UploadJob, kind models.ErrorKind, msg string) {
	now := s.now().UTC()
	if err := job.Fail(models.JobFailed, kind, msg, now); err != nil {
		job.Status = models.JobFailed
		job.ErrorKind = kind
		job.ErrorMessage = msg
		job.CompletedAt = now
	}
	s.persist(ctx, job)
	s.notifyFailed(ctx, job, 0, 0)
}
