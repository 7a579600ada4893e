package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/dmitrijs2005/mediasync/internal/logging"
	"github.com/dmitrijs2005/mediasync/internal/server/models"
	"github.com/dmitrijs2005/mediasync/internal/server/quota"
	"github.com/dmitrijs2005/mediasync/internal/server/repositories/repomanager"
)

func storedJob(id, account, source string, status models.JobStatus, retries int) *models.UploadJob {
	j := &models.UploadJob{
		ID:              id,
		SourceFilePath:  source,
		DisplayName:     "clip.mp4",
		TargetName:      "clip.mp4",
		TargetAccountID: account,
		Status:          status,
		RetryCount:      retries,
		CreatedAt:       time.Now().UTC(),
	}
	if status == models.JobUploading {
		j.StartedAt = j.CreatedAt
	}
	return j
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(quota.Usage{}, succeed("r", 0))
	h := newHarness(t, testConfig(), client)
	h.seedAccount(t, "a", 0, nil)
	h.seedAccount(t, "b", 0, nil)
	h.seedAccount(t, "c", 0, nil)
	h.seedAccount(t, "d", 0, nil)

	source := writeSource(t, 3*mb)
	require.NoError(t, h.store.Save(ctx, storedJob("pending", "a", source, models.JobPending, 0)))
	require.NoError(t, h.store.Save(ctx, storedJob("uploading", "b", source, models.JobUploading, 0)))
	require.NoError(t, h.store.Save(ctx, storedJob("exhausted", "c", source, models.JobUploading, 3)))
	require.NoError(t, h.store.Save(ctx, storedJob("malformed", "d", "", models.JobPending, 0)))

	h.start(t)

	n, err := h.svc.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending := h.wait(t, "pending")
	assert.Equal(t, models.JobCompleted, pending.Status)
	assert.Equal(t, 0, pending.RetryCount)
	assert.Equal(t, 3*mb, pending.BytesTransferred, "falls back to the source size")

	uploading := h.wait(t, "uploading")
	assert.Equal(t, models.JobCompleted, uploading.Status)
	assert.Equal(t, 1, uploading.RetryCount, "interrupted attempt counts as a retry")

	exhausted, err := h.svc.GetStatus(ctx, "exhausted")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, exhausted.Status)
	assert.Equal(t, models.KindRemoteUnavailable, exhausted.ErrorKind)

	malformed, err := h.svc.GetStatus(ctx, "malformed")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, malformed.Status)
	assert.Equal(t, models.KindInternal, malformed.ErrorKind)

	n, err = h.svc.Resume(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing left to resume")
}

// duplicateStore reports an extra active job that predates the store's
// one-active-job-per-account constraint.
type duplicateStore struct {
	*repomanager.MemoryStore
	extra *models.UploadJob
}

func (s duplicateStore) LoadByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.UploadJob, error) {
	jobs, err := s.MemoryStore.LoadByStatus(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return append(jobs, s.extra.Clone()), nil
}

func TestResume_DuplicateActiveJobsForAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), newFakeClient(quota.Usage{}, succeed("r", mb)))
	h.seedAccount(t, "a", 0, nil)

	source := writeSource(t, mb)
	first := storedJob("first", "a", source, models.JobPending, 0)
	second := storedJob("second", "a", source, models.JobPending, 0)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, h.store.Save(ctx, first))
	require.ErrorIs(t, h.store.Save(ctx, second), common.ErrConflict)

	svc := NewUploadService(duplicateStore{MemoryStore: h.store, extra: second}, h.factory, h.notifier, logging.Nop(), testConfig())
	n, err := svc.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, err := svc.GetStatus(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, snap.Status)
	assert.Equal(t, models.KindInternal, snap.ErrorKind)

	snap, err = svc.GetStatus(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, snap.Status)
}

func TestResume_ReleasesStaleSync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), newFakeClient(quota.Usage{}, succeed("r", 0)))
	h.seedAccount(t, "a", 0, nil)
	_, err := h.store.UpdateConfig(ctx, "a", func(c *models.StorageAccountConfig) error {
		return c.StartSync(time.Now())
	})
	require.NoError(t, err)

	_, err = h.svc.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.AccountActive, h.account(t, "a").Status)
}
