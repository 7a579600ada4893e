package models

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob() *UploadJob {
	return &UploadJob{
		ID:              "j1",
		SourceFilePath:  "/media/a.mp4",
		TargetAccountID: "acc",
		Status:          JobPending,
		BytesTotal:      200,
	}
}

func TestUploadJob_Lifecycle(t *testing.T) {
	j := newJob()
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, j.Transition(JobUploading, t0))
	assert.Equal(t, t0, j.StartedAt)
	assert.True(t, j.CompletedAt.IsZero())

	assert.InDelta(t, 50.0, j.Progress(100), 0.001)
	assert.Equal(t, int64(100), j.BytesTransferred)

	t1 := t0.Add(time.Minute)
	require.NoError(t, j.Complete("f1", "https://link", 198, t1))
	assert.Equal(t, JobCompleted, j.Status)
	assert.Equal(t, t1, j.CompletedAt)
	assert.Equal(t, "f1", j.RemoteID)
	assert.Equal(t, float64(100), j.LastProgressPercent)
	assert.Equal(t, int64(198), j.BytesTransferred, "acknowledged size wins over the estimate")

	err := j.Fail(JobFailed, KindCancelled, "late", t1.Add(time.Second))
	assert.True(t, errors.Is(err, common.ErrAlreadyTerminal))
	assert.Equal(t, t1, j.CompletedAt, "completedAt is set exactly once")
}

func TestUploadJob_FailFromPending(t *testing.T) {
	j := newJob()
	now := time.Now()

	require.NoError(t, j.Fail(JobQuotaExceeded, KindQuotaExceeded, "no space", now))
	assert.Equal(t, JobQuotaExceeded, j.Status)
	assert.Equal(t, KindQuotaExceeded, j.ErrorKind)
	assert.Equal(t, now, j.CompletedAt)
	assert.True(t, j.StartedAt.IsZero())
}

func TestUploadJob_FailRejectsNonTerminal(t *testing.T) {
	j := newJob()
	assert.ErrorIs(t, j.Fail(JobUploading, KindInternal, "x", time.Now()), common.ErrInvalidTransition)
	assert.ErrorIs(t, j.Fail(JobCompleted, KindInternal, "x", time.Now()), common.ErrInvalidTransition)
	assert.ErrorIs(t, j.Transition(JobCompleted, time.Now()), common.ErrInvalidTransition)
}

func TestUploadJob_ProgressClamps(t *testing.T) {
	j := newJob()
	assert.Equal(t, float64(100), j.Progress(500))
	assert.Equal(t, int64(200), j.BytesTransferred)
	assert.Equal(t, float64(0), j.Progress(-3))

	empty := &UploadJob{}
	assert.Equal(t, float64(100), empty.Progress(0))
}

func TestUploadJob_Validate(t *testing.T) {
	assert.NoError(t, newJob().Validate())

	for name, mutate := range map[string]func(*UploadJob){
		"no id":      func(j *UploadJob) { j.ID = "" },
		"no source":  func(j *UploadJob) { j.SourceFilePath = "" },
		"no account": func(j *UploadJob) { j.TargetAccountID = "" },
		"bad status": func(j *UploadJob) { j.Status = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			j := newJob()
			mutate(j)
			assert.ErrorIs(t, j.Validate(), common.ErrorInternal)
		})
	}
}

func TestUploadJob_SnapshotIsDetached(t *testing.T) {
	j := newJob()
	s := j.Snapshot()
	j.Progress(150)
	assert.Equal(t, int64(0), s.BytesTransferred)
	assert.Equal(t, s, JobSnapshot(*newJob()))
}
