package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/common"
)

// UploadJob is one upload of a single local file to a storage account.
type UploadJob struct {
	ID             string
	SourceFilePath string
	DisplayName    string
	// TargetName is the explicit remote file name; empty means derived.
	TargetName string

	TargetAccountID string
	TargetFolderID  string

	Status     JobStatus
	RetryCount int

	BytesTotal          int64
	BytesTransferred    int64
	LastProgressPercent float64

	ErrorKind    ErrorKind
	ErrorMessage string

	RemoteID   string
	RemoteLink string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// JobSnapshot is a detached, read-only copy of an UploadJob.
type JobSnapshot UploadJob

// Snapshot returns a copy of the job's current state.
func (j *UploadJob) Snapshot() JobSnapshot {
	return JobSnapshot(*j)
}

// Clone returns a deep copy of the job.
func (j *UploadJob) Clone() *UploadJob {
	c := *j
	return &c
}

// Validate checks the fields every persisted job must carry.
func (j *UploadJob) Validate() error {
	switch {
	case j.ID == "":
		return fmt.Errorf("job has no id: %w", common.ErrorInternal)
	case j.SourceFilePath == "":
		return fmt.Errorf("job %s has no source path: %w", j.ID, common.ErrorInternal)
	case j.TargetAccountID == "":
		return fmt.Errorf("job %s has no target account: %w", j.ID, common.ErrorInternal)
	case !j.Status.Valid():
		return fmt.Errorf("job %s has status %v: %w", j.ID, j.Status, common.ErrorInternal)
	}
	return nil
}

// Transition moves the job to next, stamping StartedAt on entering
// Uploading and CompletedAt on entering any terminal state.
func (j *UploadJob) Transition(next JobStatus, now time.Time) error {
	if !j.Status.CanTransition(next) {
		if j.Status.Terminal() {
			return fmt.Errorf("%v -> %v: %w", j.Status, next, common.ErrAlreadyTerminal)
		}
		return fmt.Errorf("%v -> %v: %w", j.Status, next, common.ErrInvalidTransition)
	}
	j.Status = next
	if next == JobUploading {
		j.StartedAt = now
	}
	if next.Terminal() {
		j.CompletedAt = now
	}
	return nil
}

// Fail moves the job to the terminal status and records why.
func (j *UploadJob) Fail(status JobStatus, kind ErrorKind, msg string, now time.Time) error {
	if !status.Terminal() || status == JobCompleted {
		return fmt.Errorf("fail with %v: %w", status, common.ErrInvalidTransition)
	}
	if err := j.Transition(status, now); err != nil {
		return err
	}
	j.ErrorKind = kind
	j.ErrorMessage = msg
	return nil
}

// Complete marks the job Completed with the remote identifiers and the byte
// count the provider acknowledged.
func (j *UploadJob) Complete(remoteID, link string, transferred int64, now time.Time) error {
	if err := j.Transition(JobCompleted, now); err != nil {
		return err
	}
	j.RemoteID = remoteID
	j.RemoteLink = link
	j.BytesTransferred = transferred
	j.LastProgressPercent = 100
	return nil
}

// Progress records transferred bytes for the current attempt and returns
// the derived percentage.
func (j *UploadJob) Progress(transferred int64) float64 {
	if transferred < 0 {
		transferred = 0
	}
	if j.BytesTotal > 0 && transferred > j.BytesTotal {
		transferred = j.BytesTotal
	}
	j.BytesTransferred = transferred
	if j.BytesTotal <= 0 {
		j.LastProgressPercent = 100
	} else {
		j.LastProgressPercent = float64(transferred) * 100 / float64(j.BytesTotal)
	}
	return j.LastProgressPercent
}
