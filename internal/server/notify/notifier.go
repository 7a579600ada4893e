// Package notify carries job events from the orchestrator to external
// observers. Delivery is best effort: a failing notifier never affects the
// job outcome.
package notify

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/mediasync/internal/server/models"
)

// Phase labels a progress event.
type Phase string

const (
	PhaseStarting  Phase = "starting"
	PhaseUploading Phase = "uploading"
	PhaseRetrying  Phase = "retrying"
)

// Completion is the payload of a terminal Completed event.
type Completion struct {
	RemoteID string
	Link     string
	Bytes    int64
}

// Failure is the payload of any other terminal event.
type Failure struct {
	Status  models.JobStatus
	Kind    models.ErrorKind
	Message string
	// RequiredBytes and AvailableBytes are set for QuotaExceeded.
	RequiredBytes  int64
	AvailableBytes int64
}

type Notifier interface {
	NotifyProgress(ctx context.Context, jobID string, percent float64, phase Phase) error
	NotifyCompleted(ctx context.Context, jobID string, c Completion) error
	NotifyFailed(ctx context.Context, jobID string, f Failure) error
}

// Multi fans every event out to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) NotifyProgress(ctx context.Context, jobID string, percent float64, phase Phase) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyProgress(ctx, jobID, percent, phase))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyCompleted(ctx context.Context, jobID string, c Completion) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyCompleted(ctx, jobID, c))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyFailed(ctx context.Context, jobID string, f Failure) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyFailed(ctx, jobID, f))
	}
	return errors.Join(errs...)
}
