package notify

import (
	"context"

	"github.com/dmitrijs2005/mediasync/internal/logging"
)

// LogNotifier writes events to a structured logger.
type LogNotifier struct {
	log logging.Logger
}

func NewLogNotifier(log logging.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("module", "notify")}
}

func (n *LogNotifier) NotifyProgress(ctx context.Context, jobID string, percent float64, phase Phase) error {
	n.log.Info(ctx, "job progress", "job_id", jobID, "percent", percent, "phase", string(phase))
	return nil
}

func (n *LogNotifier) NotifyCompleted(ctx context.Context, jobID string, c Completion) error {
	n.log.Info(ctx, "job completed", "job_id", jobID, "remote_id", c.RemoteID, "link", c.Link, "bytes", c.Bytes)
	return nil
}

func (n *LogNotifier) NotifyFailed(ctx context.Context, jobID string, f Failure) error {
	args := []any{"job_id", jobID, "status", f.Status.String(), "error_kind", string(f.Kind), "error", f.Message}
	if f.RequiredBytes > 0 {
		args = append(args, "required_bytes", f.RequiredBytes, "available_bytes", f.AvailableBytes)
	}
	n.log.Warn(ctx, "job failed", args...)
	return nil
}
