package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/dmitrijs2005/mediasync/internal/dbx"
	"github.com/dmitrijs2005/mediasync/internal/server/models"
)

const selectColumns = `id, source_file_path, display_name, target_name, target_account_id, target_folder_id,
	status, retry_count, bytes_total, bytes_transferred, last_progress_percent,
	error_kind, error_message, remote_id, remote_link, created_at, started_at, completed_at`

// activeAccountIndex allows one pending or uploading job per account.
const activeAccountIndex = "upload_jobs_one_active_per_account"

// PostgresRepository implements job storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save upserts the job by id. Identity columns are written once; an existing
// row is only updated while it is pending or uploading. Returns
// ErrAlreadyTerminal when the stored row is terminal and ErrConflict when
// another job of the account is already active.
func (r *PostgresRepository) Save(ctx context.Context, job *models.UploadJob) error {
	query := `
		INSERT INTO upload_jobs (id, source_file_path, display_name, target_name, target_account_id, target_folder_id,
			status, retry_count, bytes_total, bytes_transferred, last_progress_percent,
			error_kind, error_message, remote_id, remote_link, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id)
		DO UPDATE SET
			target_folder_id = EXCLUDED.target_folder_id,
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			bytes_total = EXCLUDED.bytes_total,
			bytes_transferred = EXCLUDED.bytes_transferred,
			last_progress_percent = EXCLUDED.last_progress_percent,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			remote_id = EXCLUDED.remote_id,
			remote_link = EXCLUDED.remote_link,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
			WHERE upload_jobs.status IN ('pending', 'uploading');
	`
	res, err := r.db.ExecContext(ctx, query,
		job.ID, job.SourceFilePath, job.DisplayName, job.TargetName, job.TargetAccountID, job.TargetFolderID,
		job.Status.String(), job.RetryCount, job.BytesTotal, job.BytesTransferred, job.LastProgressPercent,
		string(job.ErrorKind), job.ErrorMessage, job.RemoteID, job.RemoteLink,
		job.CreatedAt.UTC(), dbx.NullTime(job.StartedAt), dbx.NullTime(job.CompletedAt))
	if dbx.IsUniqueViolation(err, activeAccountIndex) {
		return fmt.Errorf("account %s: %w", job.TargetAccountID, common.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExactlyOne(res, common.ErrAlreadyTerminal)
}

// FailPending fails the job only while its row is still pending.
func (r *PostgresRepository) FailPending(ctx context.Context, id string, kind models.ErrorKind, message string, at time.Time) error {
	query := `
		UPDATE upload_jobs
		SET status='failed', error_kind=$2, error_message=$3, completed_at=$4
		WHERE id=$1 AND status='pending'
	`
	res, err := r.db.ExecContext(ctx, query, id, string(kind), message, at.UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExactlyOne(res, fmt.Errorf("job %s is not pending: %w", id, common.ErrInvalidTransition))
}

// Get returns the job with id or ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.UploadJob, error) {
	query := `SELECT ` + selectColumns + ` FROM upload_jobs WHERE id=$1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select job: %w", err)
	}
	return job, nil
}

// LoadByAccount returns every job targeting accountID, oldest first.
func (r *PostgresRepository) LoadByAccount(ctx context.Context, accountID string) ([]*models.UploadJob, error) {
	query := `SELECT ` + selectColumns + ` FROM upload_jobs WHERE target_account_id=$1 ORDER BY created_at, id`
	return r.query(ctx, query, accountID)
}

// LoadByStatus returns every job in one of statuses, oldest first.
func (r *PostgresRepository) LoadByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.UploadJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = s.String()
	}
	query := `SELECT ` + selectColumns + ` FROM upload_jobs WHERE status IN (` + strings.Join(placeholders, ", ") + `) ORDER BY created_at, id`
	return r.query(ctx, query, args...)
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.UploadJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select jobs: %w", err)
	}
	defer rows.Close()

	var result []*models.UploadJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*models.UploadJob, error) {
	var (
		job                models.UploadJob
		status, kind       string
		started, completed sql.NullTime
	)
	if err := s.Scan(&job.ID, &job.SourceFilePath, &job.DisplayName, &job.TargetName, &job.TargetAccountID, &job.TargetFolderID,
		&status, &job.RetryCount, &job.BytesTotal, &job.BytesTransferred, &job.LastProgressPercent,
		&kind, &job.ErrorMessage, &job.RemoteID, &job.RemoteLink, &job.CreatedAt, &started, &completed); err != nil {
		return nil, err
	}

	st, err := models.ParseJobStatus(status)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	job.Status = st
	job.ErrorKind = models.ErrorKind(kind)
	job.CreatedAt = job.CreatedAt.UTC()
	job.StartedAt = dbx.TimeOf(started)
	job.CompletedAt = dbx.TimeOf(completed)
	return &job, nil
}
