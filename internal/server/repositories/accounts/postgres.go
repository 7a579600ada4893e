package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/dmitrijs2005/mediasync/internal/dbx"
	"github.com/dmitrijs2005/mediasync/internal/server/models"
)

const selectColumns = `id, owner_id, provider, bucket, prefix, credentials_ref, default_folder_id, is_default,
	status, error_message, quota_used, quota_limit, version, last_sync, last_used, created_at, updated_at`

// PostgresRepository implements account storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.StorageAccountConfig, error) {
	return r.one(ctx, `SELECT `+selectColumns+` FROM storage_accounts WHERE id=$1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.StorageAccountConfig, error) {
	return r.one(ctx, `SELECT `+selectColumns+` FROM storage_accounts WHERE id=$1 FOR UPDATE`, id)
}

// GetDefault returns the owner's account flagged as default.
func (r *PostgresRepository) GetDefault(ctx context.Context, ownerID string) (*models.StorageAccountConfig, error) {
	return r.one(ctx, `SELECT `+selectColumns+` FROM storage_accounts WHERE owner_id=$1 AND is_default`, ownerID)
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.StorageAccountConfig, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM storage_accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select accounts: %w", err)
	}
	defer rows.Close()

	var result []*models.StorageAccountConfig
	for rows.Next() {
		cfg, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (*models.StorageAccountConfig, error) {
	cfg, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select account: %w", err)
	}
	return cfg, nil
}

// Save inserts a new config (Version 0) or updates an existing one whose
// stored version equals cfg.Version. On success cfg.Version is advanced.
func (r *PostgresRepository) Save(ctx context.Context, cfg *models.StorageAccountConfig) error {
	now := r.now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}

	if cfg.Version == 0 {
		query := `
			INSERT INTO storage_accounts (id, owner_id, provider, bucket, prefix, credentials_ref, default_folder_id, is_default,
				status, error_message, quota_used, quota_limit, version, last_sync, last_used, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14, $15, $16)
			ON CONFLICT (id) DO NOTHING
		`
		res, err := r.db.ExecContext(ctx, query,
			cfg.ID, cfg.OwnerID, cfg.Provider, cfg.Bucket, cfg.Prefix, cfg.CredentialsRef, cfg.DefaultFolderID, cfg.IsDefault,
			cfg.Status.String(), cfg.ErrorMessage, cfg.QuotaUsed, dbx.NullInt64(cfg.QuotaLimit),
			dbx.NullTime(cfg.LastSync), dbx.NullTime(cfg.LastUsed), cfg.CreatedAt.UTC(), now)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if err := dbx.ExactlyOne(res, common.ErrVersionConflict); err != nil {
			return err
		}
		cfg.Version = 1
		cfg.UpdatedAt = now
		return nil
	}

	query := `
		UPDATE storage_accounts SET
			owner_id = $2, provider = $3, bucket = $4, prefix = $5, credentials_ref = $6, default_folder_id = $7,
			is_default = $8, status = $9, error_message = $10, quota_used = $11, quota_limit = $12,
			last_sync = $13, last_used = $14, updated_at = $15, version = version + 1
		WHERE id = $1 AND version = $16
	`
	res, err := r.db.ExecContext(ctx, query,
		cfg.ID, cfg.OwnerID, cfg.Provider, cfg.Bucket, cfg.Prefix, cfg.CredentialsRef, cfg.DefaultFolderID,
		cfg.IsDefault, cfg.Status.String(), cfg.ErrorMessage, cfg.QuotaUsed, dbx.NullInt64(cfg.QuotaLimit),
		dbx.NullTime(cfg.LastSync), dbx.NullTime(cfg.LastUsed), now, cfg.Version)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if err := dbx.ExactlyOne(res, common.ErrVersionConflict); err != nil {
		return err
	}
	cfg.Version++
	cfg.UpdatedAt = now
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*models.StorageAccountConfig, error) {
	var (
		cfg                models.StorageAccountConfig
		status             string
		limit              sql.NullInt64
		lastSync, lastUsed sql.NullTime
	)
	if err := s.Scan(&cfg.ID, &cfg.OwnerID, &cfg.Provider, &cfg.Bucket, &cfg.Prefix, &cfg.CredentialsRef, &cfg.DefaultFolderID, &cfg.IsDefault,
		&status, &cfg.ErrorMessage, &cfg.QuotaUsed, &limit, &cfg.Version, &lastSync, &lastUsed, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := models.ParseAccountStatus(status)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", cfg.ID, err)
	}
	cfg.Status = st
	cfg.QuotaLimit = dbx.Int64Of(limit)
	cfg.LastSync = dbx.TimeOf(lastSync)
	cfg.LastUsed = dbx.TimeOf(lastUsed)
	cfg.CreatedAt = cfg.CreatedAt.UTC()
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	return &cfg, nil
}
