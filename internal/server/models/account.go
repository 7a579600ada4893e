package models

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/common"
)

// Storage providers an account can point at.
const (
	ProviderS3    = "s3"
	ProviderMinio = "minio"
)

// StorageAccountConfig is a user's cloud-storage account as seen by the
// pipeline. The quota fields are a cache: authoritative only right after a
// sync, best-effort otherwise.
type StorageAccountConfig struct {
	ID      string
	OwnerID string
	// Provider selects the remote client implementation.
	Provider string
	// Bucket and Prefix locate the account's space on the provider.
	Bucket string
	Prefix string
	// CredentialsRef is an opaque handle to secret material.
	CredentialsRef  string
	DefaultFolderID string
	IsDefault       bool

	Status       AccountStatus
	ErrorMessage string

	QuotaUsed  int64
	QuotaLimit *int64

	// Version increments on every persisted change and guards concurrent writers.
	Version int64

	LastSync  time.Time
	LastUsed  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of the config.
func (c *StorageAccountConfig) Clone() *StorageAccountConfig {
	cp := *c
	if c.QuotaLimit != nil {
		l := *c.QuotaLimit
		cp.QuotaLimit = &l
	}
	return &cp
}

// LogValue keeps the credentials ref out of log records.
func (c *StorageAccountConfig) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", c.ID),
		slog.String("owner_id", c.OwnerID),
		slog.String("provider", c.Provider),
		slog.String("status", c.Status.String()),
		slog.Int64("quota_used", c.QuotaUsed),
		slog.Int64("version", c.Version),
	}
	if c.QuotaLimit != nil {
		attrs = append(attrs, slog.Int64("quota_limit", *c.QuotaLimit))
	}
	return slog.GroupValue(attrs...)
}

// Usable reports whether a job may start against the account.
func (c *StorageAccountConfig) Usable() bool {
	switch c.Status {
	case AccountActive:
		return true
	case AccountInactive, AccountError, AccountSyncing:
		return false
	}
	return false
}

// Activate moves an Inactive or Error account to Active and clears the error.
func (c *StorageAccountConfig) Activate(now time.Time) error {
	switch c.Status {
	case AccountInactive, AccountError:
	case AccountActive:
		return nil
	case AccountSyncing:
		return fmt.Errorf("activate %v: %w", c.Status, common.ErrInvalidTransition)
	default:
		return fmt.Errorf("activate %v: %w", c.Status, common.ErrInvalidTransition)
	}
	c.Status = AccountActive
	c.ErrorMessage = ""
	c.UpdatedAt = now
	return nil
}

// Deactivate moves the account to Inactive from any state.
func (c *StorageAccountConfig) Deactivate(now time.Time) {
	c.Status = AccountInactive
	c.UpdatedAt = now
}

// MarkError moves the account to Error from any state. No other field changes.
func (c *StorageAccountConfig) MarkError(msg string, now time.Time) {
	c.Status = AccountError
	c.ErrorMessage = msg
	c.UpdatedAt = now
}

// StartSync enters Syncing. Only an Active account may sync; a second sync
// is rejected with ErrSyncInProgress.
func (c *StorageAccountConfig) StartSync(now time.Time) error {
	switch c.Status {
	case AccountActive:
		c.Status = AccountSyncing
		c.UpdatedAt = now
		return nil
	case AccountSyncing:
		return common.ErrSyncInProgress
	case AccountInactive, AccountError:
		return fmt.Errorf("sync %v: %w", c.Status, common.ErrInvalidTransition)
	}
	return fmt.Errorf("sync %v: %w", c.Status, common.ErrInvalidTransition)
}

// CompleteSync stores the live quota and returns to Active.
func (c *StorageAccountConfig) CompleteSync(used int64, limit *int64, now time.Time) error {
	if c.Status != AccountSyncing {
		return fmt.Errorf("complete sync %v: %w", c.Status, common.ErrInvalidTransition)
	}
	c.Status = AccountActive
	c.QuotaUsed = used
	c.QuotaLimit = limit
	c.LastSync = now
	c.UpdatedAt = now
	return nil
}

// AbortSync returns a Syncing account to Active without touching the quota.
func (c *StorageAccountConfig) AbortSync(now time.Time) error {
	if c.Status != AccountSyncing {
		return fmt.Errorf("abort sync %v: %w", c.Status, common.ErrInvalidTransition)
	}
	c.Status = AccountActive
	c.UpdatedAt = now
	return nil
}
