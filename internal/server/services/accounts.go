package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/dmitrijs2005/mediasync/internal/server/models"
	"github.com/dmitrijs2005/mediasync/internal/server/quota"
	"github.com/dmitrijs2005/mediasync/internal/server/remote"
)

// AccountCheck is the result of a connection check.
type AccountCheck struct {
	Quota       quota.Usage
	FolderCount int
	PercentUsed float64
}

// Activate moves an Inactive or Error account back to Active.
func (s *UploadService) Activate(ctx context.Context, accountID string) error {
	_, err := s.store.UpdateConfig(ctx, accountID, func(c *models.StorageAccountConfig) error {
		return c.Activate(s.now().UTC())
	})
	if err != nil {
		return fmt.Errorf("activate %s: %w", accountID, err)
	}
	s.log.Info(ctx, "account activated", "account_id", accountID)
	return nil
}

// Deactivate moves the account to Inactive and aborts its active job.
func (s *UploadService) Deactivate(ctx context.Context, accountID string) error {
	_, err := s.store.UpdateConfig(ctx, accountID, func(c *models.StorageAccountConfig) error {
		c.Deactivate(s.now().UTC())
		return nil
	})
	if err != nil {
		return fmt.Errorf("deactivate %s: %w", accountID, err)
	}
	s.log.Info(ctx, "account deactivated", "account_id", accountID)
	s.abortAccountJob(ctx, accountID)
	return nil
}

// MarkAccountError moves the account to Error and aborts its active job.
func (s *UploadService) MarkAccountError(ctx context.Context, accountID, msg string) error {
	_, err := s.store.UpdateConfig(ctx, accountID, func(c *models.StorageAccountConfig) error {
		c.MarkError(msg, s.now().UTC())
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark error %s: %w", accountID, err)
	}
	s.log.Warn(ctx, "account marked as error", "account_id", accountID, "message", msg)
	s.abortAccountJob(ctx, accountID)
	return nil
}

func (s *UploadService) abortAccountJob(ctx context.Context, accountID string) {
	holder, ok := s.tokens.holder(accountID)
	if !ok {
		return
	}
	if r := s.lookup(holder); r != nil {
		// a job that already finalized keeps its outcome
		_ = s.abort(ctx, r, errConfigWithdrawn)
	}
}

// SyncQuota refreshes the account's cached quota from the provider. It
// holds the account token, so it never overlaps an upload, and a second
// sync is rejected rather than queued.
func (s *UploadService) SyncQuota(ctx context.Context, accountID string) (quota.Usage, error) {
	holder := "sync:" + accountID
	if cur, ok := s.tokens.acquire(accountID, holder); !ok {
		if cur == holder {
			return quota.Usage{}, fmt.Errorf("sync %s: %w", accountID, common.ErrSyncInProgress)
		}
		return quota.Usage{}, fmt.Errorf("sync %s: account is busy with %s: %w", accountID, cur, common.ErrConflict)
	}
	defer s.tokens.release(accountID, holder)

	acc, err := s.store.UpdateConfig(ctx, accountID, func(c *models.StorageAccountConfig) error {
		return c.StartSync(s.now().UTC())
	})
	if err != nil {
		return quota.Usage{}, fmt.Errorf("sync %s: %w", accountID, err)
	}

	_, usage, err := s.liveQuota(ctx, acc)
	if err != nil {
		kind := remote.KindOf(err)
		cleanup := context.WithoutCancel(ctx)
		if ctx.Err() != nil || kind.Class() == models.Transient {
			_, uerr := s.store.UpdateConfig(cleanup, accountID, func(c *models.StorageAccountConfig) error {
				return c.AbortSync(s.now().UTC())
			})
			if uerr != nil {
				s.log.Error(ctx, "abort sync", "account_id", accountID, "error", uerr)
			}
		} else {
			s.markAccountError(cleanup, accountID, err.Error(), s.log)
		}
		s.log.Warn(ctx, "quota sync failed", "account_id", accountID, "kind", string(kind), "error", err)
		return quota.Usage{}, fmt.Errorf("sync %s: %w", accountID, err)
	}

	_, err = s.store.UpdateConfig(ctx, accountID, func(c *models.StorageAccountConfig) error {
		return c.CompleteSync(usage.Used, usage.Limit, s.now().UTC())
	})
	if err != nil {
		return quota.Usage{}, fmt.Errorf("sync %s: %w", accountID, err)
	}

	s.log.Info(ctx, "quota synced", "account_id", accountID, "used", usage.Used,
		"percent_used", quota.PercentageUsed(usage.Limit, usage.Used))
	return usage, nil
}

// SyncAll syncs every Active account and returns the first error.
func (s *UploadService) SyncAll(ctx context.Context) error {
	configs, err := s.store.ListConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	var first error
	for _, c := range configs {
		if c.Status != models.AccountActive {
			continue
		}
		if _, err := s.SyncQuota(ctx, c.ID); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// CheckConnection authenticates against the account's provider and reads
// its quota and root folders. Only an AuthError changes the account.
func (s *UploadService) CheckConnection(ctx context.Context, accountID string) (AccountCheck, error) {
	acc, err := s.store.LoadConfig(ctx, accountID)
	if err != nil {
		return AccountCheck{}, fmt.Errorf("check %s: %w", accountID, err)
	}

	client, usage, err := s.liveQuota(ctx, acc)
	if err == nil {
		callCtx, cancel := s.withTimeout(ctx, s.cfg.RemoteCallTimeout)
		var folders []remote.Folder
		folders, err = client.ListFolders(callCtx, "")
		cancel()
		if err == nil {
			return AccountCheck{
				Quota:       usage,
				FolderCount: len(folders),
				PercentUsed: quota.PercentageUsed(usage.Limit, usage.Used),
			}, nil
		}
	}

	if remote.KindOf(err) == models.KindAuth {
		s.markAccountError(ctx, accountID, err.Error(), s.log)
	}
	return AccountCheck{}, fmt.Errorf("check %s: %w", accountID, err)
}

// EnsureFolder returns the folder called name under parentID, creating it
// when missing.
func (s *UploadService) EnsureFolder(ctx context.Context, accountID, name, parentID string) (remote.Folder, error) {
	acc, err := s.store.LoadConfig(ctx, accountID)
	if err != nil {
		return remote.Folder{}, fmt.Errorf("folder %s: %w", accountID, err)
	}
	client, err := s.factory.ForAccount(ctx, acc)
	if err != nil {
		return remote.Folder{}, fmt.Errorf("folder %s: %w", accountID, err)
	}

	callCtx, cancel := s.withTimeout(ctx, s.cfg.RemoteCallTimeout)
	defer cancel()

	folders, err := client.ListFolders(callCtx, parentID)
	if err != nil {
		return remote.Folder{}, fmt.Errorf("list folders: %w", err)
	}
	for _, f := range folders {
		if f.Name == name {
			return f, nil
		}
	}

	f, err := client.CreateFolder(callCtx, name, parentID)
	if err != nil {
		return remote.Folder{}, fmt.Errorf("create folder %q: %w", name, err)
	}
	s.log.Info(ctx, "folder created", "account_id", accountID, "folder_id", f.ID)
	return f, nil
}

// SeedAccounts creates the given accounts or refreshes their static
// settings. Status, cached quota and timestamps of existing accounts are
// kept.
func (s *UploadService) SeedAccounts(ctx context.Context, seeds []*models.StorageAccountConfig) error {
	for _, seed := range seeds {
		_, err := s.store.UpdateConfig(ctx, seed.ID, func(c *models.StorageAccountConfig) error {
			c.OwnerID = seed.OwnerID
			c.Provider = seed.Provider
			c.Bucket = seed.Bucket
			c.Prefix = seed.Prefix
			c.CredentialsRef = seed.CredentialsRef
			c.DefaultFolderID = seed.DefaultFolderID
			c.IsDefault = seed.IsDefault
			if seed.QuotaLimit != nil {
				c.QuotaLimit = seed.QuotaLimit
			}
			return nil
		})
		if errors.Is(err, common.ErrorNotFound) {
			err = s.store.SaveConfig(ctx, seed)
		}
		if err != nil {
			return fmt.Errorf("seed account %s: %w", seed.ID, err)
		}
	}
	s.log.Info(ctx, "accounts seeded", "count", len(seeds))
	return nil
}
