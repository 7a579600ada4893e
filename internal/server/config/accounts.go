package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/mediasync/internal/server/models"
	"github.com/dmitrijs2005/mediasync/internal/timex"
)

// AccountSeed is one storage account entry of the accounts file.
type AccountSeed struct {
	ID             string `yaml:"id"`
	Owner          string `yaml:"owner"`
	Provider       string `yaml:"provider"`
	Bucket         string `yaml:"bucket"`
	Prefix         string `yaml:"prefix"`
	CredentialsRef string `yaml:"credentials_ref"`
	DefaultFolder  string `yaml:"default_folder"`
	Default        bool   `yaml:"default"`
	Status         string `yaml:"status"`
	// QuotaLimit of 0 means unlimited.
	QuotaLimit int64 `yaml:"quota_limit"`
}

type accountsFile struct {
	SyncInterval timex.Duration `yaml:"sync_interval"`
	Accounts     []AccountSeed  `yaml:"accounts"`
}

// Seed is the parsed accounts file.
type Seed struct {
	// SyncInterval enables periodic quota sync in serve mode when positive.
	SyncInterval time.Duration
	Accounts     []*models.StorageAccountConfig
}

// LoadAccounts reads the YAML accounts file at path.
//
// Example:
//
//	sync_interval: 15m
//	accounts:
//	  - id: archive
//	    owner: alice
//	    provider: s3
//	    bucket: media
//	    credentials_ref: env:ARCHIVE
//	    default: true
//	    quota_limit: 10737418240
func LoadAccounts(path string) (*Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	return ParseAccounts(b, time.Now())
}

// ParseAccounts decodes an accounts document. Ids must be unique and each
// owner may flag at most one default account.
func ParseAccounts(b []byte, now time.Time) (*Seed, error) {
	var f accountsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Accounts))
	defaults := make(map[string]string)
	seed := &Seed{SyncInterval: f.SyncInterval.Duration}

	for i, a := range f.Accounts {
		if a.ID == "" {
			return nil, fmt.Errorf("account #%d: id is required", i+1)
		}
		if _, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("account %s: duplicate id", a.ID)
		}
		seen[a.ID] = struct{}{}

		switch a.Provider {
		case models.ProviderS3, models.ProviderMinio:
		default:
			return nil, fmt.Errorf("account %s: unknown provider %q", a.ID, a.Provider)
		}

		if a.Default {
			if other, ok := defaults[a.Owner]; ok {
				return nil, fmt.Errorf("account %s: owner %q already has default account %s", a.ID, a.Owner, other)
			}
			defaults[a.Owner] = a.ID
		}

		status := models.AccountActive
		if a.Status != "" {
			st, err := models.ParseAccountStatus(a.Status)
			if err != nil {
				return nil, fmt.Errorf("account %s: %w", a.ID, err)
			}
			status = st
		}

		var limit *int64
		if a.QuotaLimit > 0 {
			l := a.QuotaLimit
			limit = &l
		}

		seed.Accounts = append(seed.Accounts, &models.StorageAccountConfig{
			ID:              a.ID,
			OwnerID:         a.Owner,
			Provider:        a.Provider,
			Bucket:          a.Bucket,
			Prefix:          a.Prefix,
			CredentialsRef:  a.CredentialsRef,
			DefaultFolderID: a.DefaultFolder,
			IsDefault:       a.Default,
			Status:          status,
			QuotaLimit:      limit,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	return seed, nil
}
