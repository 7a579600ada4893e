package models

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount_SyncCycle(t *testing.T) {
	c := &StorageAccountConfig{ID: "a", Status: AccountActive}
	now := time.Now()

	require.NoError(t, c.StartSync(now))
	assert.Equal(t, AccountSyncing, c.Status)
	assert.False(t, c.Usable())

	assert.ErrorIs(t, c.StartSync(now), common.ErrSyncInProgress)

	limit := int64(1000)
	require.NoError(t, c.CompleteSync(400, &limit, now))
	assert.Equal(t, AccountActive, c.Status)
	assert.Equal(t, int64(400), c.QuotaUsed)
	assert.Equal(t, now, c.LastSync)
	assert.True(t, c.Usable())
}

func TestAccount_StartSyncRequiresActive(t *testing.T) {
	for _, st := range []AccountStatus{AccountInactive, AccountError} {
		c := &StorageAccountConfig{Status: st}
		assert.ErrorIs(t, c.StartSync(time.Now()), common.ErrInvalidTransition)
	}
}

func TestAccount_MarkErrorAndReactivate(t *testing.T) {
	limit := int64(10)
	c := &StorageAccountConfig{Status: AccountSyncing, QuotaUsed: 7, QuotaLimit: &limit, DefaultFolderID: "f"}
	c.MarkError("token revoked", time.Now())

	assert.Equal(t, AccountError, c.Status)
	assert.Equal(t, "token revoked", c.ErrorMessage)
	assert.Equal(t, int64(7), c.QuotaUsed)
	assert.Equal(t, "f", c.DefaultFolderID)

	require.NoError(t, c.Activate(time.Now()))
	assert.Equal(t, AccountActive, c.Status)
	assert.Empty(t, c.ErrorMessage)
}

func TestAccount_AbortSync(t *testing.T) {
	c := &StorageAccountConfig{Status: AccountActive}
	assert.ErrorIs(t, c.AbortSync(time.Now()), common.ErrInvalidTransition)
	require.NoError(t, c.StartSync(time.Now()))
	require.NoError(t, c.AbortSync(time.Now()))
	assert.Equal(t, AccountActive, c.Status)
}

func TestAccount_CloneCopiesLimit(t *testing.T) {
	limit := int64(5)
	c := &StorageAccountConfig{QuotaLimit: &limit}
	cp := c.Clone()
	*cp.QuotaLimit = 9
	assert.Equal(t, int64(5), *c.QuotaLimit)
}

func TestAccount_LogValueHidesCredentials(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	c := &StorageAccountConfig{ID: "a", CredentialsRef: "file:/secret/creds.json", Status: AccountActive}

	l.Info("cfg", "account", c)

	assert.Contains(t, buf.String(), "account.id=a")
	assert.NotContains(t, buf.String(), "secret")
}
