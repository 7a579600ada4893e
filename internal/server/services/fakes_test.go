package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediasync/internal/logging"
	"github.com/dmitrijs2005/mediasync/internal/server/config"
	"github.com/dmitrijs2005/mediasync/internal/server/models"
	"github.com/dmitrijs2005/mediasync/internal/server/notify"
	"github.com/dmitrijs2005/mediasync/internal/server/quota"
	"github.com/dmitrijs2005/mediasync/internal/server/remote"
	"github.com/dmitrijs2005/mediasync/internal/server/repositories/repomanager"
)

const mb = int64(1 << 20)

type uploadFunc func(ctx context.Context, req remote.UploadRequest, progress remote.ProgressFunc) (remote.UploadResult, error)

// -------- test fakes --------

type fakeClient struct {
	remote.Client

	mu       sync.Mutex
	authErr  error
	usage    quota.Usage
	quotaErr error
	// uploads is consumed one per call; the last entry repeats.
	uploads   []uploadFunc
	requests  []remote.UploadRequest
	authCalls int
	folders   []remote.Folder
	listErr   error
	created   []string
	deleted   []string
	file      remote.FileInfo

	startedOnce sync.Once
	started     chan struct{}
}

func newFakeClient(usage quota.Usage, uploads ...uploadFunc) *fakeClient {
	return &fakeClient{usage: usage, uploads: uploads, started: make(chan struct{})}
}

func (f *fakeClient) Authenticate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	return f.authErr
}

func (f *fakeClient) GetQuota(ctx context.Context) (quota.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage, f.quotaErr
}

func (f *fakeClient) UploadFile(ctx context.Context, req remote.UploadRequest, progress remote.ProgressFunc) (remote.UploadResult, error) {
	f.mu.Lock()
	idx := len(f.requests)
	f.requests = append(f.requests, req)
	if idx >= len(f.uploads) {
		idx = len(f.uploads) - 1
	}
	fn := f.uploads[idx]
	f.mu.Unlock()

	f.startedOnce.Do(func() { close(f.started) })
	return fn(ctx, req, progress)
}

func (f *fakeClient) ListFolders(ctx context.Context, parentID string) ([]remote.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.folders, f.listErr
}

func (f *fakeClient) CreateFolder(ctx context.Context, name, parentID string) (remote.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, name)
	return remote.Folder{ID: filepath.Join(parentID, name), Name: name, ParentID: parentID}, nil
}

func (f *fakeClient) DeleteFile(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeClient) GetFile(ctx context.Context, id string) (remote.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file, nil
}

func (f *fakeClient) uploadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeFactory struct {
	mu     sync.Mutex
	client *fakeClient
	err    error
	opened int
}

func (f *fakeFactory) ForAccount(ctx context.Context, account *models.StorageAccountConfig) (remote.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

// staleReadStore misses jobs written by a concurrent submitter, so only
// Save can notice the conflict.
type staleReadStore struct {
	*repomanager.MemoryStore
}

func (s staleReadStore) LoadByAccount(ctx context.Context, accountID string) ([]*models.UploadJob, error) {
	return nil, nil
}

type progressEvent struct {
	percent float64
	phase   notify.Phase
}

type recordingNotifier struct {
	mu        sync.Mutex
	progress  map[string][]progressEvent
	completed map[string]notify.Completion
	failed    map[string]notify.Failure
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		progress:  make(map[string][]progressEvent),
		completed: make(map[string]notify.Completion),
		failed:    make(map[string]notify.Failure),
	}
}

func (n *recordingNotifier) NotifyProgress(ctx context.Context, jobID string, percent float64, phase notify.Phase) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress[jobID] = append(n.progress[jobID], progressEvent{percent, phase})
	return nil
}

func (n *recordingNotifier) NotifyCompleted(ctx context.Context, jobID string, c notify.Completion) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed[jobID] = c
	return nil
}

func (n *recordingNotifier) NotifyFailed(ctx context.Context, jobID string, f notify.Failure) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed[jobID] = f
	return nil
}

func (n *recordingNotifier) events(jobID string) []progressEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]progressEvent(nil), n.progress[jobID]...)
}

func (n *recordingNotifier) failure(jobID string) (notify.Failure, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	f, ok := n.failed[jobID]
	return f, ok
}

func (n *recordingNotifier) completion(jobID string) (notify.Completion, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.completed[jobID]
	return c, ok
}

// -------- upload scripts --------

func succeed(remoteID string, size int64) uploadFunc {
	return func(ctx context.Context, req remote.UploadRequest, progress remote.ProgressFunc) (remote.UploadResult, error) {
		progress(req.Size)
		return remote.UploadResult{RemoteID: remoteID, Link: "https://share/" + remoteID, Size: size}, nil
	}
}

func failWith(err error) uploadFunc {
	return func(ctx context.Context, req remote.UploadRequest, progress remote.ProgressFunc) (remote.UploadResult, error) {
		return remote.UploadResult{}, err
	}
}

func blockUntilCancelled(ctx context.Context, req remote.UploadRequest, progress remote.ProgressFunc) (remote.UploadResult, error) {
	progress(req.Size / 10)
	<-ctx.Done()
	return remote.UploadResult{}, ctx.Err()
}

func rateLimited() error {
	return remote.NewError(models.KindRateLimited, "upload", errors.New("SlowDown"))
}

// -------- harness --------

func testConfig() *config.Config {
	return &config.Config{
		Workers:            2,
		QueueSize:          8,
		MaxRetries:         3,
		BackoffInitial:     time.Millisecond,
		BackoffMax:         5 * time.Millisecond,
		RemoteCallTimeout:  time.Second,
		UploadTimeout:      5 * time.Second,
		ProgressThreshold:  notify.DefaultThreshold,
		ConfigPollInterval: 5 * time.Millisecond,
	}
}

type harness struct {
	svc      *UploadService
	store    *repomanager.MemoryStore
	factory  *fakeFactory
	client   *fakeClient
	notifier *recordingNotifier
}

func newHarness(t *testing.T, cfg *config.Config, client *fakeClient) *harness {
	t.Helper()
	store := repomanager.NewMemoryStore()
	factory := &fakeFactory{client: client}
	notifier := newRecordingNotifier()
	svc := NewUploadService(store, factory, notifier, logging.Nop(), cfg)
	return &harness{svc: svc, store: store, factory: factory, client: client, notifier: notifier}
}

// peer builds a second service over h's store, the way another process
// sharing the database would see it.
func (h *harness) peer(client *fakeClient) (*UploadService, *recordingNotifier) {
	notifier := newRecordingNotifier()
	svc := NewUploadService(h.store, &fakeFactory{client: client}, notifier, logging.Nop(), h.svc.cfg)
	return svc, notifier
}

// start runs the worker pool until the returned stop is called or the
// test ends.
func (h *harness) start(t *testing.T) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.svc.Run(ctx)
	}()
	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(stop)
	return stop
}

func (h *harness) seedAccount(t *testing.T, id string, used int64, limit *int64) {
	t.Helper()
	require.NoError(t, h.store.SaveConfig(context.Background(), &models.StorageAccountConfig{
		ID:         id,
		OwnerID:    "owner-" + id,
		Provider:   models.ProviderS3,
		Status:     models.AccountActive,
		QuotaUsed:  used,
		QuotaLimit: limit,
	}))
}

func (h *harness) account(t *testing.T, id string) *models.StorageAccountConfig {
	t.Helper()
	acc, err := h.store.LoadConfig(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func (h *harness) wait(t *testing.T, jobID string) models.JobSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := h.svc.Wait(ctx, jobID)
	require.NoError(t, err)
	return snap
}

func (h *harness) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-h.client.started:
	case <-time.After(5 * time.Second):
		t.Fatal("upload never started")
	}
}

func limitOf(v int64) *int64 { return &v }

func writeSource(t *testing.T, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
	return path
}
