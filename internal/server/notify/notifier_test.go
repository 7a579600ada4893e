package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediasync/internal/logging"
	"github.com/dmitrijs2005/mediasync/internal/server/models"
)

// -------- fakes --------

type recordingNotifier struct {
	progress  []float64
	completed []Completion
	failed    []Failure
	err       error
}

func (r *recordingNotifier) NotifyProgress(ctx context.Context, jobID string, percent float64, phase Phase) error {
	r.progress = append(r.progress, percent)
	return r.err
}

func (r *recordingNotifier) NotifyCompleted(ctx context.Context, jobID string, c Completion) error {
	r.completed = append(r.completed, c)
	return r.err
}

func (r *recordingNotifier) NotifyFailed(ctx context.Context, jobID string, f Failure) error {
	r.failed = append(r.failed, f)
	return r.err
}

type fakePublisher struct {
	published map[string][]string
	stored    map[string]string
	ttls      map[string]time.Duration
	pubErr    error
	setErr    error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		published: map[string][]string{},
		stored:    map[string]string{},
		ttls:      map[string]time.Duration{},
	}
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	if p.pubErr != nil {
		return redis.NewIntResult(0, p.pubErr)
	}
	p.published[channel] = append(p.published[channel], string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func (p *fakePublisher) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if p.setErr != nil {
		return redis.NewStatusResult("", p.setErr)
	}
	p.stored[key] = string(value.([]byte))
	p.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

// -------- tests --------

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{err: errors.New("down")}
	m := Multi{a, b}
	ctx := context.Background()

	err := m.NotifyProgress(ctx, "j", 5, PhaseUploading)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")

	_ = m.NotifyCompleted(ctx, "j", Completion{RemoteID: "f1"})
	_ = m.NotifyFailed(ctx, "j", Failure{Status: models.JobFailed})

	for _, r := range []*recordingNotifier{a, b} {
		assert.Equal(t, []float64{5}, r.progress)
		assert.Len(t, r.completed, 1)
		assert.Len(t, r.failed, 1)
	}

	assert.NoError(t, Multi{a}.NotifyProgress(ctx, "j", 10, PhaseUploading))
}

func TestLogNotifier_WritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(logging.NewJSON(&buf, "info"))
	ctx := context.Background()

	require.NoError(t, n.NotifyProgress(ctx, "j1", 50, PhaseUploading))
	require.NoError(t, n.NotifyCompleted(ctx, "j1", Completion{RemoteID: "f1", Link: "http://l"}))
	require.NoError(t, n.NotifyFailed(ctx, "j1", Failure{
		Status: models.JobQuotaExceeded, Kind: models.KindQuotaExceeded, RequiredBytes: 10, AvailableBytes: 5,
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, "notify", last["module"])
	assert.Equal(t, "quota_exceeded", last["error_kind"])
	assert.Equal(t, float64(10), last["required_bytes"])
}

func TestRedisNotifier_PublishesAndStores(t *testing.T) {
	p := newFakePublisher()
	n := NewRedisNotifier(p, "uploads", time.Hour)
	n.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	require.NoError(t, n.NotifyProgress(ctx, "j1", 25, PhaseUploading))
	require.NoError(t, n.NotifyCompleted(ctx, "j1", Completion{RemoteID: "f1", Link: "http://l", Bytes: 10}))

	require.Len(t, p.published["uploads"], 2)

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(p.stored["uploads:job:j1"]), &ev))
	assert.Equal(t, "completed", ev.Type)
	assert.Equal(t, "f1", ev.RemoteID)
	assert.Equal(t, 100.0, ev.Percent)
	assert.Equal(t, time.Hour, p.ttls["uploads:job:j1"])

	var first Event
	require.NoError(t, json.Unmarshal([]byte(p.published["uploads"][0]), &first))
	assert.Equal(t, "progress", first.Type)
	assert.Equal(t, PhaseUploading, first.Phase)
	assert.Equal(t, 25.0, first.Percent)
}

func TestRedisNotifier_Failure(t *testing.T) {
	p := newFakePublisher()
	n := NewRedisNotifier(p, "uploads", 0)

	require.NoError(t, n.NotifyFailed(context.Background(), "j2", Failure{
		Status: models.JobFailed, Kind: models.KindRateLimited, Message: "slow down",
	}))

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(p.stored[n.StatusKey("j2")]), &ev))
	assert.Equal(t, "failed", ev.Type)
	assert.Equal(t, models.JobFailed.String(), ev.Status)
	assert.Equal(t, "rate_limited", ev.ErrorKind)
}

func TestRedisNotifier_Errors(t *testing.T) {
	p := newFakePublisher()
	p.pubErr = errors.New("conn refused")
	n := NewRedisNotifier(p, "c", 0)
	err := n.NotifyProgress(context.Background(), "j", 1, PhaseStarting)
	require.ErrorContains(t, err, "publish progress")

	p = newFakePublisher()
	p.setErr = errors.New("readonly")
	n = NewRedisNotifier(p, "c", 0)
	err = n.NotifyProgress(context.Background(), "j", 1, PhaseStarting)
	require.ErrorContains(t, err, "store progress")
}
