package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// publisher is the subset of *redis.Client used here.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Event is the JSON document published for every job event.
type Event struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	Percent   float64   `json:"percent,omitempty"`
	Phase     Phase     `json:"phase,omitempty"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Link      string    `json:"link,omitempty"`
	Bytes     int64     `json:"bytes,omitempty"`
	Status    string    `json:"status,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Required  int64     `json:"required_bytes,omitempty"`
	Available int64     `json:"available_bytes,omitempty"`
	At        time.Time `json:"at"`
}

// RedisNotifier publishes events on a pub/sub channel and keeps the latest
// event per job under "<channel>:job:<id>" for polling clients.
type RedisNotifier struct {
	rdb     publisher
	channel string
	ttl     time.Duration
	now     func() time.Time
}

func NewRedisNotifier(rdb publisher, channel string, ttl time.Duration) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel, ttl: ttl, now: time.Now}
}

// StatusKey is where the latest event of jobID is stored.
func (n *RedisNotifier) StatusKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", n.channel, jobID)
}

func (n *RedisNotifier) NotifyProgress(ctx context.Context, jobID string, percent float64, phase Phase) error {
	return n.emit(ctx, Event{Type: "progress", JobID: jobID, Percent: percent, Phase: phase})
}

func (n *RedisNotifier) NotifyCompleted(ctx context.Context, jobID string, c Completion) error {
	return n.emit(ctx, Event{
		Type:     "completed",
		JobID:    jobID,
		Percent:  100,
		RemoteID: c.RemoteID,
		Link:     c.Link,
		Bytes:    c.Bytes,
	})
}

func (n *RedisNotifier) NotifyFailed(ctx context.Context, jobID string, f Failure) error {
	return n.emit(ctx, Event{
		Type:      "failed",
		JobID:     jobID,
		Status:    f.Status.String(),
		ErrorKind: string(f.Kind),
		Message:   f.Message,
		Required:  f.RequiredBytes,
		Available: f.AvailableBytes,
	})
}

func (n *RedisNotifier) emit(ctx context.Context, ev Event) error {
	ev.At = n.now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	if err := n.rdb.Set(ctx, n.StatusKey(ev.JobID), payload, n.ttl).Err(); err != nil {
		return fmt.Errorf("store %s: %w", ev.Type, err)
	}
	return nil
}
