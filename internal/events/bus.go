// Package events implements the cross-process job event stream of
// SPEC_FULL.md §11: internal/orchestrator (running inside cmd/worker)
// publishes job lifecycle events, and cmd/server fans them out to SSE
// subscribers. Grounded on the teacher's apps/mcp-server/internal/api/events.Bus
// (trimmed from pattern-matched, priority-ordered subscriptions down
// to the one thing this module needs: per-job fan-out of a handful of
// named event types), but backed by Redis Pub/Sub instead of an
// in-memory channel map, since the publisher (cmd/worker) and the
// subscribers (cmd/server's SSE handlers) are separate processes in
// this system's deployment, unlike the teacher's single mcp-server
// binary.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vosbek/repoindex/internal/observability"
)

const channelPrefix = "repoindex:job-events:"

// Event is one job lifecycle notification. Type is one of
// job.started, chunk.checkpointed, job.completed, job.failed.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	JobID     string         `json:"job_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus publishes job lifecycle events to, and subscribes to them from,
// Redis Pub/Sub channels keyed per job ID.
type Bus struct {
	client *redis.Client
	logger observability.Logger
}

// NewBus constructs a Bus over an existing Redis client, reusing the
// connection internal/cache already holds rather than opening a
// second one.
func NewBus(client *redis.Client, logger observability.Logger) *Bus {
	return &Bus{client: client, logger: logger}
}

// Publish emits an event for jobID. A publish error is logged and
// swallowed: a dropped progress notification is harmless, since A
// (polled) remains the source of truth per spec.md §6.
func (b *Bus) Publish(jobID, eventType string, data map[string]any) {
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		JobID:     jobID,
		Timestamp: time.Now(),
		Data:      data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("marshaling job event", map[string]any{"job_id": jobID, "error": err.Error()})
		return
	}
	if err := b.client.Publish(context.Background(), channelPrefix+jobID, payload).Err(); err != nil {
		b.logger.Error("publishing job event", map[string]any{"job_id": jobID, "type": eventType, "error": err.Error()})
	}
}

// Subscribe opens a Redis subscription for jobID's channel and decodes
// events onto the returned channel until ctx is cancelled or
// unsubscribe is called. The caller must drain the returned channel
// until it closes to avoid leaking the subscription goroutine.
func (b *Bus) Subscribe(ctx context.Context, jobID string) (<-chan Event, func()) {
	sub := b.client.Subscribe(ctx, channelPrefix+jobID)
	out := make(chan Event, 16)

	var closeOnce sync.Once
	unsubscribe := func() {
		closeOnce.Do(func() { _ = sub.Close() })
	}

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Error("decoding job event", map[string]any{"job_id": jobID, "error": err.Error()})
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, unsubscribe
}
