// Package events publishes board change notifications over Redis pub/sub
// so connected board UIs can refresh after a successful mutation. Publishing
// is best-effort: the write already committed, so a failed publish is
// logged by the caller and never fails the request.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	TypeProjectUpdated  = "project.updated"
	TypeProjectDeleted  = "project.deleted"
	TypeActivityCreated = "activity.created"
	TypeActivityUpdated = "activity.updated"
	TypeActivityDeleted = "activity.deleted"
	TypeActivityClaim   = "activity.claim"
)

type Event struct {
	Type      string    `json:"type"`
	ProjectID string    `json:"projectId"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

type Broadcaster struct {
	client  *redis.Client
	channel string
}

func NewBroadcaster(redisURL, channel string) (*Broadcaster, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewBroadcasterWithClient(redis.NewClient(opts), channel), nil
}

func NewBroadcasterWithClient(client *redis.Client, channel string) *Broadcaster {
	return &Broadcaster{client: client, channel: channel}
}

// Publish sends the event to every subscriber of the board channel.
func (b *Broadcaster) Publish(ctx context.Context, eventType, projectID string, payload any) error {
	event := Event{Type: eventType, ProjectID: projectID, Payload: payload, At: time.Now().UTC()}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *Broadcaster) Close() error {
	return b.client.Close()
}
