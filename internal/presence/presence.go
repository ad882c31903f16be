package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// heartbeatTTL is how long a heartbeat keeps a user online. Clients beat
// every few seconds; a missed TTL means the user dropped.
const heartbeatTTL = 30 * time.Second

// Status is a point-in-time presence answer.
type Status struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// Tracker records heartbeats in Redis with a sliding TTL. The key doubles
// as the online flag and its value as the last-seen timestamp.
type Tracker struct {
	client *redis.Client
}

func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

func key(userID string) string {
	return "presence:" + userID
}

// Heartbeat marks the user online for the TTL window.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	if err := t.client.Set(ctx, key(userID), now.Format(time.RFC3339Nano), heartbeatTTL).Err(); err != nil {
		return fmt.Errorf("presence: heartbeat: %w", err)
	}
	// Keep a durable last-seen alongside the expiring flag.
	if err := t.client.Set(ctx, key(userID)+":last_seen", now.Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("presence: record last seen: %w", err)
	}
	return nil
}

// Get answers whether the user is online and when they were last seen.
func (t *Tracker) Get(ctx context.Context, userID string) (Status, error) {
	status := Status{UserID: userID}

	val, err := t.client.Get(ctx, key(userID)).Result()
	switch {
	case err == nil:
		status.IsOnline = true
		if ts, parseErr := time.Parse(time.RFC3339Nano, val); parseErr == nil {
			status.LastSeen = ts
		}
		return status, nil
	case !errors.Is(err, redis.Nil):
		return Status{}, fmt.Errorf("presence: get: %w", err)
	}

	last, err := t.client.Get(ctx, key(userID)+":last_seen").Result()
	if errors.Is(err, redis.Nil) {
		return status, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("presence: get last seen: %w", err)
	}
	if ts, parseErr := time.Parse(time.RFC3339Nano, last); parseErr == nil {
		status.LastSeen = ts
	}
	return status, nil
}
