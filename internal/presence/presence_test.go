package presence

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTracker(client), mr
}

func TestHeartbeatMarksOnline(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	if err := tracker.Heartbeat(ctx, "user-1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	status, err := tracker.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !status.IsOnline {
		t.Fatal("expected user online after heartbeat")
	}
	if status.LastSeen.IsZero() {
		t.Fatal("expected last seen set")
	}
}

func TestPresenceExpiresAfterTTL(t *testing.T) {
	tracker, mr := newTracker(t)
	ctx := context.Background()

	if err := tracker.Heartbeat(ctx, "user-1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	mr.FastForward(31 * time.Second)

	status, err := tracker.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if status.IsOnline {
		t.Fatal("expected user offline after TTL")
	}
	if status.LastSeen.IsZero() {
		t.Fatal("last seen must survive the online flag expiring")
	}
}

func TestGetUnknownUser(t *testing.T) {
	tracker, _ := newTracker(t)

	status, err := tracker.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if status.IsOnline {
		t.Fatal("unknown user must be offline")
	}
	if !status.LastSeen.IsZero() {
		t.Fatal("unknown user has no last seen")
	}
}
