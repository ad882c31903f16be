package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue(8)
	jobID := uuid.New()
	payload, err := encodeJobPayload(jobID)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if err := q.Send(context.Background(), payload); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs, err := q.Receive(context.Background(), 10, 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}

	decoded, err := decodeJobPayload(msgs[0].Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != jobID {
		t.Fatalf("expected job id %s, got %s", jobID, decoded)
	}
}

func TestMemoryQueueReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)
	start := time.Now()
	msgs, err := q.Receive(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msgs != nil {
		t.Fatalf("expected empty receive, got %d messages", len(msgs))
	}
	if time.Since(start) < 900*time.Millisecond {
		t.Fatal("receive returned before the wait elapsed")
	}
}

func TestMemoryQueueReceiveBatches(t *testing.T) {
	q := NewMemoryQueue(8)
	for i := 0; i < 3; i++ {
		payload, _ := encodeJobPayload(uuid.New())
		if err := q.Send(context.Background(), payload); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	msgs, err := q.Receive(context.Background(), 10, 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected batch of 3, got %d", len(msgs))
	}
}

func TestMemoryQueueReceiveHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if _, err := q.Receive(ctx, 1, 30); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecodeJobPayloadRejectsGarbage(t *testing.T) {
	if _, err := decodeJobPayload("not json"); err == nil {
		t.Fatal("expected error for malformed payload")
	}
	if _, err := decodeJobPayload(`{"job_id":"00000000-0000-0000-0000-000000000000"}`); err == nil {
		t.Fatal("expected error for nil job id")
	}
}
