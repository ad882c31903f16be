package identity

import (
	"context"
	"testing"
)

func TestUserIDRoundTrip(t *testing.T) {
	ctx := WithUserID(context.Background(), "user-123")
	got, ok := UserIDFromContext(ctx)
	if !ok || got != "user-123" {
		t.Fatalf("expected user-123, got %q / %v", got, ok)
	}
}

func TestUserIDMissing(t *testing.T) {
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("expected no user id in empty context")
	}
}

func TestUserIDEmptyRejected(t *testing.T) {
	ctx := WithUserID(context.Background(), "")
	if _, ok := UserIDFromContext(ctx); ok {
		t.Fatal("expected empty user id to be treated as absent")
	}
}
