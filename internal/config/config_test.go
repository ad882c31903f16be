package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
	if cfg.CalendarSyncInterval != 15*time.Minute {
		t.Errorf("expected 15m sync interval, got %s", cfg.CalendarSyncInterval)
	}
	if cfg.ReminderPollInterval != 30*time.Second {
		t.Errorf("expected 30s poll interval, got %s", cfg.ReminderPollInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("REMINDER_POLL_INTERVAL", "5s")
	t.Setenv("REMINDER_CLAIM_BATCH", "10")

	cfg := Load()

	if cfg.Port != "9999" {
		t.Errorf("expected port override, got %s", cfg.Port)
	}
	if !cfg.UseMemoryQueue {
		t.Error("expected memory queue enabled")
	}
	if cfg.ReminderPollInterval != 5*time.Second {
		t.Errorf("expected 5s poll interval, got %s", cfg.ReminderPollInterval)
	}
	if cfg.ReminderClaimBatch != 10 {
		t.Errorf("expected claim batch 10, got %d", cfg.ReminderClaimBatch)
	}
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("REMINDER_CLAIM_BATCH", "not-a-number")
	t.Setenv("USE_MEMORY_QUEUE", "not-a-bool")
	t.Setenv("CALENDAR_SYNC_INTERVAL", "soon")

	cfg := Load()

	if cfg.ReminderClaimBatch != 50 {
		t.Errorf("expected default claim batch, got %d", cfg.ReminderClaimBatch)
	}
	if cfg.UseMemoryQueue {
		t.Error("expected default memory queue false")
	}
	if cfg.CalendarSyncInterval != 15*time.Minute {
		t.Errorf("expected default sync interval, got %s", cfg.CalendarSyncInterval)
	}
}
