package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veloracare/clinic-connect/internal/credentials"
	"github.com/veloracare/clinic-connect/internal/scheduler"
	"github.com/veloracare/clinic-connect/pkg/logging"
)

// TokenProvider mints a valid provider access token for a user.
type TokenProvider interface {
	ValidAccessToken(ctx context.Context, userID, provider string) (string, error)
}

// UserLister finds users whose calendars should be synced.
type UserLister interface {
	ListConnected(ctx context.Context, provider string) ([]string, error)
}

// ReminderScheduler maintains reminder jobs for mirrored events.
type ReminderScheduler interface {
	Schedule(ctx context.Context, appt scheduler.Appointment) (int, error)
	Cancel(ctx context.Context, eventID uuid.UUID) error
}

// Sync mirrors provider calendars into calendar_events and keeps the
// reminder jobs consistent with what it sees: new events get reminders,
// moved events get rescheduled ones, cancelled events lose theirs.
type Sync struct {
	events    *Store
	source    EventSource
	tokens    TokenProvider
	users     UserLister
	reminders ReminderScheduler
	logger    *logging.Logger

	interval time.Duration
	window   time.Duration
}

type SyncConfig struct {
	Events    *Store
	Source    EventSource
	Tokens    TokenProvider
	Users     UserLister
	Reminders ReminderScheduler
	Logger    *logging.Logger
	Interval  time.Duration
	Window    time.Duration
}

func NewSync(cfg SyncConfig) *Sync {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 14 * 24 * time.Hour
	}
	return &Sync{
		events:    cfg.Events,
		source:    cfg.Source,
		tokens:    cfg.Tokens,
		users:     cfg.Users,
		reminders: cfg.Reminders,
		logger:    cfg.Logger,
		interval:  cfg.Interval,
		window:    cfg.Window,
	}
}

// Start runs the sync loop until the context is cancelled.
func (s *Sync) Start(ctx context.Context) {
	s.logger.Info("starting calendar sync",
		"interval", s.interval.String(),
		"window", s.window.String(),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	s.syncAll(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("calendar sync shutting down")
			return
		case <-ticker.C:
			s.syncAll(ctx)
		}
	}
}

func (s *Sync) syncAll(ctx context.Context) {
	userIDs, err := s.users.ListConnected(ctx, credentials.ProviderGoogleCalendar)
	if err != nil {
		s.logger.Error("failed to list connected users", "error", err)
		return
	}
	for _, userID := range userIDs {
		if err := s.SyncUser(ctx, userID); err != nil {
			if errors.Is(err, credentials.ErrNotConnected) || errors.Is(err, credentials.ErrReconnectRequired) {
				s.logger.Warn("skipping calendar sync, user must reconnect",
					"user_id", userID, "error", err)
				continue
			}
			s.logger.Error("calendar sync failed", "user_id", userID, "error", err)
		}
	}
}

// SyncUser mirrors one user's upcoming events and reconciles reminders.
func (s *Sync) SyncUser(ctx context.Context, userID string) error {
	token, err := s.tokens.ValidAccessToken(ctx, userID, credentials.ProviderGoogleCalendar)
	if err != nil {
		return err
	}

	providerEvents, err := s.source.ListUpcoming(ctx, token, s.window)
	if err != nil {
		return fmt.Errorf("calendar: sync user %s: %w", userID, err)
	}

	for _, pe := range providerEvents {
		if err := s.reconcileEvent(ctx, userID, pe); err != nil {
			s.logger.Error("failed to reconcile event",
				"user_id", userID, "provider_event_id", pe.ID, "error", err)
		}
	}

	s.logger.Debug("calendar synced", "user_id", userID, "events", len(providerEvents))
	return nil
}

func (s *Sync) reconcileEvent(ctx context.Context, userID string, pe ProviderEvent) error {
	existing, err := s.events.GetByProviderEventID(ctx, userID, pe.ID)
	if err != nil && !errors.Is(err, ErrEventNotFound) {
		return err
	}

	if pe.Cancelled {
		if existing == nil || existing.Status == EventCancelled {
			return nil
		}
		if err := s.events.MarkCancelled(ctx, existing.ID); err != nil {
			return err
		}
		if err := s.reminders.Cancel(ctx, existing.ID); err != nil {
			return err
		}
		s.logger.Info("event cancelled", "user_id", userID, "event_id", existing.ID)
		return nil
	}

	if existing != nil && existing.Status == EventConfirmed && existing.StartAt.Equal(pe.StartAt) {
		// Nothing moved; leave the reminder jobs alone.
		return nil
	}

	id, err := s.events.Upsert(ctx, Event{
		UserID:          userID,
		ProviderEventID: pe.ID,
		Summary:         pe.Summary,
		PatientPhone:    pe.PatientPhone,
		StartAt:         pe.StartAt,
		EndAt:           pe.EndAt,
		Status:          EventConfirmed,
	})
	if err != nil {
		return err
	}

	if _, err := s.reminders.Schedule(ctx, scheduler.Appointment{
		EventID: id,
		UserID:  userID,
		StartAt: pe.StartAt,
	}); err != nil {
		return err
	}

	if existing == nil {
		s.logger.Info("event mirrored", "user_id", userID, "event_id", id, "start_at", pe.StartAt)
	} else {
		s.logger.Info("event rescheduled",
			"user_id", userID, "event_id", id,
			"old_start", existing.StartAt, "new_start", pe.StartAt)
	}
	return nil
}
