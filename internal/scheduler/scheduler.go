package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	observemetrics "github.com/veloracare/clinic-connect/internal/observability/metrics"
	"github.com/veloracare/clinic-connect/pkg/logging"
)

// Appointment is the slice of a calendar event the scheduler cares about.
type Appointment struct {
	EventID uuid.UUID
	UserID  string
	StartAt time.Time
}

// Scheduler maintains the reminder jobs for an appointment. Calling Schedule
// again with a new start time moves the jobs; horizons already in the past
// are skipped rather than fired late.
type Scheduler struct {
	store   *Store
	logger  *logging.Logger
	metrics *observemetrics.ReminderMetrics
}

func NewScheduler(store *Store, logger *logging.Logger, m *observemetrics.ReminderMetrics) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{store: store, logger: logger, metrics: m}
}

// Schedule creates or moves one job per horizon. Returns the number of jobs
// actually scheduled (past horizons don't count).
func (s *Scheduler) Schedule(ctx context.Context, appt Appointment) (int, error) {
	now := time.Now().UTC()
	scheduled := 0
	for _, horizon := range Horizons {
		fireAt := appt.StartAt.Add(-horizon.Offset())
		if !fireAt.After(now) {
			// Horizon already passed; cancel any stale job from a previous
			// start time instead of firing immediately.
			if err := s.store.CancelHorizon(ctx, appt.EventID, horizon); err != nil {
				return scheduled, err
			}
			continue
		}
		if _, err := s.store.Upsert(ctx, Job{
			EventID: appt.EventID,
			UserID:  appt.UserID,
			Horizon: horizon,
			FireAt:  fireAt,
		}); err != nil {
			return scheduled, fmt.Errorf("scheduler: schedule %s reminder: %w", horizon, err)
		}
		s.metrics.ObserveScheduled(string(horizon))
		scheduled++
	}

	s.logger.Info("reminders scheduled",
		"event_id", appt.EventID,
		"user_id", appt.UserID,
		"start_at", appt.StartAt,
		"count", scheduled,
	)
	return scheduled, nil
}

// Cancel drops every unfired reminder for the event.
func (s *Scheduler) Cancel(ctx context.Context, eventID uuid.UUID) error {
	n, err := s.store.CancelByEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("reminders cancelled", "event_id", eventID, "count", n)
	}
	return nil
}
