package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/veloracare/clinic-connect/internal/scheduler"
	"github.com/veloracare/clinic-connect/internal/whatsapp"
	"github.com/veloracare/clinic-connect/pkg/logging"
)

// MessageSender is the outbound channel for reminder texts.
type MessageSender interface {
	Send(ctx context.Context, msg whatsapp.OutboundMessage) (whatsapp.SendResult, error)
}

// ReminderNotifier turns a due reminder job into a patient-facing message.
// Without a sender, or for events with no patient phone, it logs instead of
// sending, so the pipeline stays observable in every deployment.
type ReminderNotifier struct {
	events *Store
	sender MessageSender
	logger *logging.Logger
}

func NewReminderNotifier(events *Store, sender MessageSender, logger *logging.Logger) *ReminderNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReminderNotifier{events: events, sender: sender, logger: logger}
}

// SendReminder satisfies the reminder worker's Notifier.
func (n *ReminderNotifier) SendReminder(ctx context.Context, job scheduler.Job) error {
	ev, err := n.events.Get(ctx, job.EventID)
	if err != nil {
		return fmt.Errorf("calendar: load event for reminder: %w", err)
	}
	if ev.Status == EventCancelled {
		// Cancelled between dispatch and fire.
		n.logger.Info("suppressing reminder for cancelled event", "event_id", ev.ID)
		return nil
	}

	body := reminderBody(ev, job.Horizon)
	if n.sender == nil || ev.PatientPhone == "" {
		n.logger.Info("appointment reminder due",
			"event_id", ev.ID,
			"user_id", ev.UserID,
			"horizon", job.Horizon,
			"start_at", ev.StartAt,
		)
		return nil
	}

	if _, err := n.sender.Send(ctx, whatsapp.OutboundMessage{
		To:   ev.PatientPhone,
		Body: body,
	}); err != nil {
		return fmt.Errorf("calendar: send reminder: %w", err)
	}
	return nil
}

func reminderBody(ev *Event, horizon scheduler.Horizon) string {
	when := ev.StartAt.Format("Monday, Jan 2 at 3:04 PM MST")
	summary := ev.Summary
	if summary == "" {
		summary = "your appointment"
	}
	if horizon == scheduler.Horizon2h {
		return fmt.Sprintf("Reminder: %s starts at %s. See you soon!", summary, ev.StartAt.Format(time.Kitchen))
	}
	return fmt.Sprintf("Reminder: %s is coming up on %s. Reply here if you need to reschedule.", summary, when)
}
