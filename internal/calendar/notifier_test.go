package calendar

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"

	"github.com/veloracare/clinic-connect/internal/scheduler"
	"github.com/veloracare/clinic-connect/internal/whatsapp"
)

type fakeSender struct {
	sent []whatsapp.OutboundMessage
}

func (f *fakeSender) Send(_ context.Context, msg whatsapp.OutboundMessage) (whatsapp.SendResult, error) {
	f.sent = append(f.sent, msg)
	return whatsapp.SendResult{ProviderMessageID: "SM1"}, nil
}

func expectEvent(mock pgxmock.PgxPoolIface, ev Event) {
	mock.ExpectQuery("SELECT id, user_id").
		WithArgs(ev.ID).
		WillReturnRows(pgxmock.NewRows(eventRows()).
			AddRow(ev.ID, ev.UserID, ev.ProviderEventID, ev.Summary, ev.PatientPhone,
				ev.StartAt, ev.EndAt, ev.Status, ev.ReminderSent24h, ev.ReminderSent2h))
}

func TestSendReminderMessagesPatient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	ev := Event{
		ID:              uuid.New(),
		UserID:          "user-1",
		ProviderEventID: "gcal-1",
		Summary:         "Laser follow-up",
		PatientPhone:    "+15551234567",
		StartAt:         time.Now().UTC().Add(24 * time.Hour),
		EndAt:           time.Now().UTC().Add(25 * time.Hour),
		Status:          EventConfirmed,
	}
	expectEvent(mock, ev)

	sender := &fakeSender{}
	n := NewReminderNotifier(NewStore(mock), sender, nil)

	err = n.SendReminder(context.Background(), scheduler.Job{
		ID:      uuid.New(),
		EventID: ev.ID,
		Horizon: scheduler.Horizon24h,
	})
	if err != nil {
		t.Fatalf("send reminder: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.sent))
	}
	if sender.sent[0].To != "+15551234567" {
		t.Fatalf("unexpected recipient %q", sender.sent[0].To)
	}
	if !strings.Contains(sender.sent[0].Body, "Laser follow-up") {
		t.Fatalf("reminder body missing summary: %q", sender.sent[0].Body)
	}
}

func TestSendReminderWithoutPhoneLogsOnly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	ev := Event{
		ID:      uuid.New(),
		UserID:  "user-1",
		StartAt: time.Now().UTC().Add(2 * time.Hour),
		EndAt:   time.Now().UTC().Add(3 * time.Hour),
		Status:  EventConfirmed,
	}
	ev.ProviderEventID = "gcal-2"
	expectEvent(mock, ev)

	sender := &fakeSender{}
	n := NewReminderNotifier(NewStore(mock), sender, nil)

	if err := n.SendReminder(context.Background(), scheduler.Job{EventID: ev.ID, Horizon: scheduler.Horizon2h}); err != nil {
		t.Fatalf("send reminder: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("no patient phone: must log, not send")
	}
}

func TestSendReminderSuppressedForCancelledEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	ev := Event{
		ID:              uuid.New(),
		UserID:          "user-1",
		ProviderEventID: "gcal-3",
		PatientPhone:    "+15551234567",
		StartAt:         time.Now().UTC().Add(2 * time.Hour),
		EndAt:           time.Now().UTC().Add(3 * time.Hour),
		Status:          EventCancelled,
	}
	expectEvent(mock, ev)

	sender := &fakeSender{}
	n := NewReminderNotifier(NewStore(mock), sender, nil)

	if err := n.SendReminder(context.Background(), scheduler.Job{EventID: ev.ID, Horizon: scheduler.Horizon2h}); err != nil {
		t.Fatalf("send reminder: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("cancelled event must not message the patient")
	}
}
