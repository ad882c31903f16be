package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewStore(mock), mock
}

func TestScheduleCreatesBothHorizons(t *testing.T) {
	store, mock := newMockStore(t)
	eventID := uuid.New()
	startAt := time.Now().UTC().Add(48 * time.Hour)

	for range Horizons {
		mock.ExpectQuery("INSERT INTO reminder_jobs").
			WithArgs(pgxmock.AnyArg(), eventID, "user-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	}

	s := NewScheduler(store, nil, nil)
	n, err := s.Schedule(context.Background(), Appointment{
		EventID: eventID,
		UserID:  "user-1",
		StartAt: startAt,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected both horizons scheduled, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestScheduleSkipsPastHorizons(t *testing.T) {
	store, mock := newMockStore(t)
	eventID := uuid.New()
	// 3 hours out: the 24h horizon is already behind us, only 2h remains.
	startAt := time.Now().UTC().Add(3 * time.Hour)

	mock.ExpectExec("UPDATE reminder_jobs").
		WithArgs(eventID, Horizon24h).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("INSERT INTO reminder_jobs").
		WithArgs(pgxmock.AnyArg(), eventID, "user-1", Horizon2h, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(uuid.New()))

	s := NewScheduler(store, nil, nil)
	n, err := s.Schedule(context.Background(), Appointment{
		EventID: eventID,
		UserID:  "user-1",
		StartAt: startAt,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the 2h horizon, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestScheduleAllHorizonsPast(t *testing.T) {
	store, mock := newMockStore(t)
	s := NewScheduler(store, nil, nil)
	eventID := uuid.New()

	// Both horizons are behind an appointment 30 minutes out; any stale jobs
	// from an earlier start time get cancelled instead of fired late.
	for _, horizon := range Horizons {
		mock.ExpectExec("UPDATE reminder_jobs").
			WithArgs(eventID, horizon).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	}

	n, err := s.Schedule(context.Background(), Appointment{
		EventID: eventID,
		UserID:  "user-1",
		StartAt: time.Now().UTC().Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no reminders for an imminent appointment, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCancel(t *testing.T) {
	store, mock := newMockStore(t)
	eventID := uuid.New()

	mock.ExpectExec("UPDATE reminder_jobs").
		WithArgs(eventID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	s := NewScheduler(store, nil, nil)
	if err := s.Cancel(context.Background(), eventID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHorizonOffsets(t *testing.T) {
	if Horizon24h.Offset() != 24*time.Hour {
		t.Error("24h horizon offset wrong")
	}
	if Horizon2h.Offset() != 2*time.Hour {
		t.Error("2h horizon offset wrong")
	}
}
