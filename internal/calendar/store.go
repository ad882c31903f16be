package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/veloracare/clinic-connect/internal/scheduler"
)

// EventStatus mirrors the provider's event state.
type EventStatus string

const (
	EventConfirmed EventStatus = "confirmed"
	EventCancelled EventStatus = "cancelled"
)

// ErrEventNotFound is returned when no mirrored event matches.
var ErrEventNotFound = errors.New("calendar: event not found")

// Event is one appointment mirrored from the user's provider calendar.
// Reminder flags record which horizons already went out so a re-sync of an
// unchanged event never re-sends.
type Event struct {
	ID              uuid.UUID
	UserID          string
	ProviderEventID string
	Summary         string
	PatientPhone    string
	StartAt         time.Time
	EndAt           time.Time
	Status          EventStatus
	ReminderSent24h bool
	ReminderSent2h  bool
}

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists the mirrored calendar in Postgres.
type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	return &Store{pool: pool}
}

const eventColumns = `id, user_id, provider_event_id, COALESCE(summary, ''),
		COALESCE(patient_phone, ''), start_at, end_at, status,
		reminder_sent_24h, reminder_sent_2h`

func scanEvent(row pgx.Row) (*Event, error) {
	var ev Event
	err := row.Scan(
		&ev.ID, &ev.UserID, &ev.ProviderEventID, &ev.Summary,
		&ev.PatientPhone, &ev.StartAt, &ev.EndAt, &ev.Status,
		&ev.ReminderSent24h, &ev.ReminderSent2h,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("calendar: scan event: %w", err)
	}
	return &ev, nil
}

// GetByProviderEventID loads the mirror row for a provider event.
func (s *Store) GetByProviderEventID(ctx context.Context, userID, providerEventID string) (*Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM calendar_events WHERE user_id = $1 AND provider_event_id = $2`,
		userID, providerEventID,
	)
	return scanEvent(row)
}

// Get loads one mirrored event by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM calendar_events WHERE id = $1`,
		id,
	)
	return scanEvent(row)
}

// Upsert writes the mirror row. A changed start time clears the reminder
// flags: a moved appointment earns fresh reminders.
func (s *Store) Upsert(ctx context.Context, ev Event) (uuid.UUID, error) {
	query := `
		INSERT INTO calendar_events (
			id, user_id, provider_event_id, summary, patient_phone,
			start_at, end_at, status
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
		ON CONFLICT (user_id, provider_event_id) DO UPDATE SET
			summary = COALESCE(NULLIF(EXCLUDED.summary, ''), calendar_events.summary),
			patient_phone = COALESCE(NULLIF(EXCLUDED.patient_phone, ''), calendar_events.patient_phone),
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			status = EXCLUDED.status,
			reminder_sent_24h = CASE
				WHEN calendar_events.start_at <> EXCLUDED.start_at THEN false
				ELSE calendar_events.reminder_sent_24h
			END,
			reminder_sent_2h = CASE
				WHEN calendar_events.start_at <> EXCLUDED.start_at THEN false
				ELSE calendar_events.reminder_sent_2h
			END,
			updated_at = now()
		RETURNING id
	`
	if ev.Status == "" {
		ev.Status = EventConfirmed
	}
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query,
		uuid.New(), ev.UserID, ev.ProviderEventID, ev.Summary, ev.PatientPhone,
		ev.StartAt.UTC(), ev.EndAt.UTC(), ev.Status,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("calendar: upsert event: %w", err)
	}
	return id, nil
}

// MarkCancelled flips the mirror row to cancelled.
func (s *Store) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE calendar_events
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("calendar: mark cancelled: %w", err)
	}
	return nil
}

// MarkReminderSent flags the horizon as delivered. Satisfies the reminder
// worker's SentRecorder.
func (s *Store) MarkReminderSent(ctx context.Context, eventID uuid.UUID, horizon scheduler.Horizon) error {
	var column string
	switch horizon {
	case scheduler.Horizon24h:
		column = "reminder_sent_24h"
	case scheduler.Horizon2h:
		column = "reminder_sent_2h"
	default:
		return fmt.Errorf("calendar: unknown reminder horizon %q", horizon)
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE calendar_events SET `+column+` = true, updated_at = now() WHERE id = $1`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("calendar: mark reminder sent: %w", err)
	}
	return nil
}

// ListUpcomingByUser returns the user's confirmed future events.
func (s *Store) ListUpcomingByUser(ctx context.Context, userID string) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM calendar_events
		WHERE user_id = $1 AND status = 'confirmed' AND start_at > now()
		ORDER BY start_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("calendar: list upcoming: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(
			&ev.ID, &ev.UserID, &ev.ProviderEventID, &ev.Summary,
			&ev.PatientPhone, &ev.StartAt, &ev.EndAt, &ev.Status,
			&ev.ReminderSent24h, &ev.ReminderSent2h,
		); err != nil {
			return nil, fmt.Errorf("calendar: scan upcoming event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
