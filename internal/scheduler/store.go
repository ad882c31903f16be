package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Horizon is how far ahead of the appointment a reminder fires.
type Horizon string

const (
	Horizon24h Horizon = "24h"
	Horizon2h  Horizon = "2h"
)

// Horizons lists every reminder offset, longest first.
var Horizons = []Horizon{Horizon24h, Horizon2h}

// Offset returns the duration before the appointment start.
func (h Horizon) Offset() time.Duration {
	switch h {
	case Horizon24h:
		return 24 * time.Hour
	case Horizon2h:
		return 2 * time.Hour
	}
	return 0
}

// JobStatus is the lifecycle of one reminder job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobDispatched JobStatus = "dispatched"
	JobFired      JobStatus = "fired"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// ErrJobNotFound is returned when a job id resolves to nothing.
var ErrJobNotFound = errors.New("scheduler: job not found")

// Job is one durable reminder. Jobs are unique per (event, horizon) so a
// rescheduled appointment updates in place instead of stacking reminders.
type Job struct {
	ID       uuid.UUID
	EventID  uuid.UUID
	UserID   string
	Horizon  Horizon
	FireAt   time.Time
	Status   JobStatus
	Attempts int
}

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists reminder jobs in Postgres.
type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	return &Store{pool: pool}
}

// Upsert schedules or moves a job. A fired or cancelled job is revived only
// when the fire time actually changed, so repeated syncs of an unchanged
// event never re-send a reminder.
func (s *Store) Upsert(ctx context.Context, job Job) (uuid.UUID, error) {
	query := `
		INSERT INTO reminder_jobs (id, event_id, user_id, horizon, fire_at, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (event_id, horizon) DO UPDATE SET
			fire_at = EXCLUDED.fire_at,
			user_id = EXCLUDED.user_id,
			status = CASE
				WHEN reminder_jobs.fire_at <> EXCLUDED.fire_at THEN 'pending'
				ELSE reminder_jobs.status
			END,
			attempts = CASE
				WHEN reminder_jobs.fire_at <> EXCLUDED.fire_at THEN 0
				ELSE reminder_jobs.attempts
			END,
			updated_at = now()
		RETURNING id
	`
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query,
		uuid.New(), job.EventID, job.UserID, job.Horizon, job.FireAt.UTC(),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("scheduler: upsert job: %w", err)
	}
	return id, nil
}

// CancelByEvent cancels every unfired job for the event.
func (s *Store) CancelByEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled', updated_at = now()
		WHERE event_id = $1 AND status IN ('pending', 'dispatched')`,
		eventID,
	)
	if err != nil {
		return 0, fmt.Errorf("scheduler: cancel jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CancelHorizon cancels the unfired job for one (event, horizon) pair. Used
// when an appointment moves inside a horizon's window: the stale job must not
// fire at its old time.
func (s *Store) CancelHorizon(ctx context.Context, eventID uuid.UUID, horizon Horizon) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled', updated_at = now()
		WHERE event_id = $1 AND horizon = $2 AND status IN ('pending', 'dispatched')`,
		eventID, horizon,
	)
	if err != nil {
		return fmt.Errorf("scheduler: cancel %s job: %w", horizon, err)
	}
	return nil
}

// ClaimDue atomically moves due pending jobs to dispatched and returns them.
// SKIP LOCKED keeps multiple dispatchers from claiming the same batch.
func (s *Store) ClaimDue(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		UPDATE reminder_jobs
		SET status = 'dispatched', updated_at = now()
		WHERE id IN (
			SELECT id FROM reminder_jobs
			WHERE status = 'pending' AND fire_at <= now()
			ORDER BY fire_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_id, user_id, horizon, fire_at, status, attempts
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("scheduler: claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.EventID, &job.UserID, &job.Horizon, &job.FireAt, &job.Status, &job.Attempts); err != nil {
			return nil, fmt.Errorf("scheduler: scan claimed job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Get loads a single job.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	var job Job
	err := s.pool.QueryRow(ctx, `
		SELECT id, event_id, user_id, horizon, fire_at, status, attempts
		FROM reminder_jobs WHERE id = $1`,
		id,
	).Scan(&job.ID, &job.EventID, &job.UserID, &job.Horizon, &job.FireAt, &job.Status, &job.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: get job: %w", err)
	}
	return &job, nil
}

// MarkFired records a successful delivery. Only dispatched jobs can fire;
// a job cancelled mid-flight stays cancelled.
func (s *Store) MarkFired(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'fired', updated_at = now()
		WHERE id = $1 AND status = 'dispatched'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("scheduler: mark fired: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release puts a dispatched job back to pending so the next dispatcher tick
// retries it, used when the enqueue itself failed.
func (s *Store) Release(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'pending', updated_at = now()
		WHERE id = $1 AND status = 'dispatched'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("scheduler: release job: %w", err)
	}
	return nil
}

// MarkFailed bumps the attempt counter and parks the job as failed.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'failed', attempts = attempts + 1, updated_at = now()
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("scheduler: mark failed: %w", err)
	}
	return nil
}

// ListByEvent returns all jobs for an event, used by sync reconciliation.
func (s *Store) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, user_id, horizon, fire_at, status, attempts
		FROM reminder_jobs WHERE event_id = $1
		ORDER BY fire_at`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list jobs by event: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.EventID, &job.UserID, &job.Horizon, &job.FireAt, &job.Status, &job.Attempts); err != nil {
			return nil, fmt.Errorf("scheduler: scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
