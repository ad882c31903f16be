package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Channel identifies the transport a conversation lives on.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelInApp    Channel = "inapp"
)

// ErrNumberUnassigned is returned when no owner holds the provider number.
var ErrNumberUnassigned = errors.New("directory: number not assigned to any user")

// ErrChannelInvalid is returned for channels outside the known set.
var ErrChannelInvalid = errors.New("directory: unknown channel")

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists conversations and provider-number assignments in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// Conversation is one durable thread per (owner, channel, contact phone).
type Conversation struct {
	ID             uuid.UUID
	OwnerID        string
	Channel        Channel
	ContactPhone   string
	ContactName    string
	AssignedNumber string
	UnreadCount    int
	LastPreview    string
	LastMessageAt  *time.Time
	LastReadAt     *time.Time
}

// UpsertInput carries the identity of a conversation plus mutable fields.
type UpsertInput struct {
	OwnerID        string
	Channel        Channel
	ContactPhone   string
	ContactName    string
	AssignedNumber string
}

// Upsert normalizes the contact phone, then inserts a conversation or patches
// the mutable fields of the existing row. Safe to call repeatedly with the
// same input: the (owner_id, channel, contact_phone) conflict target keeps
// the row unique.
func (s *Store) Upsert(ctx context.Context, q Querier, input UpsertInput) (uuid.UUID, error) {
	if q == nil {
		q = s.pool
	}
	switch input.Channel {
	case ChannelWhatsApp, ChannelSMS, ChannelInApp:
	default:
		return uuid.Nil, fmt.Errorf("%w: %q", ErrChannelInvalid, input.Channel)
	}
	phone, err := NormalizePhone(input.ContactPhone)
	if err != nil {
		return uuid.Nil, err
	}
	query := `
		INSERT INTO conversations (id, owner_id, channel, contact_phone, contact_name, assigned_number)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
		ON CONFLICT (owner_id, channel, contact_phone)
		DO UPDATE SET contact_name = COALESCE(NULLIF(EXCLUDED.contact_name, ''), conversations.contact_name),
			assigned_number = COALESCE(NULLIF(EXCLUDED.assigned_number, ''), conversations.assigned_number),
			updated_at = now()
		RETURNING id
	`
	var id uuid.UUID
	if err := q.QueryRow(ctx, query, uuid.New(), input.OwnerID, input.Channel, phone, input.ContactName, input.AssignedNumber).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("directory: upsert conversation: %w", err)
	}
	return id, nil
}

// Get loads a single conversation by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	query := `
		SELECT id, owner_id, channel, contact_phone,
			COALESCE(contact_name, ''), COALESCE(assigned_number, ''),
			unread_count, COALESCE(last_message_preview, ''), last_message_at, last_read_at
		FROM conversations
		WHERE id = $1
	`
	var conv Conversation
	if err := s.pool.QueryRow(ctx, query, id).Scan(
		&conv.ID, &conv.OwnerID, &conv.Channel, &conv.ContactPhone,
		&conv.ContactName, &conv.AssignedNumber,
		&conv.UnreadCount, &conv.LastPreview, &conv.LastMessageAt, &conv.LastReadAt,
	); err != nil {
		return nil, fmt.Errorf("directory: get conversation: %w", err)
	}
	return &conv, nil
}

// ListByOwner returns the owner's conversations, most recently active first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]Conversation, error) {
	query := `
		SELECT id, owner_id, channel, contact_phone,
			COALESCE(contact_name, ''), COALESCE(assigned_number, ''),
			unread_count, COALESCE(last_message_preview, ''), last_message_at, last_read_at
		FROM conversations
		WHERE owner_id = $1
		ORDER BY last_message_at DESC NULLS LAST
	`
	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("directory: list conversations: %w", err)
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(
			&conv.ID, &conv.OwnerID, &conv.Channel, &conv.ContactPhone,
			&conv.ContactName, &conv.AssignedNumber,
			&conv.UnreadCount, &conv.LastPreview, &conv.LastMessageAt, &conv.LastReadAt,
		); err != nil {
			return nil, fmt.Errorf("directory: scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// RecordInbound bumps the unread counter atomically and refreshes the
// preview. Runs inside the caller's tx so a duplicate webhook that skips the
// message insert also skips the counter bump.
func (s *Store) RecordInbound(ctx context.Context, q Querier, id uuid.UUID, preview string, at time.Time) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE conversations
		SET unread_count = unread_count + 1,
			last_message_preview = $2,
			last_message_at = $3,
			updated_at = now()
		WHERE id = $1
	`
	if _, err := q.Exec(ctx, query, id, truncatePreview(preview), at); err != nil {
		return fmt.Errorf("directory: record inbound: %w", err)
	}
	return nil
}

// RecordOutbound resets the unread counter and refreshes the preview.
func (s *Store) RecordOutbound(ctx context.Context, q Querier, id uuid.UUID, preview string, at time.Time) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE conversations
		SET unread_count = 0,
			last_message_preview = $2,
			last_message_at = $3,
			updated_at = now()
		WHERE id = $1
	`
	if _, err := q.Exec(ctx, query, id, truncatePreview(preview), at); err != nil {
		return fmt.Errorf("directory: record outbound: %w", err)
	}
	return nil
}

// MarkRead zeroes the unread counter and stamps last_read_at.
func (s *Store) MarkRead(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE conversations
		SET unread_count = 0,
			last_read_at = now(),
			updated_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("directory: mark read: %w", err)
	}
	return nil
}

// AssignNumber maps a provider number to its owning user.
func (s *Store) AssignNumber(ctx context.Context, number, userID string) error {
	normalized, err := NormalizePhone(number)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO assigned_numbers (e164_number, user_id)
		VALUES ($1, $2)
		ON CONFLICT (e164_number) DO UPDATE
		SET user_id = EXCLUDED.user_id,
			updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, normalized, userID); err != nil {
		return fmt.Errorf("directory: assign number: %w", err)
	}
	return nil
}

// LookupOwnerByNumber resolves the user that holds an assigned provider number.
func (s *Store) LookupOwnerByNumber(ctx context.Context, number string) (string, error) {
	var userID string
	query := `
		SELECT user_id
		FROM assigned_numbers
		WHERE e164_number = $1
	`
	if err := s.pool.QueryRow(ctx, query, number).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrNumberUnassigned, number)
		}
		return "", fmt.Errorf("directory: lookup owner by number: %w", err)
	}
	return userID, nil
}

const previewMax = 120

func truncatePreview(s string) string {
	if len(s) <= previewMax {
		return s
	}
	return s[:previewMax]
}
