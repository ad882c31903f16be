package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Direction marks who originated a message.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// DeletedPlaceholder is the client-visible body of a soft-deleted message.
const DeletedPlaceholder = "This message was deleted"

var ErrEmptyMessage = errors.New("ledger: message has no content or attachments")

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

// Store is the append-only (soft-delete) message ledger. It owns the
// delivery-status state machine; all status writes go through the rank guard.
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

// Message is immutable after insert except status, soft-delete fields and
// provider-id backfill.
type Message struct {
	ID                uuid.UUID
	ConversationID    uuid.UUID
	ProviderMessageID string
	Direction         Direction
	SenderRef         string
	Body              string
	Attachments       []Attachment
	Status            Status
	Timestamp         time.Time
	IsDeleted         bool
	DeletedAt         *time.Time
}


// InsertInbound appends an inbound message, idempotent on the provider
// message id: a duplicate returns the existing id with inserted=false and
// performs no write. Attachments are validated, not truncated.
func (s *Store) InsertInbound(ctx context.Context, q Querier, rec Message) (uuid.UUID, bool, error) {
	if q == nil {
		q = s.pool
	}
	if rec.ProviderMessageID == "" {
		// Some gateway payloads omit the message sid. A local id keeps the
		// idempotency column populated without colliding with real sids;
		// such messages just can't be deduplicated across retries.
		rec.ProviderMessageID = "local:" + uuid.NewString()
	}
	if rec.Body == "" && len(rec.Attachments) == 0 {
		return uuid.Nil, false, ErrEmptyMessage
	}
	if err := ValidateAttachments(rec.Attachments); err != nil {
		return uuid.Nil, false, err
	}
	attachments, err := marshalAttachments(rec.Attachments)
	if err != nil {
		return uuid.Nil, false, err
	}
	if rec.Status == "" {
		rec.Status = StatusDelivered
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	query := `
		INSERT INTO messages (id, conversation_id, provider_message_id, direction, sender_ref, body, attachments, status, created_at)
		VALUES ($1, $2, $3, 'in', $4, $5, $6, $7, $8)
		ON CONFLICT (provider_message_id) WHERE provider_message_id IS NOT NULL
		DO NOTHING
		RETURNING id
	`
	var id uuid.UUID
	err = q.QueryRow(ctx, query, uuid.New(), rec.ConversationID, rec.ProviderMessageID, rec.SenderRef, rec.Body, attachments, rec.Status, rec.Timestamp).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("ledger: insert inbound: %w", err)
	}

	// Conflict: the message already exists, return its id.
	lookup := `SELECT id FROM messages WHERE provider_message_id = $1`
	if err := q.QueryRow(ctx, lookup, rec.ProviderMessageID).Scan(&id); err != nil {
		return uuid.Nil, false, fmt.Errorf("ledger: lookup duplicate inbound: %w", err)
	}
	return id, false, nil
}

// InsertOutbound appends a queued outbound message. The provider message id
// is backfilled by MarkSent once the gateway accepts the send.
func (s *Store) InsertOutbound(ctx context.Context, q Querier, rec Message) (uuid.UUID, error) {
	if q == nil {
		q = s.pool
	}
	if rec.Body == "" && len(rec.Attachments) == 0 {
		return uuid.Nil, ErrEmptyMessage
	}
	if err := ValidateAttachments(rec.Attachments); err != nil {
		return uuid.Nil, err
	}
	attachments, err := marshalAttachments(rec.Attachments)
	if err != nil {
		return uuid.Nil, err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	query := `
		INSERT INTO messages (id, conversation_id, direction, sender_ref, body, attachments, status, created_at)
		VALUES ($1, $2, 'out', $3, $4, $5, 'queued', $6)
		RETURNING id
	`
	var id uuid.UUID
	if err := q.QueryRow(ctx, query, uuid.New(), rec.ConversationID, rec.SenderRef, rec.Body, attachments, rec.Timestamp).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("ledger: insert outbound: %w", err)
	}
	return id, nil
}

// MarkSent moves a queued outbound message to sent and records the provider
// message id for later status callbacks.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error {
	query := `
		UPDATE messages
		SET status = 'sent',
			provider_message_id = COALESCE(NULLIF($2, ''), provider_message_id),
			updated_at = now()
		WHERE id = $1 AND status = 'queued'
	`
	if _, err := s.pool.Exec(ctx, query, id, providerMessageID); err != nil {
		return fmt.Errorf("ledger: mark sent: %w", err)
	}
	return nil
}

// MarkFailed moves a message into the absorbing failed state.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE messages
		SET status = 'failed', updated_at = now()
		WHERE id = $1 AND status <> 'failed'
	`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("ledger: mark failed: %w", err)
	}
	return nil
}

// ApplyProviderStatus applies a status callback, matched by provider message
// id. The SQL guard makes the lattice monotonic under concurrent and
// out-of-order delivery: failed wins from any non-failed state, everything
// else only moves forward. Returns whether a row changed; an unknown id is a
// no-op since it may race provider-id backfill.
func (s *Store) ApplyProviderStatus(ctx context.Context, providerMessageID string, next Status) (bool, error) {
	if providerMessageID == "" {
		return false, errors.New("ledger: provider message id required")
	}
	query := `
		UPDATE messages
		SET status = $2, updated_at = now()
		WHERE provider_message_id = $1
			AND status <> 'failed'
			AND ($2 = 'failed'
				OR (CASE status WHEN 'queued' THEN 0 WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 END)
				 < (CASE $2 WHEN 'queued' THEN 0 WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 END))
	`
	tag, err := s.pool.Exec(ctx, query, providerMessageID, next)
	if err != nil {
		return false, fmt.Errorf("ledger: apply provider status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SoftDelete tombstones a message: content and attachments are cleared, the
// row and its timestamp ordering survive for history.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE messages
		SET is_deleted = TRUE,
			deleted_at = now(),
			body = '',
			attachments = '[]',
			updated_at = now()
		WHERE id = $1 AND NOT is_deleted
	`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("ledger: soft delete: %w", err)
	}
	return nil
}

// Get loads one message. Deleted messages carry the placeholder body.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	query := `
		SELECT id, conversation_id, COALESCE(provider_message_id, ''), direction, sender_ref,
			body, attachments, status, created_at, is_deleted, deleted_at
		FROM messages
		WHERE id = $1
	`
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("ledger: get message: %w", err)
	}
	return msg, nil
}

// ListByConversation returns messages in arrival order, oldest first.
func (s *Store) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, conversation_id, COALESCE(provider_message_id, ''), direction, sender_ref,
			body, attachments, status, created_at, is_deleted, deleted_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list messages: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan message: %w", err)
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

// HasProviderMessage checks whether a provider message id is already known.
func (s *Store) HasProviderMessage(ctx context.Context, providerMessageID string) (bool, error) {
	if providerMessageID == "" {
		return false, nil
	}
	query := `SELECT 1 FROM messages WHERE provider_message_id = $1 LIMIT 1`
	var exists int
	if err := s.pool.QueryRow(ctx, query, providerMessageID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ledger: check provider message: %w", err)
	}
	return true, nil
}

func marshalAttachments(attachments []Attachment) ([]byte, error) {
	if attachments == nil {
		attachments = []Attachment{}
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal attachments: %w", err)
	}
	return data, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var msg Message
	var attachments []byte
	if err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.ProviderMessageID, &msg.Direction, &msg.SenderRef,
		&msg.Body, &attachments, &msg.Status, &msg.Timestamp, &msg.IsDeleted, &msg.DeletedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	if msg.IsDeleted {
		msg.Body = DeletedPlaceholder
		msg.Attachments = nil
	}
	return &msg, nil
}
