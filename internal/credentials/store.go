package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/veloracare/clinic-connect/internal/vault"
)

// ProviderGoogleCalendar is the only provider currently wired; the store is
// keyed by (user_id, provider) so more can be added without a migration.
const ProviderGoogleCalendar = "google_calendar"

var (
	// ErrNotConnected means the user never completed the OAuth flow or has
	// disconnected; the caller should start a fresh authorization.
	ErrNotConnected = errors.New("credentials: provider not connected")

	// ErrReconnectRequired means stored credentials exist but can no longer
	// mint access tokens; re-authorization is the only way out.
	ErrReconnectRequired = errors.New("credentials: reconnect required")
)

// Token is a decrypted credential pair. It lives only in memory; the store
// persists ciphertext exclusively.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       string
	TokenType    string
}

// Querier abstracts pgx so stores accept either a pool or a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the subset of *pgxpool.Pool the store needs.
type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists OAuth credentials encrypted at rest. Plaintext tokens never
// touch the database or logs.
type Store struct {
	pool  PgxPool
	vault *vault.Vault
}

func NewStore(pool PgxPool, v *vault.Vault) *Store {
	return &Store{pool: pool, vault: v}
}

// Save encrypts and upserts the token pair for (userID, provider).
func (s *Store) Save(ctx context.Context, userID, provider string, tok Token) error {
	accessCipher, accessIV, err := s.vault.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("credentials: encrypt access token: %w", err)
	}
	refreshCipher, refreshIV, err := s.vault.Encrypt(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("credentials: encrypt refresh token: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO credentials (
			user_id, provider, access_cipher, access_iv,
			refresh_cipher, refresh_iv, expires_at, scopes, token_type,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_cipher = EXCLUDED.access_cipher,
			access_iv = EXCLUDED.access_iv,
			refresh_cipher = EXCLUDED.refresh_cipher,
			refresh_iv = EXCLUDED.refresh_iv,
			expires_at = EXCLUDED.expires_at,
			scopes = EXCLUDED.scopes,
			token_type = EXCLUDED.token_type,
			updated_at = now()`,
		userID, provider, accessCipher, accessIV,
		refreshCipher, refreshIV, tok.ExpiresAt.UTC(), tok.Scopes, tok.TokenType,
	)
	if err != nil {
		return fmt.Errorf("credentials: save: %w", err)
	}
	return nil
}

// Get loads and decrypts the token pair. A missing row is ErrNotConnected; a
// decryption failure is surfaced as-is so operators can tell key problems
// apart from never-connected users.
func (s *Store) Get(ctx context.Context, userID, provider string) (Token, error) {
	var (
		accessCipher, accessIV   string
		refreshCipher, refreshIV string
		tok                      Token
	)
	err := s.pool.QueryRow(ctx, `
		SELECT access_cipher, access_iv, refresh_cipher, refresh_iv, expires_at, scopes, token_type
		FROM credentials
		WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	).Scan(&accessCipher, &accessIV, &refreshCipher, &refreshIV, &tok.ExpiresAt, &tok.Scopes, &tok.TokenType)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, ErrNotConnected
	}
	if err != nil {
		return Token{}, fmt.Errorf("credentials: get: %w", err)
	}

	tok.AccessToken, err = s.vault.Decrypt(accessCipher, accessIV)
	if err != nil {
		return Token{}, fmt.Errorf("credentials: decrypt access token: %w", err)
	}
	tok.RefreshToken, err = s.vault.Decrypt(refreshCipher, refreshIV)
	if err != nil {
		return Token{}, fmt.Errorf("credentials: decrypt refresh token: %w", err)
	}
	return tok, nil
}

// Delete removes stored credentials; subsequent Gets return ErrNotConnected.
func (s *Store) Delete(ctx context.Context, userID, provider string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM credentials WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	)
	if err != nil {
		return fmt.Errorf("credentials: delete: %w", err)
	}
	return nil
}

// IsConnected reports whether a credential row exists without decrypting it.
func (s *Store) IsConnected(ctx context.Context, userID, provider string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM credentials WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("credentials: is connected: %w", err)
	}
	return true, nil
}

// ListConnected returns every user with stored credentials for the provider.
func (s *Store) ListConnected(ctx context.Context, provider string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM credentials WHERE provider = $1 ORDER BY user_id`,
		provider,
	)
	if err != nil {
		return nil, fmt.Errorf("credentials: list connected: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("credentials: scan connected: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

// ListExpiring returns user IDs whose tokens expire within the given window,
// so the refresh worker can renew them ahead of demand.
func (s *Store) ListExpiring(ctx context.Context, provider string, within time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM credentials
		WHERE provider = $1 AND expires_at < $2
		ORDER BY expires_at`,
		provider, time.Now().UTC().Add(within),
	)
	if err != nil {
		return nil, fmt.Errorf("credentials: list expiring: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("credentials: scan expiring: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}
