package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/veloracare/clinic-connect/internal/vault"
)

// ErrUnknownAccount means no signing secret is registered for the account.
var ErrUnknownAccount = errors.New("webhook: unknown provider account")

// SecretResolver yields the signing secret for a gateway account.
type SecretResolver interface {
	SecretFor(ctx context.Context, accountSID string) (string, error)
}

// Querier is the pgx subset the account store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountStore keeps per-account webhook signing secrets encrypted at rest.
type AccountStore struct {
	pool  Querier
	vault *vault.Vault
}

func NewAccountStore(pool Querier, v *vault.Vault) *AccountStore {
	return &AccountStore{pool: pool, vault: v}
}

// Register encrypts and upserts the signing secret for an account.
func (s *AccountStore) Register(ctx context.Context, accountSID, secret string) error {
	cipher, iv, err := s.vault.Encrypt(secret)
	if err != nil {
		return fmt.Errorf("webhook: encrypt account secret: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO provider_accounts (account_sid, secret_cipher, secret_iv, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (account_sid) DO UPDATE SET
			secret_cipher = EXCLUDED.secret_cipher,
			secret_iv = EXCLUDED.secret_iv,
			updated_at = now()`,
		accountSID, cipher, iv,
	)
	if err != nil {
		return fmt.Errorf("webhook: register account: %w", err)
	}
	return nil
}

// SecretFor decrypts the signing secret for the account.
func (s *AccountStore) SecretFor(ctx context.Context, accountSID string) (string, error) {
	var cipher, iv string
	err := s.pool.QueryRow(ctx,
		`SELECT secret_cipher, secret_iv FROM provider_accounts WHERE account_sid = $1`,
		accountSID,
	).Scan(&cipher, &iv)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUnknownAccount
	}
	if err != nil {
		return "", fmt.Errorf("webhook: load account secret: %w", err)
	}
	secret, err := s.vault.Decrypt(cipher, iv)
	if err != nil {
		return "", fmt.Errorf("webhook: decrypt account secret: %w", err)
	}
	return secret, nil
}

// StaticSecret resolves every account to one configured secret. Used for
// single-account deployments where no account registry exists yet.
type StaticSecret string

func (s StaticSecret) SecretFor(context.Context, string) (string, error) {
	if s == "" {
		return "", ErrUnknownAccount
	}
	return string(s), nil
}

// ChainResolver tries each resolver in order, falling through on unknown
// accounts. Lets a deployment keep the static secret as a fallback while
// accounts migrate into the registry.
type ChainResolver []SecretResolver

func (c ChainResolver) SecretFor(ctx context.Context, accountSID string) (string, error) {
	for _, r := range c {
		secret, err := r.SecretFor(ctx, accountSID)
		if errors.Is(err, ErrUnknownAccount) {
			continue
		}
		return secret, err
	}
	return "", ErrUnknownAccount
}
