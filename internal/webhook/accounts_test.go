package webhook

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"

	"github.com/veloracare/clinic-connect/internal/vault"
)

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	return v
}

func TestAccountStoreSecretFor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	v := testVault(t)
	cipher, iv, err := v.Encrypt("signing-secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	store := NewAccountStore(mock, v)
	mock.ExpectQuery("SELECT secret_cipher, secret_iv FROM provider_accounts").
		WithArgs("AC123").
		WillReturnRows(pgxmock.NewRows([]string{"secret_cipher", "secret_iv"}).AddRow(cipher, iv))

	secret, err := store.SecretFor(context.Background(), "AC123")
	if err != nil {
		t.Fatalf("secret for: %v", err)
	}
	if secret != "signing-secret" {
		t.Fatalf("expected decrypted secret, got %q", secret)
	}
}

func TestAccountStoreUnknownAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewAccountStore(mock, testVault(t))
	mock.ExpectQuery("SELECT secret_cipher, secret_iv FROM provider_accounts").
		WithArgs("AC404").
		WillReturnError(pgx.ErrNoRows)

	if _, err := store.SecretFor(context.Background(), "AC404"); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestChainResolverFallsThrough(t *testing.T) {
	chain := ChainResolver{
		StaticSecret(""),
		StaticSecret("fallback"),
	}
	secret, err := chain.SecretFor(context.Background(), "any")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if secret != "fallback" {
		t.Fatalf("expected fallback secret, got %q", secret)
	}
}

func TestChainResolverAllUnknown(t *testing.T) {
	chain := ChainResolver{StaticSecret("")}
	if _, err := chain.SecretFor(context.Background(), "any"); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}
