package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/veloracare/clinic-connect/pkg/logging"
)

// refreshMargin is how far before expiry a token is treated as stale. Wide
// enough to cover clock skew between us and the provider.
const refreshMargin = 5 * time.Minute

// TokenStore is the slice of Store the lifecycle manager needs.
type TokenStore interface {
	Get(ctx context.Context, userID, provider string) (Token, error)
	Save(ctx context.Context, userID, provider string, tok Token) error
	Delete(ctx context.Context, userID, provider string) error
}

// Refresher mints fresh access tokens from refresh tokens.
type Refresher interface {
	RefreshGrant(ctx context.Context, refreshToken string) (Token, error)
}

// Lifecycle hands out valid access tokens, refreshing stale ones on demand.
// A per-user mutex keeps concurrent callers from racing the same refresh.
type Lifecycle struct {
	store  TokenStore
	oauth  Refresher
	logger *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLifecycle(store TokenStore, oauth Refresher, logger *logging.Logger) *Lifecycle {
	if logger == nil {
		logger = logging.Default()
	}
	return &Lifecycle{
		store:  store,
		oauth:  oauth,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (l *Lifecycle) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[userID] = lock
	}
	return lock
}

// ValidAccessToken returns an access token good for at least the refresh
// margin, refreshing through the provider when the stored one is stale.
// ErrNotConnected and ErrReconnectRequired are terminal for the caller;
// anything else is transient and safe to retry.
func (l *Lifecycle) ValidAccessToken(ctx context.Context, userID, provider string) (string, error) {
	return l.EnsureFresh(ctx, userID, provider, refreshMargin)
}

// EnsureFresh is ValidAccessToken with a caller-chosen staleness margin. The
// proactive refresh worker uses a wider margin than request-path callers so
// tokens are renewed well before anything blocks on them.
func (l *Lifecycle) EnsureFresh(ctx context.Context, userID, provider string, margin time.Duration) (string, error) {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	tok, err := l.store.Get(ctx, userID, provider)
	if err != nil {
		return "", err
	}

	if time.Until(tok.ExpiresAt) > margin {
		return tok.AccessToken, nil
	}

	if tok.RefreshToken == "" {
		return "", ErrReconnectRequired
	}

	fresh, err := l.oauth.RefreshGrant(ctx, tok.RefreshToken)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) && pe.InvalidGrant() {
			l.logger.Warn("refresh token revoked, reconnect required",
				"user_id", userID, "provider", provider)
			return "", ErrReconnectRequired
		}
		return "", fmt.Errorf("credentials: refresh: %w", err)
	}

	// Providers often omit the refresh token on renewal; keep the old one.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if fresh.Scopes == "" {
		fresh.Scopes = tok.Scopes
	}
	if fresh.TokenType == "" {
		fresh.TokenType = tok.TokenType
	}

	if err := l.store.Save(ctx, userID, provider, fresh); err != nil {
		return "", err
	}

	l.logger.Info("refreshed provider token",
		"user_id", userID, "provider", provider, "expires_at", fresh.ExpiresAt)
	return fresh.AccessToken, nil
}

// Disconnect drops stored credentials for the user.
func (l *Lifecycle) Disconnect(ctx context.Context, userID, provider string) error {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return l.store.Delete(ctx, userID, provider)
}
