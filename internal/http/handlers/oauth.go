package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/veloracare/clinic-connect/internal/credentials"
	"github.com/veloracare/clinic-connect/internal/identity"
	"github.com/veloracare/clinic-connect/pkg/logging"
)

// stateTTL bounds how long a consent screen can sit open before the
// callback is rejected.
const stateTTL = 10 * time.Minute

type stateEntry struct {
	userID    string
	expiresAt time.Time
}

// OAuthHandler drives the calendar connect flow: redirect out, exchange the
// callback code, report status, disconnect.
type OAuthHandler struct {
	oauth     *credentials.OAuthClient
	store     *credentials.Store
	lifecycle *credentials.Lifecycle
	logger    *logging.Logger

	// Pending states minted by Connect, keyed by nonce. The callback is
	// unauthenticated, so only a state we issued may attribute a code.
	mu         sync.Mutex
	stateStore map[string]stateEntry
}

type OAuthConfig struct {
	OAuth     *credentials.OAuthClient
	Store     *credentials.Store
	Lifecycle *credentials.Lifecycle
	Logger    *logging.Logger
}

func NewOAuthHandler(cfg OAuthConfig) *OAuthHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &OAuthHandler{
		oauth:      cfg.OAuth,
		store:      cfg.Store,
		lifecycle:  cfg.Lifecycle,
		logger:     cfg.Logger,
		stateStore: make(map[string]stateEntry),
	}
}

// Connect sends the caller to the provider's consent screen. The user id
// rides along in the state; the nonce half is remembered so the callback
// can prove the state came from us.
func (h *OAuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	nonce := hex.EncodeToString(nonceBytes)

	h.mu.Lock()
	h.stateStore[nonce] = stateEntry{
		userID:    userID,
		expiresAt: time.Now().Add(stateTTL),
	}
	h.cleanExpiredStates()
	h.mu.Unlock()

	state := fmt.Sprintf("%s:%s", userID, nonce)
	writeJSON(w, http.StatusOK, map[string]string{
		"authorizationUrl": h.oauth.AuthorizationURL(state),
	})
}

// consumeState checks that the callback state was minted by Connect for the
// same user, is unexpired, and burns it. Callers hold no lock.
func (h *OAuthHandler) consumeState(userID, nonce string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.stateStore[nonce]
	if !ok {
		return false
	}
	delete(h.stateStore, nonce)
	return entry.userID == userID && time.Now().Before(entry.expiresAt)
}

// cleanExpiredStates drops stale entries. Caller holds h.mu.
func (h *OAuthHandler) cleanExpiredStates() {
	now := time.Now()
	for nonce, entry := range h.stateStore {
		if now.After(entry.expiresAt) {
			delete(h.stateStore, nonce)
		}
	}
}

// Callback exchanges the authorization code and stores the encrypted token
// pair. The provider redirects the browser here, so errors render as text.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		h.logger.Warn("oauth consent denied", "error", errMsg)
		http.Error(w, "authorization was denied", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}
	userID, nonce, found := strings.Cut(state, ":")
	if !found || userID == "" || nonce == "" {
		http.Error(w, "malformed state", http.StatusBadRequest)
		return
	}
	if !h.consumeState(userID, nonce) {
		h.logger.Warn("rejected oauth callback with unknown state", "user_id", userID)
		http.Error(w, "invalid or expired state", http.StatusBadRequest)
		return
	}

	tok, err := h.oauth.ExchangeCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, credentials.ErrNoRefreshToken) {
			http.Error(w, "provider did not grant offline access, please reconnect", http.StatusBadRequest)
			return
		}
		h.logger.Error("code exchange failed", "error", err)
		http.Error(w, "authorization failed", http.StatusBadGateway)
		return
	}

	if err := h.store.Save(r.Context(), userID, credentials.ProviderGoogleCalendar, tok); err != nil {
		h.logger.Error("failed to store credentials", "error", err, "user_id", userID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("calendar connected", "user_id", userID)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Calendar connected. You can close this window.")
}

// Status reports whether the caller has a calendar connection.
func (h *OAuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	connected, err := h.store.IsConnected(r.Context(), userID, credentials.ProviderGoogleCalendar)
	if err != nil {
		h.logger.Error("connection status lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":  credentials.ProviderGoogleCalendar,
		"connected": connected,
	})
}

// Disconnect drops the caller's stored calendar credentials.
func (h *OAuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if err := h.lifecycle.Disconnect(r.Context(), userID, credentials.ProviderGoogleCalendar); err != nil {
		h.logger.Error("disconnect failed", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	h.logger.Info("calendar disconnected", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}
