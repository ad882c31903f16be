package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"

	"github.com/veloracare/clinic-connect/internal/credentials"
	"github.com/veloracare/clinic-connect/internal/identity"
	"github.com/veloracare/clinic-connect/internal/vault"
)

func newOAuthHandler(t *testing.T, tokenURL string) (*OAuthHandler, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	v, err := vault.New(strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	client := credentials.NewOAuthClient(credentials.OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://api.clinic.example.com/oauth/calendar/callback",
		TokenURL:     tokenURL,
	})
	h := NewOAuthHandler(OAuthConfig{
		OAuth: client,
		Store: credentials.NewStore(mock, v),
	})
	return h, mock
}

// connectState runs the connect step as userID and returns the state the
// handler put into the authorization URL.
func connectState(t *testing.T, h *OAuthHandler, userID string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/oauth/calendar/connect", nil)
	req = req.WithContext(identity.WithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	h.Connect(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("connect: %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode connect response: %v", err)
	}
	authURL, err := url.Parse(resp["authorizationUrl"])
	if err != nil {
		t.Fatalf("parse authorization url: %v", err)
	}
	state := authURL.Query().Get("state")
	if state == "" {
		t.Fatal("authorization url missing state")
	}
	return state
}

func stubTokenEndpoint(t *testing.T, calls *int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"expires_in":    3600,
			"token_type":    "Bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestCallbackStoresCredentialsForMintedState(t *testing.T) {
	calls := 0
	h, mock := newOAuthHandler(t, stubTokenEndpoint(t, &calls))
	state := connectState(t, h, "user-1")

	mock.ExpectExec("INSERT INTO credentials").
		WithArgs("user-1", credentials.ProviderGoogleCalendar,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), "Bearer").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	req := httptest.NewRequest(http.MethodGet,
		"/oauth/calendar/callback?code=auth-code&state="+url.QueryEscape(state), nil)
	rec := httptest.NewRecorder()
	h.Callback(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("expected one token exchange, got %d", calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	calls := 0
	h, mock := newOAuthHandler(t, stubTokenEndpoint(t, &calls))

	// A state nobody connected with must not bind credentials to that user.
	req := httptest.NewRequest(http.MethodGet,
		"/oauth/calendar/callback?code=attacker-code&state=victim-user:deadbeef", nil)
	rec := httptest.NewRecorder()
	h.Callback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unminted state, got %d", rec.Code)
	}
	if calls != 0 {
		t.Fatal("code must not be exchanged for an unminted state")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected store writes: %v", err)
	}
}

func TestCallbackRejectsStateForDifferentUser(t *testing.T) {
	calls := 0
	h, _ := newOAuthHandler(t, stubTokenEndpoint(t, &calls))
	state := connectState(t, h, "user-1")
	_, nonce, _ := strings.Cut(state, ":")

	req := httptest.NewRequest(http.MethodGet,
		"/oauth/calendar/callback?code=auth-code&state=victim-user:"+nonce, nil)
	rec := httptest.NewRecorder()
	h.Callback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a reassigned state, got %d", rec.Code)
	}
	if calls != 0 {
		t.Fatal("code must not be exchanged when the state belongs to another user")
	}
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	calls := 0
	h, mock := newOAuthHandler(t, stubTokenEndpoint(t, &calls))
	state := connectState(t, h, "user-1")

	mock.ExpectExec("INSERT INTO credentials").
		WithArgs("user-1", credentials.ProviderGoogleCalendar,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	target := "/oauth/calendar/callback?code=auth-code&state=" + url.QueryEscape(state)
	rec := httptest.NewRecorder()
	h.Callback(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first callback: %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.Callback(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on replayed state, got %d", rec.Code)
	}
	if calls != 1 {
		t.Fatalf("expected one token exchange, got %d", calls)
	}
}

func TestCallbackRejectsExpiredState(t *testing.T) {
	calls := 0
	h, _ := newOAuthHandler(t, stubTokenEndpoint(t, &calls))

	h.mu.Lock()
	h.stateStore["cafe01"] = stateEntry{userID: "user-1", expiresAt: time.Now().Add(-time.Minute)}
	h.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet,
		"/oauth/calendar/callback?code=auth-code&state=user-1:cafe01", nil)
	rec := httptest.NewRecorder()
	h.Callback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for expired state, got %d", rec.Code)
	}
	if calls != 0 {
		t.Fatal("expired state must not reach the token endpoint")
	}
}
