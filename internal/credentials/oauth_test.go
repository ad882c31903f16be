package credentials

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestClient(tokenURL string) *OAuthClient {
	return NewOAuthClient(OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.example.com/oauth/callback",
		Scopes:       "https://www.googleapis.com/auth/calendar.readonly",
		TokenURL:     tokenURL,
	})
}

func TestAuthorizationURLRequestsOfflineAccess(t *testing.T) {
	c := newTestClient("")
	raw := c.AuthorizationURL("state-123")

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse authorization url: %v", err)
	}
	q := u.Query()
	if q.Get("access_type") != "offline" {
		t.Error("expected access_type=offline")
	}
	if q.Get("prompt") != "consent" {
		t.Error("expected prompt=consent")
	}
	if q.Get("state") != "state-123" {
		t.Errorf("expected state round-tripped, got %q", q.Get("state"))
	}
	if q.Get("response_type") != "code" {
		t.Error("expected response_type=code")
	}
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "authorization_code" {
			t.Errorf("unexpected grant_type %q", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("code") != "auth-code" {
			t.Errorf("unexpected code %q", r.PostForm.Get("code"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"scope":"calendar"}`))
	}))
	defer srv.Close()

	tok, err := newTestClient(srv.URL).ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("exchange code: %v", err)
	}
	if tok.AccessToken != "at-1" || tok.RefreshToken != "rt-1" {
		t.Fatalf("unexpected token pair: %+v", tok)
	}
	if until := time.Until(tok.ExpiresAt); until < 55*time.Minute || until > 65*time.Minute {
		t.Fatalf("expected expiry about an hour out, got %s", until)
	}
}

func TestExchangeCodeRequiresRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"access_token":"at-1","expires_in":3600}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ExchangeCode(context.Background(), "auth-code")
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}
}

func TestRefreshGrantOmitsRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("unexpected grant_type %q", r.PostForm.Get("grant_type"))
		}
		w.Write([]byte(`{"access_token":"at-2","expires_in":3600}`))
	}))
	defer srv.Close()

	tok, err := newTestClient(srv.URL).RefreshGrant(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("refresh grant: %v", err)
	}
	if tok.AccessToken != "at-2" {
		t.Fatalf("unexpected access token %q", tok.AccessToken)
	}
	if tok.RefreshToken != "" {
		t.Fatal("refresh grant may omit the refresh token; client must not invent one")
	}
}

func TestTokenRequestProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).RefreshGrant(context.Background(), "revoked")
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !pe.InvalidGrant() {
		t.Fatal("expected invalid_grant classification")
	}
	if pe.Temporary() {
		t.Fatal("invalid_grant must not be temporary")
	}
	if !strings.Contains(pe.Error(), "400") {
		t.Fatalf("expected status in message, got %q", pe.Error())
	}
}

func TestProviderErrorTemporary(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		if !(&ProviderError{StatusCode: code}).Temporary() {
			t.Errorf("status %d should be temporary", code)
		}
	}
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		if (&ProviderError{StatusCode: code}).Temporary() {
			t.Errorf("status %d should not be temporary", code)
		}
	}
}
