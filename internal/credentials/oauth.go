package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
)

// ErrNoRefreshToken means the authorization response carried no refresh
// token. Without one the connection cannot survive the first access token,
// so the connect flow treats this as a failed authorization.
var ErrNoRefreshToken = errors.New("credentials: authorization returned no refresh token")

// ProviderError is a non-2xx response from the token endpoint. Callers use
// Temporary to decide between retrying and forcing a reconnect.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("credentials: provider returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the failure is worth retrying. Rate limits and
// server errors are; invalid_grant and friends are not.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// InvalidGrant reports whether the stored refresh token has been revoked or
// expired, which only a fresh authorization can fix.
func (e *ProviderError) InvalidGrant() bool {
	if e.StatusCode != http.StatusBadRequest && e.StatusCode != http.StatusUnauthorized {
		return false
	}
	return strings.Contains(e.Body, "invalid_grant")
}

// OAuthConfig holds the client registration for the calendar provider.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string
	AuthURL      string // defaults to Google's endpoint
	TokenURL     string // defaults to Google's endpoint
}

// OAuthClient drives the authorization-code flow against the provider's
// token endpoint.
type OAuthClient struct {
	config     OAuthConfig
	httpClient *http.Client
}

func NewOAuthClient(config OAuthConfig) *OAuthClient {
	if config.AuthURL == "" {
		config.AuthURL = defaultAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTokenURL
	}
	return &OAuthClient{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// AuthorizationURL builds the consent URL. access_type=offline plus
// prompt=consent makes the provider issue a refresh token even for users who
// authorized before.
func (c *OAuthClient) AuthorizationURL(state string) string {
	params := url.Values{
		"client_id":     {c.config.ClientID},
		"redirect_uri":  {c.config.RedirectURI},
		"response_type": {"code"},
		"scope":         {c.config.Scopes},
		"state":         {state},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
	}
	return fmt.Sprintf("%s?%s", c.config.AuthURL, params.Encode())
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// ExchangeCode trades an authorization code for a token pair. The refresh
// token is mandatory here: a first connect without one is useless.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (Token, error) {
	tok, err := c.tokenRequest(ctx, url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {c.config.RedirectURI},
	})
	if err != nil {
		return Token{}, err
	}
	if tok.RefreshToken == "" {
		return Token{}, ErrNoRefreshToken
	}
	return tok, nil
}

// RefreshGrant mints a new access token from a refresh token. Providers may
// omit the refresh token in the response; the caller keeps the old one then.
func (c *OAuthClient) RefreshGrant(ctx context.Context, refreshToken string) (Token, error) {
	return c.tokenRequest(ctx, url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	})
}

func (c *OAuthClient) tokenRequest(ctx context.Context, data url.Values) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("credentials: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("credentials: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, fmt.Errorf("credentials: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("credentials: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("credentials: token response missing access token")
	}
	return Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second),
		Scopes:       tr.Scope,
		TokenType:    tr.TokenType,
	}, nil
}
