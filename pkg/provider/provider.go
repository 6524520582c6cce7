// Package provider implements the OAuth2 client side of the login flow:
// building the authorization URL, exchanging an authorization code plus PKCE
// verifier for provider tokens, and fetching identity claims.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tastebook/tastebook/pkg/pkce"
)

// Config describes the external identity provider endpoints and client
// credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string
}

// Validate checks the provider configuration.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}
	if c.AuthURL == "" {
		return fmt.Errorf("authorization URL is required")
	}
	if c.TokenURL == "" {
		return fmt.Errorf("token URL is required")
	}
	if c.UserInfoURL == "" {
		return fmt.Errorf("user info URL is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect URL is required")
	}

	for _, raw := range []string{c.AuthURL, c.TokenURL, c.UserInfoURL, c.RedirectURL} {
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("invalid URL %q: %w", raw, err)
		}
	}

	return nil
}

// Identity is the normalized set of claims resolved from the provider.
type Identity struct {
	Subject       string `json:"subject"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	DisplayName   string `json:"display_name"`
	AvatarURL     string `json:"avatar_url,omitempty"`
}

// TokenResponse represents the OAuth2 token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// ExchangeError is returned when the provider rejects a token exchange. The
// provider error code is preserved for server-side logging, never for
// clients.
type ExchangeError struct {
	StatusCode    int
	ProviderError string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed with status %d: %s", e.StatusCode, e.ProviderError)
}

// Client talks to a single configured identity provider.
type Client struct {
	config     Config
	httpClient *http.Client
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client for provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a provider client. The default HTTP client carries an
// explicit timeout so a hung provider fails the callback instead of holding
// it open.
func NewClient(config Config, opts ...Option) *Client {
	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BuildAuthURL builds the provider authorization URL embedding the S256 code
// challenge and the CSRF state.
func (c *Client) BuildAuthURL(state, codeChallenge string) (string, error) {
	authURL, err := url.Parse(c.config.AuthURL)
	if err != nil {
		return "", fmt.Errorf("invalid auth URL: %w", err)
	}

	params := url.Values{}
	params.Set("client_id", c.config.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", c.config.RedirectURL)
	params.Set("state", state)
	params.Set("code_challenge", codeChallenge)
	params.Set("code_challenge_method", string(pkce.ChallengeS256))

	scopes := c.config.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}
	params.Set("scope", strings.Join(scopes, " "))

	authURL.RawQuery = params.Encode()
	return authURL.String(), nil
}

// ExchangeCode exchanges an authorization code and its PKCE verifier for
// provider tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("client_id", c.config.ClientID)
	data.Set("client_secret", c.config.ClientSecret)
	data.Set("code", code)
	data.Set("code_verifier", codeVerifier)
	data.Set("redirect_uri", c.config.RedirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ExchangeError{
			StatusCode:    resp.StatusCode,
			ProviderError: providerErrorCode(body),
		}
	}

	var tokenResponse TokenResponse
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	slog.Info("Token exchange successful", "token_type", tokenResponse.TokenType)
	return &tokenResponse, nil
}

// FetchIdentity retrieves identity claims using the provider access token.
func (c *Client) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make user info request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info request failed with status %d", resp.StatusCode)
	}

	identity, err := parseIdentity(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}

	slog.Info("User info retrieved", "subject", identity.Subject, "email", identity.Email)
	return identity, nil
}

// parseIdentity maps raw userinfo claims to an Identity. Claim keys follow
// OIDC conventions with fallbacks for the common non-OIDC providers.
func parseIdentity(data []byte) (*Identity, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user info: %w", err)
	}

	identity := &Identity{
		Subject:       getStringValue(raw, "sub"),
		Email:         getStringValue(raw, "email"),
		EmailVerified: getBoolValue(raw, "email_verified"),
		DisplayName:   getStringValue(raw, "name"),
		AvatarURL:     getStringValue(raw, "picture"),
	}

	if identity.Subject == "" {
		if id, ok := raw["id"]; ok {
			identity.Subject = fmt.Sprintf("%v", id)
		}
	}
	if identity.DisplayName == "" {
		identity.DisplayName = getStringValue(raw, "login")
	}
	if identity.AvatarURL == "" {
		identity.AvatarURL = getStringValue(raw, "avatar_url")
	}

	if identity.Subject == "" {
		return nil, fmt.Errorf("no subject found in user info")
	}
	if identity.Email == "" {
		return nil, fmt.Errorf("no email found in user info")
	}

	return identity, nil
}

// providerErrorCode extracts the machine-readable error code from an OAuth2
// error body, falling back to a truncated raw body.
func providerErrorCode(body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}

	raw := string(body)
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return raw
}

func getStringValue(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getBoolValue(data map[string]interface{}, key string) bool {
	if val, ok := data[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}
