// Package authflow orchestrates the login flow end to end: starting the
// PKCE authorization redirect, finishing the provider callback, the SPA code
// exchange, refresh-token rotation and logout. Handlers stay thin; every
// security decision lives here.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tastebook/tastebook/pkg/authsession"
	"github.com/tastebook/tastebook/pkg/notification"
	"github.com/tastebook/tastebook/pkg/pkce"
	"github.com/tastebook/tastebook/pkg/provider"
	"github.com/tastebook/tastebook/pkg/token"
	tg "github.com/tastebook/tastebook/pkg/tokengenerator"
	"github.com/tastebook/tastebook/pkg/user"
)

// Tokens is one issued access+refresh pair.
type Tokens struct {
	AccessToken        string
	AccessTokenExpiry  time.Time
	RefreshToken       string
	RefreshTokenExpiry time.Time
}

// Result is the outcome of a flow operation. Exactly one of Tokens or
// ErrorResponse is set.
type Result struct {
	Success       bool
	Tokens        *Tokens
	User          *user.User
	ErrorResponse *Error
}

// BeginResult carries what the redirect handler needs: the provider
// authorization URL and the session id to bind to the browser via cookie.
type BeginResult struct {
	AuthURL   string
	SessionID string
}

// CallbackRequest contains the inputs of the provider redirect back to us.
type CallbackRequest struct {
	Code          string
	State         string
	ProviderError string
	SessionID     string
}

// Service orchestrates the authentication flows.
type Service struct {
	sessions   authsession.Store
	provider   *provider.Client
	users      *user.Service
	ledger     token.LedgerRepository
	tokenGen   tg.TokenGenerator
	welcome    notification.WelcomeSender
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Option is a function that configures a Service
type Option func(*Service)

// WithAccessTokenExpiry sets the access token lifetime.
func WithAccessTokenExpiry(ttl time.Duration) Option {
	return func(s *Service) {
		s.accessTTL = ttl
	}
}

// WithRefreshTokenExpiry sets the refresh token lifetime.
func WithRefreshTokenExpiry(ttl time.Duration) Option {
	return func(s *Service) {
		s.refreshTTL = ttl
	}
}

// WithWelcomeSender enables the first-sign-in welcome email.
func WithWelcomeSender(sender notification.WelcomeSender) Option {
	return func(s *Service) {
		s.welcome = sender
	}
}

// NewService creates the authentication flow service.
func NewService(
	sessions authsession.Store,
	providerClient *provider.Client,
	users *user.Service,
	ledger token.LedgerRepository,
	tokenGen tg.TokenGenerator,
	opts ...Option,
) *Service {
	s := &Service{
		sessions:   sessions,
		provider:   providerClient,
		users:      users,
		ledger:     ledger,
		tokenGen:   tokenGen,
		accessTTL:  tg.DefaultAccessTokenExpiry,
		refreshTTL: tg.DefaultRefreshTokenExpiry,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Begin starts the authorization flow: generates PKCE material, stores the
// pending session and builds the provider redirect URL.
func (s *Service) Begin(ctx context.Context) (*BeginResult, error) {
	material, err := pkce.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE material: %w", err)
	}

	sessionID, err := s.sessions.Create(ctx, material.Verifier, material.State)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth session: %w", err)
	}

	authURL, err := s.provider.BuildAuthURL(material.State, material.Challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to build auth URL: %w", err)
	}

	slog.Info("Authorization flow initiated", "session_id", sessionID)
	return &BeginResult{AuthURL: authURL, SessionID: sessionID}, nil
}

// Callback finishes the browser flow. The session is consumed exactly once;
// a replayed callback fails before any provider call is made.
func (s *Service) Callback(ctx context.Context, request CallbackRequest) Result {
	if request.ProviderError != "" {
		slog.Warn("Provider denied authorization", "provider_error", request.ProviderError)
		return s.errorResult(ErrorTypeProviderDenied, "Authorization was denied")
	}

	if request.Code == "" {
		return s.errorResult(ErrorTypeMissingParameter, "Missing authorization code")
	}

	if request.SessionID == "" {
		// Usually a callback opened in a different browser context than
		// the one that started the flow
		return s.errorResult(ErrorTypeMissingSession, "No auth session cookie")
	}

	session, err := s.sessions.Consume(ctx, request.SessionID)
	if err != nil {
		if errors.Is(err, authsession.ErrNotFound) {
			slog.Warn("Auth session expired or replayed", "session_id", request.SessionID)
			return s.errorResult(ErrorTypeExpiredSession, "Auth session expired or already used")
		}
		slog.Error("Failed to consume auth session", "err", err)
		return s.errorResult(ErrorTypeInternalError, "Failed to load auth session")
	}

	if !pkce.StatesEqual(request.State, session.State) {
		slog.Warn("State mismatch on callback", "session_id", request.SessionID)
		return s.errorResult(ErrorTypeStateMismatch, "State parameter mismatch")
	}

	return s.completeLogin(ctx, request.Code, session.CodeVerifier)
}

// ExchangeCode is the SPA variant: the client generated the verifier itself
// and posts code+verifier directly, so there is no server-side session.
func (s *Service) ExchangeCode(ctx context.Context, code, codeVerifier string) Result {
	if code == "" {
		return s.errorResult(ErrorTypeMissingParameter, "Missing authorization code")
	}
	if codeVerifier == "" {
		return s.errorResult(ErrorTypeMissingParameter, "Missing code verifier")
	}

	return s.completeLogin(ctx, code, codeVerifier)
}

// completeLogin runs the shared tail of both login variants: provider
// exchange, identity fetch, user resolution and token issuance.
func (s *Service) completeLogin(ctx context.Context, code, codeVerifier string) Result {
	tokenResponse, err := s.provider.ExchangeCode(ctx, code, codeVerifier)
	if err != nil {
		var exchangeErr *provider.ExchangeError
		if errors.As(err, &exchangeErr) {
			slog.Warn("Provider rejected code exchange",
				"status", exchangeErr.StatusCode,
				"provider_error", exchangeErr.ProviderError)
		} else {
			slog.Error("Code exchange failed", "err", err)
		}
		return s.errorResult(ErrorTypeProviderExchange, "Code exchange failed")
	}

	identity, err := s.provider.FetchIdentity(ctx, tokenResponse.AccessToken)
	if err != nil {
		slog.Error("Failed to fetch identity", "err", err)
		return s.errorResult(ErrorTypeProviderExchange, "Failed to fetch identity")
	}

	u, created, err := s.users.Resolve(ctx, *identity)
	if err != nil {
		slog.Error("Failed to resolve user", "err", err, "subject", identity.Subject)
		return s.errorResult(ErrorTypeInternalError, "Failed to resolve user")
	}

	if created && s.welcome != nil {
		// Best effort; never blocks or fails the login
		go func(email, name string) {
			if err := s.welcome.SendWelcome(email, name); err != nil {
				slog.Warn("Failed to send welcome email", "err", err, "email", email)
			}
		}(u.Email, u.DisplayName)
	}

	tokens, err := s.issueTokens(ctx, u)
	if err != nil {
		slog.Error("Failed to issue tokens", "err", err, "user_id", u.ID)
		return s.errorResult(ErrorTypeInternalError, "Failed to issue tokens")
	}

	slog.Info("Login completed", "user_id", u.ID, "subject", u.Subject, "new_user", created)
	return s.successResult(tokens, u)
}

// Refresh rotates a refresh token: validate, revoke the predecessor and
// issue a brand-new pair. Reuse of an already-rotated token revokes every
// outstanding token for that user.
func (s *Service) Refresh(ctx context.Context, refreshToken string) Result {
	claims, err := s.tokenGen.ParseToken(refreshToken)
	if err != nil {
		slog.Warn("Invalid refresh token", "err", err)
		return s.errorResult(ErrorTypeInvalidRefreshToken, "Invalid refresh token")
	}

	if claims.TokenType != tg.TOKEN_TYPE_REFRESH {
		slog.Warn("Wrong token type presented for refresh", "token_type", claims.TokenType)
		return s.errorResult(ErrorTypeInvalidRefreshToken, "Invalid refresh token")
	}

	jti, err := uuid.Parse(claims.ID)
	if err != nil {
		slog.Warn("Refresh token carries malformed jti", "err", err)
		return s.errorResult(ErrorTypeInvalidRefreshToken, "Invalid refresh token")
	}

	record, err := s.ledger.ConsumeForRotation(ctx, jti, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrReused):
			// A rotated token came back: treat as theft and cut every
			// session for this user
			revoked, revokeErr := s.ledger.RevokeAllForUser(ctx, record.UserID)
			if revokeErr != nil {
				slog.Error("Failed to revoke user tokens after reuse", "err", revokeErr, "user_id", record.UserID)
			} else {
				slog.Warn("Rotated refresh token reused; revoked all user tokens",
					"user_id", record.UserID, "jti", jti, "revoked", revoked)
			}
			return s.errorResult(ErrorTypeRevokedRefreshToken, "Refresh token revoked")
		case errors.Is(err, token.ErrNotFound), errors.Is(err, token.ErrInvalid):
			slog.Warn("Refresh token not redeemable", "err", err, "jti", jti)
			return s.errorResult(ErrorTypeRevokedRefreshToken, "Refresh token revoked or expired")
		default:
			slog.Error("Ledger lookup failed", "err", err, "jti", jti)
			return s.errorResult(ErrorTypeInternalError, "Failed to validate refresh token")
		}
	}

	u, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		slog.Error("Failed to load user for rotation", "err", err, "user_id", record.UserID)
		return s.errorResult(ErrorTypeInternalError, "Failed to load user")
	}

	tokens, err := s.issueTokens(ctx, u)
	if err != nil {
		slog.Error("Failed to issue rotated tokens", "err", err, "user_id", u.ID)
		return s.errorResult(ErrorTypeInternalError, "Failed to issue tokens")
	}

	slog.Info("Refresh token rotated", "user_id", u.ID, "old_jti", jti)
	return s.successResult(tokens, u)
}

// Logout revokes the refresh token's jti if the token is at all parseable.
// It never fails: clearing cookies must succeed even for garbage tokens.
func (s *Service) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}

	claims, err := s.tokenGen.ParseToken(refreshToken)
	if err != nil || claims.TokenType != tg.TOKEN_TYPE_REFRESH {
		return
	}

	jti, err := uuid.Parse(claims.ID)
	if err != nil {
		return
	}

	if err := s.ledger.Revoke(ctx, jti); err != nil {
		slog.Error("Failed to revoke refresh token on logout", "err", err, "jti", jti)
		return
	}

	slog.Info("Refresh token revoked on logout", "jti", jti)
}

// issueTokens mints an access+refresh pair. The refresh token is persisted
// to the ledger before being returned; a failed insert fails the issuance
// outright so a token that can never be validated is never handed out.
func (s *Service) issueTokens(ctx context.Context, u user.User) (*Tokens, error) {
	subject := strconv.FormatInt(u.ID, 10)
	identity := tg.IdentityClaims{
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}

	accessToken, _, accessExpiry, err := s.tokenGen.GenerateToken(subject, tg.TOKEN_TYPE_ACCESS, s.accessTTL, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, jtiStr, refreshExpiry, err := s.tokenGen.GenerateToken(subject, tg.TOKEN_TYPE_REFRESH, s.refreshTTL, tg.IdentityClaims{})
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	jti, err := uuid.Parse(jtiStr)
	if err != nil {
		return nil, fmt.Errorf("generated refresh token has malformed jti: %w", err)
	}

	err = s.ledger.Save(ctx, token.RefreshTokenRecord{
		JTI:       jti,
		Token:     refreshToken,
		UserID:    u.ID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: refreshExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return &Tokens{
		AccessToken:        accessToken,
		AccessTokenExpiry:  accessExpiry,
		RefreshToken:       refreshToken,
		RefreshTokenExpiry: refreshExpiry,
	}, nil
}

func (s *Service) successResult(tokens *Tokens, u user.User) Result {
	return Result{Success: true, Tokens: tokens, User: &u}
}

func (s *Service) errorResult(errorType, message string) Result {
	return Result{ErrorResponse: &Error{Type: errorType, Message: message}}
}
