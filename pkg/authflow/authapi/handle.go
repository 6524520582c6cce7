// Package authapi exposes the authentication flows over HTTP. The browser
// flow (login redirect and provider callback) speaks cookies and redirects;
// the API flow (token exchange, refresh, logout, check) speaks JSON.
package authapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/jinzhu/copier"

	"github.com/tastebook/tastebook/pkg/authflow"
	"github.com/tastebook/tastebook/pkg/authsession"
	"github.com/tastebook/tastebook/pkg/client"
	tg "github.com/tastebook/tastebook/pkg/tokengenerator"
)

// AUTH_SESSION_COOKIE_NAME binds the pending auth session to the browser
// that started the flow.
const AUTH_SESSION_COOKIE_NAME = "auth_session"

// Handle serves the authentication endpoints.
type Handle struct {
	flowService  *authflow.Service
	cookieSetter tg.CookieSetter
	frontendURL  string
	sessionTTL   time.Duration
}

// Option is a function that configures a Handle
type Option func(*Handle)

// WithFrontendURL sets where browser-flow redirects land after the callback.
func WithFrontendURL(url string) Option {
	return func(h *Handle) {
		h.frontendURL = url
	}
}

// WithSessionCookieTTL sets the auth session cookie lifetime. It should
// match the session store's TTL.
func WithSessionCookieTTL(ttl time.Duration) Option {
	return func(h *Handle) {
		h.sessionTTL = ttl
	}
}

// NewHandle creates a new authentication API handler.
func NewHandle(flowService *authflow.Service, cookieSetter tg.CookieSetter, opts ...Option) *Handle {
	h := &Handle{
		flowService:  flowService,
		cookieSetter: cookieSetter,
		frontendURL:  "http://localhost:3000",
		sessionTTL:   authsession.DefaultTTL,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the authentication endpoints on the given router. The
// /check endpoint expects the access-token verifier middleware upstream.
func (h *Handle) Routes(r chi.Router) {
	r.Get("/provider", h.Login)
	r.Get("/provider/callback", h.Callback)
	r.Post("/token", h.Token)
	r.Post("/refresh", h.Refresh)
	r.Post("/logout", h.Logout)
	r.Get("/check", h.Check)
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// TokenResponse is the JSON body returned by the token and refresh endpoints.
type TokenResponse struct {
	AccessToken string        `json:"accessToken"`
	ExpiresIn   int64         `json:"expiresIn"`
	User        *UserResponse `json:"user,omitempty"`
}

// TokenRequest is the JSON body of the SPA code exchange.
type TokenRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"codeVerifier"`
}

// CheckResponse reports whether the caller holds a valid access token.
type CheckResponse struct {
	Authenticated bool          `json:"authenticated"`
	User          *UserResponse `json:"user,omitempty"`
}

// Login starts the browser flow.
// (GET /auth/provider)
func (h *Handle) Login(w http.ResponseWriter, r *http.Request) {
	begin, err := h.flowService.Begin(r.Context())
	if err != nil {
		h.redirectWithError(w, r, authflow.ErrorTypeInternalError)
		return
	}

	err = h.cookieSetter.SetCookie(w, AUTH_SESSION_COOKIE_NAME, begin.SessionID, time.Now().Add(h.sessionTTL))
	if err != nil {
		h.redirectWithError(w, r, authflow.ErrorTypeInternalError)
		return
	}

	http.Redirect(w, r, begin.AuthURL, http.StatusFound)
}

// Callback finishes the browser flow.
// (GET /auth/provider/callback)
func (h *Handle) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	request := authflow.CallbackRequest{
		Code:          query.Get("code"),
		State:         query.Get("state"),
		ProviderError: query.Get("error"),
	}
	if cookie, err := r.Cookie(AUTH_SESSION_COOKIE_NAME); err == nil {
		request.SessionID = cookie.Value
	}

	// The session cookie is one-shot regardless of outcome
	h.cookieSetter.ClearCookie(w, AUTH_SESSION_COOKIE_NAME)

	result := h.flowService.Callback(r.Context(), request)
	if !result.Success {
		h.redirectWithError(w, r, result.ErrorResponse.Type)
		return
	}

	err := h.cookieSetter.SetCookie(w, tg.ACCESS_TOKEN_NAME, result.Tokens.AccessToken, result.Tokens.AccessTokenExpiry)
	if err == nil {
		err = h.cookieSetter.SetCookie(w, tg.REFRESH_TOKEN_NAME, result.Tokens.RefreshToken, result.Tokens.RefreshTokenExpiry)
	}
	if err != nil {
		h.redirectWithError(w, r, authflow.ErrorTypeInternalError)
		return
	}

	http.Redirect(w, r, h.frontendURL+"/?auth=success", http.StatusFound)
}

// Token exchanges an authorization code and client-held verifier for an
// access token and a refresh cookie.
// (POST /auth/token)
func (h *Handle) Token(w http.ResponseWriter, r *http.Request) {
	data := TokenRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, authflow.Error{
			Type:    authflow.ErrorTypeMissingParameter,
			Message: "Unable to parse request body",
		})
		return
	}

	result := h.flowService.ExchangeCode(r.Context(), data.Code, data.CodeVerifier)
	h.renderTokenResult(w, r, result, true)
}

// Refresh rotates the refresh token presented in the refresh_token cookie.
// The token is never read from the body: it must stay out of script reach.
// (POST /auth/refresh)
func (h *Handle) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(tg.REFRESH_TOKEN_NAME)
	if err != nil || cookie.Value == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, authflow.Error{
			Type:    authflow.ErrorTypeMissingParameter,
			Message: "Missing refresh token cookie",
		})
		return
	}

	result := h.flowService.Refresh(r.Context(), cookie.Value)
	h.renderTokenResult(w, r, result, false)
}

// Logout revokes the refresh token from the cookie and clears both token
// cookies. Always succeeds.
// (POST /auth/logout)
func (h *Handle) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(tg.REFRESH_TOKEN_NAME); err == nil {
		h.flowService.Logout(r.Context(), cookie.Value)
	}

	h.cookieSetter.ClearCookie(w, tg.ACCESS_TOKEN_NAME)
	h.cookieSetter.ClearCookie(w, tg.REFRESH_TOKEN_NAME)

	render.JSON(w, r, struct{}{})
}

// Check reports whether the caller's access token is valid. Requires the
// verifier middleware to have run.
// (GET /auth/check)
func (h *Handle) Check(w http.ResponseWriter, r *http.Request) {
	authCtx := client.GetAuthContext(r)
	if !authCtx.IsAuthenticated {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, CheckResponse{Authenticated: false})
		return
	}

	render.JSON(w, r, CheckResponse{
		Authenticated: true,
		User: &UserResponse{
			ID:          authCtx.User.UserID,
			Email:       authCtx.User.Email,
			DisplayName: authCtx.User.DisplayName,
			AvatarURL:   authCtx.User.AvatarURL,
		},
	})
}

func (h *Handle) renderTokenResult(w http.ResponseWriter, r *http.Request, result authflow.Result, includeUser bool) {
	if !result.Success {
		render.Status(r, statusForErrorType(result.ErrorResponse.Type))
		render.JSON(w, r, result.ErrorResponse)
		return
	}

	err := h.cookieSetter.SetCookie(w, tg.REFRESH_TOKEN_NAME, result.Tokens.RefreshToken, result.Tokens.RefreshTokenExpiry)
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, authflow.Error{
			Type:    authflow.ErrorTypeInternalError,
			Message: "Failed to set refresh cookie",
		})
		return
	}

	response := TokenResponse{
		AccessToken: result.Tokens.AccessToken,
		ExpiresIn:   int64(time.Until(result.Tokens.AccessTokenExpiry).Seconds()),
	}
	if includeUser && result.User != nil {
		userResponse := UserResponse{}
		copier.Copy(&userResponse, result.User)
		response.User = &userResponse
	}

	render.JSON(w, r, response)
}

func (h *Handle) redirectWithError(w http.ResponseWriter, r *http.Request, errorType string) {
	http.Redirect(w, r, h.frontendURL+"/login?error="+errorType, http.StatusFound)
}

func statusForErrorType(errorType string) int {
	switch errorType {
	case authflow.ErrorTypeMissingParameter,
		authflow.ErrorTypeMissingSession,
		authflow.ErrorTypeExpiredSession,
		authflow.ErrorTypeStateMismatch:
		return http.StatusBadRequest
	case authflow.ErrorTypeProviderDenied,
		authflow.ErrorTypeProviderExchange,
		authflow.ErrorTypeInvalidAccessToken,
		authflow.ErrorTypeInvalidRefreshToken,
		authflow.ErrorTypeRevokedRefreshToken:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
