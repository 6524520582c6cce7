package authflow

// Machine-readable error codes surfaced to clients. Browser-flow failures are
// carried as a coarse `error` query parameter on the login redirect; API-flow
// failures are returned as structured JSON. Provider detail stays in the
// server logs.
const (
	ErrorTypeMissingParameter    = "missing_parameter"
	ErrorTypeProviderDenied      = "provider_denied"
	ErrorTypeMissingSession      = "missing_session"
	ErrorTypeExpiredSession      = "expired_or_replayed_session"
	ErrorTypeStateMismatch       = "state_mismatch"
	ErrorTypeProviderExchange    = "provider_exchange_error"
	ErrorTypeInvalidAccessToken  = "invalid_access_token"
	ErrorTypeInvalidRefreshToken = "invalid_refresh_token"
	ErrorTypeRevokedRefreshToken = "revoked_or_expired_refresh_token"
	ErrorTypeInternalError       = "internal_error"
)

// Error is a flow-level failure with a stable machine-readable type.
type Error struct {
	Type    string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (e *Error) Error() string {
	return e.Type + ": " + e.Message
}
