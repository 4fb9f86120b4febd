package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an application error. The values double as the stable
// machine-readable codes rendered in API responses.
type Kind string

const (
	// KindUnauthorized means the caller presented no usable identity
	KindUnauthorized Kind = "UNAUTHORIZED"
	// KindNoAccount means no active linked account exists for the caller
	KindNoAccount Kind = "NO_ACCOUNT"
	// KindInvalidState means CSRF state validation failed
	KindInvalidState Kind = "INVALID_STATE"
	// KindTokenExchangeFailed means the provider rejected the authorization code
	KindTokenExchangeFailed Kind = "TOKEN_EXCHANGE_FAILED"
	// KindUserInfoFailed means the identity fetch after the code exchange failed
	KindUserInfoFailed Kind = "USER_INFO_FAILED"
	// KindRefreshFailed means the provider rejected a token refresh
	KindRefreshFailed Kind = "REFRESH_FAILED"
	// KindStorageFailed means a datastore read or write failed
	KindStorageFailed Kind = "STORAGE_FAILED"
	// KindSendFailed means the provider rejected an outbound message
	KindSendFailed Kind = "SEND_FAILED"
	// KindRateLimited means the sliding-window limiter denied the call
	KindRateLimited Kind = "RATE_LIMITED"
	// KindDecryptionFailed means a vault blob was tampered with or truncated
	KindDecryptionFailed Kind = "DECRYPTION_FAILED"
	// KindValidation represents caller-side input validation errors
	KindValidation Kind = "VALIDATION"
	// KindConfig represents configuration errors
	KindConfig Kind = "CONFIG"
	// KindInternal represents internal system errors
	KindInternal Kind = "INTERNAL"
)

// AppError is a structured application error carrying a taxonomy kind,
// an optional cause and free-form context for logging.
type AppError struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Kind), e.Message}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an AppError of the given kind
func New(kind Kind, msg string, cause error) *AppError {
	return &AppError{Kind: kind, Message: msg, Cause: cause}
}

// Unauthorized creates an error for requests with no caller identity
func Unauthorized(msg string) *AppError {
	return &AppError{Kind: KindUnauthorized, Message: msg}
}

// NoAccount creates an error for a missing active linked account
func NoAccount(ownerID, provider string) *AppError {
	return &AppError{
		Kind:    KindNoAccount,
		Message: fmt.Sprintf("no active %s account for owner %s", provider, ownerID),
	}
}

// InvalidState creates a CSRF state validation error
func InvalidState(msg string) *AppError {
	return &AppError{Kind: KindInvalidState, Message: msg}
}

// TokenExchangeFailed wraps a provider code-exchange failure
func TokenExchangeFailed(cause error) *AppError {
	return &AppError{Kind: KindTokenExchangeFailed, Message: "authorization code exchange failed", Cause: cause}
}

// UserInfoFailed wraps a provider identity fetch failure
func UserInfoFailed(cause error) *AppError {
	return &AppError{Kind: KindUserInfoFailed, Message: "identity fetch failed", Cause: cause}
}

// RefreshFailed wraps a provider token refresh failure
func RefreshFailed(msg string, cause error) *AppError {
	return &AppError{Kind: KindRefreshFailed, Message: msg, Cause: cause}
}

// StorageFailed wraps a datastore failure
func StorageFailed(msg string, cause error) *AppError {
	return &AppError{Kind: KindStorageFailed, Message: msg, Cause: cause}
}

// SendFailed wraps a provider send rejection
func SendFailed(msg string, cause error) *AppError {
	return &AppError{Kind: KindSendFailed, Message: msg, Cause: cause}
}

// RateLimited creates a rate limit error for an identifier
func RateLimited(identifier string) *AppError {
	return &AppError{
		Kind:    KindRateLimited,
		Message: fmt.Sprintf("rate limit exceeded for %s", identifier),
	}
}

// DecryptionFailed wraps a vault decryption failure
func DecryptionFailed(cause error) *AppError {
	return &AppError{Kind: KindDecryptionFailed, Message: "decryption failed", Cause: cause}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{Kind: KindValidation, Message: msg}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{Kind: KindConfig, Message: msg}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{Kind: KindInternal, Message: msg, Cause: cause}
}

// AsAppError finds the first AppError in err's chain
func AsAppError(err error, target **AppError) bool {
	return errors.As(err, target)
}

// IsKind checks if an error (anywhere in its chain) carries a specific kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the error's kind, defaulting to KindInternal for plain errors
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return KindInternal
	}

	return appErr.Kind
}

// HTTPStatus maps an error kind to the HTTP status rendered by handlers
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNoAccount:
		return http.StatusNotFound
	case KindInvalidState, KindValidation:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTokenExchangeFailed, KindUserInfoFailed, KindRefreshFailed, KindSendFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
