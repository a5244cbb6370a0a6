package auth

import (
	"errors"
	"net/http"

	"github.com/prn-tf/alexander-cms/internal/domain"
)

// Authentication errors.
var (
	// ErrInvalidAuthorizationHeader indicates the Authorization header is malformed
	// or uses an unsupported scheme.
	ErrInvalidAuthorizationHeader = errors.New("invalid authorization header")

	// ErrAuthenticationRequired indicates the action needs an agent.
	ErrAuthenticationRequired = errors.New("authentication required")
)

// ErrorCode is the machine-readable code of an authentication failure.
type ErrorCode string

const (
	ErrorCodeInvalidCredentials ErrorCode = "InvalidCredentials"
	ErrorCodePendingActivation  ErrorCode = "PendingActivation"
	ErrorCodeMalformedHeader    ErrorCode = "AuthorizationHeaderMalformed"
	ErrorCodeAuthRequired       ErrorCode = "AuthenticationRequired"
	ErrorCodeInternalError      ErrorCode = "InternalError"
)

// AuthError represents an authentication error with its HTTP mapping.
type AuthError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"-"`
}

func (e *AuthError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewAuthError creates a new AuthError from a standard error.
func NewAuthError(err error) *AuthError {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return &AuthError{Code: ErrorCodeInvalidCredentials, Message: err.Error(), HTTPStatus: http.StatusUnauthorized}

	case errors.Is(err, domain.ErrAgentPending):
		return &AuthError{Code: ErrorCodePendingActivation, Message: err.Error(), HTTPStatus: http.StatusUnauthorized}

	case errors.Is(err, ErrInvalidAuthorizationHeader):
		return &AuthError{Code: ErrorCodeMalformedHeader, Message: err.Error(), HTTPStatus: http.StatusBadRequest}

	case errors.Is(err, ErrAuthenticationRequired):
		return &AuthError{Code: ErrorCodeAuthRequired, Message: err.Error(), HTTPStatus: http.StatusUnauthorized}

	default:
		return &AuthError{Code: ErrorCodeInternalError, Message: "internal error", HTTPStatus: http.StatusInternalServerError}
	}
}
