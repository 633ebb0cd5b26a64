// Package httperr renders engine errors as the uniform JSON error body.
package httperr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrEthical07/authgate"
)

var (
	// ErrBadRequest marks a request body that could not be decoded.
	ErrBadRequest = errors.New("malformed request body")
	// ErrRouteNotFound is written for unknown paths.
	ErrRouteNotFound = errors.New("route not found")
	// ErrMethodNotAllowed is written when the path exists under another method.
	ErrMethodNotAllowed = errors.New("method not allowed")
)

const internalMessage = "An unexpected error occurred"

// Body is the error payload every failing endpoint returns.
type Body struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	ErrorCode  string `json:"errorCode"`
	Details    any    `json:"details,omitempty"`
	Path       string `json:"path"`
}

type mapping struct {
	target error
	status int
	code   string
}

// Order matters: the first target err matches wins.
var mappings = []mapping{
	{ErrBadRequest, http.StatusBadRequest, "BAD_REQUEST"},
	{ErrRouteNotFound, http.StatusNotFound, "RESOURCE_NOT_FOUND"},
	{ErrMethodNotAllowed, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	{authgate.ErrCaptchaInvalid, http.StatusForbidden, "CAPTCHA_INVALID"},
	{authgate.ErrInvalidCredentials, http.StatusBadRequest, "INVALID_CREDENTIALS"},
	{authgate.ErrEmailAlreadyRegistered, http.StatusConflict, "EMAIL_ALREADY_REGISTERED"},
	{authgate.ErrPasswordConfirmationMismatch, http.StatusBadRequest, "PASSWORD_CONFIRMATION_MISMATCH"},
	{authgate.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
	{authgate.ErrAccountNotFound, http.StatusNotFound, "RESOURCE_NOT_FOUND"},
	{authgate.ErrInvalidOrExpiredCode, http.StatusUnauthorized, "INVALID_OR_EXPIRED_CODE"},
	{authgate.ErrResetTokenNotFound, http.StatusUnauthorized, "RESET_TOKEN_NOT_FOUND"},
	{authgate.ErrResetTokenUsed, http.StatusBadRequest, "RESET_TOKEN_USED"},
	{authgate.ErrResetTokenExpired, http.StatusBadRequest, "RESET_TOKEN_EXPIRED"},
	{authgate.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
	{authgate.ErrTokenInvalid, http.StatusUnauthorized, "TOKEN_INVALID"},
	{authgate.ErrTwoFactorRequired, http.StatusUnauthorized, "TWO_FACTOR_REQUIRED"},
	{authgate.ErrTooManyAttempts, http.StatusTooManyRequests, "TOO_MANY_REQUESTS"},
	{authgate.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
	{authgate.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{authgate.ErrServiceUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	{authgate.ErrUnknownProvider, http.StatusNotFound, "RESOURCE_NOT_FOUND"},
	{authgate.ErrExternalIdentityInvalid, http.StatusUnauthorized, "AUTH_ERROR"},
	{authgate.ErrEngineNotReady, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
}

// Classify returns the status, error code and client-facing message for err.
// The message is the sentinel's text, never the wrapped chain, so upstream
// details do not leak.
func Classify(err error) (status int, code, message string) {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			msg := m.target.Error()
			if m.target == context.DeadlineExceeded {
				msg = authgate.ErrServiceUnavailable.Error()
			}
			return m.status, m.code, msg
		}
	}
	return http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", internalMessage
}

// New builds the body for err as seen on path.
func New(err error, path string) Body {
	status, code, msg := Classify(err)
	b := Body{StatusCode: status, Message: msg, ErrorCode: code, Path: path}
	var verr *authgate.ValidationError
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		b.Details = verr.Fields
	}
	return b
}

// Write renders err and returns the status written.
func Write(w http.ResponseWriter, r *http.Request, err error) int {
	path := ""
	if r != nil && r.URL != nil {
		path = r.URL.Path
	}
	b := New(err, path)
	WriteJSON(w, b.StatusCode, b)
	return b.StatusCode
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
