package authgate

import (
	"errors"
	"strings"

	"github.com/MrEthical07/authgate/jwt"
)

var (
	// ErrCaptchaInvalid is returned when the CAPTCHA upstream rejects the
	// response token or answers with something unparseable.
	ErrCaptchaInvalid = errors.New("captcha verification failed")
	// ErrInvalidCredentials does not distinguish unknown emails from wrong passwords.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailAlreadyRegistered is an exported constant or variable used by the authentication engine.
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	// ErrPasswordConfirmationMismatch is an exported constant or variable used by the authentication engine.
	ErrPasswordConfirmationMismatch = errors.New("password confirmation does not match")
	// ErrAccountNotFound is an exported constant or variable used by the authentication engine.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidOrExpiredCode covers never-sent, expired, consumed, and mismatched 2FA codes.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired verification code")
	// ErrResetTokenNotFound is an exported constant or variable used by the authentication engine.
	ErrResetTokenNotFound = errors.New("reset token not found")
	// ErrResetTokenUsed is an exported constant or variable used by the authentication engine.
	ErrResetTokenUsed = errors.New("reset token already used")
	// ErrResetTokenExpired is an exported constant or variable used by the authentication engine.
	ErrResetTokenExpired = errors.New("reset token expired")
	// ErrTokenExpired is the codec's expiry error.
	ErrTokenExpired = jwt.ErrTokenExpired
	// ErrTokenInvalid is the codec's signature/structure error.
	ErrTokenInvalid = jwt.ErrTokenInvalid
	// ErrTooManyAttempts is returned while a 2FA or forgot-password limit is
	// in force.
	ErrTooManyAttempts = errors.New("too many attempts, try again later")
	// ErrTwoFactorRequired is returned for pending-2FA tokens outside the 2FA endpoint.
	ErrTwoFactorRequired = errors.New("two-factor verification required")
	// ErrUnauthorized is an exported constant or variable used by the authentication engine.
	ErrUnauthorized = errors.New("authentication required")
	// ErrForbidden is an exported constant or variable used by the authentication engine.
	ErrForbidden = errors.New("access denied")
	// ErrServiceUnavailable wraps upstream CAPTCHA, mail, cache, and store failures.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrUnknownProvider is an exported constant or variable used by the authentication engine.
	ErrUnknownProvider = errors.New("unknown identity provider")
	// ErrExternalIdentityInvalid is returned when a provider rejects the upstream token.
	ErrExternalIdentityInvalid = errors.New("external identity rejected")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries per-field failures. errors.Is(err, ErrValidation)
// holds for every ValidationError.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}
