package authgate

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginTwoFactorPending = "login_two_factor_pending"
	auditEventRegisterSuccess       = "register_success"
	auditEventRegisterFailure       = "register_failure"
	auditEventTwoFactorSent         = "two_factor_challenge_sent"
	auditEventTwoFactorSuccess      = "two_factor_success"
	auditEventTwoFactorFailure      = "two_factor_failure"
	auditEventTwoFactorToggled      = "two_factor_toggled"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventExternalLogin         = "external_login"
)

// AuditErrorCode is the stable, secret-free error label on audit events.
type AuditErrorCode string

const (
	auditErrCaptchaInvalid     AuditErrorCode = "captcha_invalid"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrMismatch           AuditErrorCode = "confirmation_mismatch"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrAccountNotFound    AuditErrorCode = "account_not_found"
	auditErrInvalidCode        AuditErrorCode = "invalid_or_expired_code"
	auditErrResetTokenNotFound AuditErrorCode = "reset_token_not_found"
	auditErrResetTokenUsed     AuditErrorCode = "reset_token_used"
	auditErrResetTokenExpired  AuditErrorCode = "reset_token_expired"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExternalIdentity   AuditErrorCode = "external_identity_invalid"
	auditErrUnknownProvider    AuditErrorCode = "unknown_provider"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	email string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		Email:     email,
		RequestID: RequestIDFromContext(ctx),
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrCaptchaInvalid):
		return auditErrCaptchaInvalid
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrEmailAlreadyRegistered):
		return auditErrDuplicate
	case errors.Is(err, ErrPasswordConfirmationMismatch):
		return auditErrMismatch
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrInvalidOrExpiredCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrResetTokenNotFound):
		return auditErrResetTokenNotFound
	case errors.Is(err, ErrResetTokenUsed):
		return auditErrResetTokenUsed
	case errors.Is(err, ErrResetTokenExpired):
		return auditErrResetTokenExpired
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenExpired):
		return auditErrInvalidToken
	case errors.Is(err, ErrExternalIdentityInvalid):
		return auditErrExternalIdentity
	case errors.Is(err, ErrUnknownProvider):
		return auditErrUnknownProvider
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
