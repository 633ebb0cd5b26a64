package authgate

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/internal/flows"
)

const (
	passwordResetMailSubject = "Password Recovery"
	passwordResetMailBody    = "Paste the following code to reset your password: %s"

	// MessageForgotPassword is returned for every accepted forgot-password
	// request, registered email or not.
	MessageForgotPassword = "If the email is registered, a recovery code has been sent"
	MessagePasswordReset  = "Password has been reset"
)

// ForgotPassword mails a reset code to a registered email. It returns nil
// for unknown emails too, after a short random delay, and sends nothing.
func (e *Engine) ForgotPassword(ctx context.Context, email string) (err error) {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "ForgotPassword")
	defer func() { endSpan(span, err) }()

	email = normalizeEmail(email)
	verr := &ValidationError{}
	checkEmail(verr, "email", email)
	if err := verr.orNil(); err != nil {
		return err
	}
	return flows.RunRequestPasswordReset(ctx, email, e.passwordResetFlowDeps())
}

// ResetPassword redeems a reset code and stores the new password.
func (e *Engine) ResetPassword(ctx context.Context, req ResetPasswordRequest) (err error) {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "ResetPassword")
	defer func() { endSpan(span, err) }()

	if req.NewPassword != req.RepeatPassword {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return ErrPasswordConfirmationMismatch
	}
	if err := validateResetPassword(req); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return err
	}
	return flows.RunConfirmPasswordReset(ctx, req.Code, req.NewPassword, e.passwordResetFlowDeps())
}

func (e *Engine) passwordResetFlowDeps() flows.PasswordResetDeps {
	deps := flows.PasswordResetDeps{
		TokenTTL:          PasswordResetTokenTTL,
		Now:               e.now,
		IsAccountNotFound: isAccountNotFound,
		MapStoreError:     mapAccountStoreError,
		NewToken:          internal.NewResetToken,
		HashToken:         internal.HashResetToken,
		MetricInc:         e.metricIncFn,
		EmitAudit:         e.emitAudit,
		Metrics: flows.PasswordResetMetrics{
			PasswordResetRequest:        int(MetricPasswordResetRequest),
			PasswordResetConfirmSuccess: int(MetricPasswordResetConfirmSuccess),
			PasswordResetConfirmFailure: int(MetricPasswordResetConfirmFailure),
			MailFailure:                 int(MetricMailFailure),
		},
		Events: flows.PasswordResetEvents{
			PasswordResetRequest: auditEventPasswordResetRequest,
			PasswordResetConfirm: auditEventPasswordResetConfirm,
		},
		Errors: flows.PasswordResetErrors{
			EngineNotReady:     ErrEngineNotReady,
			ResetTokenNotFound: ErrResetTokenNotFound,
			ResetTokenExpired:  ErrResetTokenExpired,
			ResetTokenUsed:     ErrResetTokenUsed,
			ServiceUnavailable: ErrServiceUnavailable,
		},
	}
	if e.config.PasswordReset.EnumerationDelay {
		deps.SleepEnumerationDelay = sleepPasswordResetEnumerationDelay
	}

	if e.accounts != nil {
		deps.GetAccount = e.getFlowAccount
	}
	if e.resetLimiter != nil {
		deps.CheckRequest = func(ctx context.Context, email string) error {
			return mapRateLimitError(e.resetLimiter.CheckRequest(ctx, email, ClientIPFromContext(ctx)))
		}
	}
	if e.resetTokens != nil {
		deps.ReplaceToken = func(ctx context.Context, record flows.PasswordResetRecord) error {
			return e.resetTokens.ReplaceResetToken(ctx, ResetToken{
				ID:        record.ID,
				AccountID: record.AccountID,
				TokenHash: record.TokenHash,
				ExpiresAt: record.ExpiresAt,
				Used:      record.Used,
				CreatedAt: record.CreatedAt,
			})
		}
		deps.ConsumeToken = func(ctx context.Context, tokenHash string, apply func(flows.PasswordResetRecord) (string, error)) error {
			return e.resetTokens.ConsumeResetToken(ctx, tokenHash, func(t ResetToken) (string, error) {
				return apply(flows.PasswordResetRecord{
					ID:        t.ID,
					AccountID: t.AccountID,
					TokenHash: t.TokenHash,
					ExpiresAt: t.ExpiresAt,
					Used:      t.Used,
					CreatedAt: t.CreatedAt,
				})
			})
		}
	}
	if e.passwordHash != nil {
		deps.HashPassword = e.passwordHash.Hash
	}
	if e.mailer != nil {
		deps.SendToken = func(ctx context.Context, email, token string) error {
			return e.sendMail(ctx, Message{
				To:      email,
				Subject: passwordResetMailSubject,
				Body:    fmt.Sprintf(passwordResetMailBody, token),
			})
		}
	}
	return deps
}

func sleepPasswordResetEnumerationDelay(ctx context.Context) error {
	const minMs, maxMs = 20, 40

	n, err := rand.Int(rand.Reader, big.NewInt(maxMs-minMs+1))
	if err != nil {
		return errors.Join(ErrServiceUnavailable, err)
	}

	timer := time.NewTimer(time.Duration(minMs+n.Int64()) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
