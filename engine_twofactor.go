package authgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/internal/stores"
)

const (
	twoFactorMailSubject = "Your 2FA verification code"
	twoFactorMailBody    = "Your verification code is: %s"

	messageTwoFactorVerified = "2FA verification successful"
)

// SendTwoFactorChallenge mails a fresh 6-digit code to email. A later call
// replaces the earlier code.
func (e *Engine) SendTwoFactorChallenge(ctx context.Context, email string) (err error) {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "SendTwoFactorChallenge")
	defer func() { endSpan(span, err) }()

	return e.sendTwoFactorChallenge(ctx, normalizeEmail(email))
}

func (e *Engine) sendTwoFactorChallenge(ctx context.Context, email string) error {
	return flows.RunSendTwoFactorChallenge(ctx, email, e.twoFactorFlowDeps())
}

// CompleteTwoFactor redeems an emailed code and issues a full session token.
// A code works once; retries after success fail with ErrInvalidOrExpiredCode.
func (e *Engine) CompleteTwoFactor(ctx context.Context, email, code string) (result LoginResult, err error) {
	if e == nil {
		return LoginResult{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "CompleteTwoFactor")
	defer func() { endSpan(span, err) }()

	account, err := flows.RunValidateTwoFactor(ctx, normalizeEmail(email), code, e.twoFactorFlowDeps())
	if err != nil {
		return LoginResult{}, err
	}

	token, err := e.issueToken(account, false)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue session token: %w", err)
	}
	e.metricInc(MetricTokenIssued)
	return e.loginResult(flows.LoginOutcome{Account: account, Token: token}, messageTwoFactorVerified)
}

// SetTwoFactorEnabled turns emailed-code 2FA on or off for email.
func (e *Engine) SetTwoFactorEnabled(ctx context.Context, email string, enabled bool) (err error) {
	if e == nil {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "SetTwoFactorEnabled")
	defer func() { endSpan(span, err) }()

	return flows.RunSetTwoFactorEnabled(ctx, normalizeEmail(email), enabled, e.twoFactorFlowDeps())
}

func (e *Engine) twoFactorFlowDeps() flows.TwoFactorDeps {
	deps := flows.TwoFactorDeps{
		CodeTTL:       TwoFactorCodeTTL,
		MapStoreError: mapAccountStoreError,
		NewCode:       internal.NewChallengeCode,
		MetricInc:     e.metricIncFn,
		EmitAudit:     e.emitAudit,
		Metrics: flows.TwoFactorMetrics{
			ChallengeSent: int(MetricTwoFactorChallengeSent),
			Success:       int(MetricTwoFactorSuccess),
			Failure:       int(MetricTwoFactorFailure),
			Toggled:       int(MetricTwoFactorToggled),
			MailFailure:   int(MetricMailFailure),
		},
		Events: flows.TwoFactorEvents{
			ChallengeSent: auditEventTwoFactorSent,
			Success:       auditEventTwoFactorSuccess,
			Failure:       auditEventTwoFactorFailure,
			Toggled:       auditEventTwoFactorToggled,
		},
		Errors: flows.TwoFactorErrors{
			EngineNotReady:       ErrEngineNotReady,
			InvalidOrExpiredCode: ErrInvalidOrExpiredCode,
			ServiceUnavailable:   ErrServiceUnavailable,
		},
	}

	if e.accounts != nil {
		deps.GetAccount = e.getFlowAccount
		deps.SetEnabled = e.accounts.SetTwoFactorEnabled
	}
	if e.challenges != nil {
		deps.StoreCode = func(ctx context.Context, email, code string, ttl time.Duration) error {
			return mapChallengeStoreError(e.challenges.Set(ctx, email, code, ttl))
		}
		deps.TakeCode = func(ctx context.Context, email, code string) (bool, error) {
			ok, err := e.challenges.Take(ctx, email, code)
			return ok, mapChallengeStoreError(err)
		}
	}
	if e.twoFactorLimiter != nil {
		deps.ReserveAttempt = func(ctx context.Context, email string) error {
			return mapRateLimitError(e.twoFactorLimiter.Reserve(ctx, email))
		}
		deps.ResetAttempts = e.twoFactorLimiter.Reset
	}
	if e.mailer != nil {
		deps.SendCode = func(ctx context.Context, email, code string) error {
			return e.sendMail(ctx, Message{
				To:      email,
				Subject: twoFactorMailSubject,
				Body:    fmt.Sprintf(twoFactorMailBody, code),
			})
		}
	}
	return deps
}

func mapChallengeStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrChallengeNotFound):
		return ErrInvalidOrExpiredCode
	case errors.Is(err, stores.ErrChallengeBackend):
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	default:
		return err
	}
}
