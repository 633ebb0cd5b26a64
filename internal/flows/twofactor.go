package flows

import (
	"context"
	"errors"
	"strconv"
	"time"
)

type TwoFactorMetrics struct {
	ChallengeSent int
	Success       int
	Failure       int
	Toggled       int
	MailFailure   int
}

type TwoFactorEvents struct {
	ChallengeSent string
	Success       string
	Failure       string
	Toggled       string
}

type TwoFactorErrors struct {
	EngineNotReady       error
	InvalidOrExpiredCode error
	ServiceUnavailable   error
}

// TwoFactorDeps wires the emailed-code challenge. Codes are keyed by the
// normalized email.
type TwoFactorDeps struct {
	CodeTTL time.Duration

	GetAccount    func(context.Context, string) (Account, error)
	SetEnabled    func(context.Context, string, bool) error
	MapStoreError func(error) error

	NewCode   func() (string, error)
	StoreCode func(context.Context, string, string, time.Duration) error
	TakeCode  func(context.Context, string, string) (bool, error)
	SendCode  func(context.Context, string, string) error

	// ReserveAttempt counts a submission before the code is compared, so
	// concurrent guesses cannot outrun the budget. ResetAttempts follows a
	// correct code. Both are optional.
	ReserveAttempt func(context.Context, string) error
	ResetAttempts  func(context.Context, string) error

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics TwoFactorMetrics
	Events  TwoFactorEvents
	Errors  TwoFactorErrors
}

// RunSendTwoFactorChallenge stores a fresh code for email, replacing any
// earlier one, and mails it. A mail failure leaves the stored code in place.
func RunSendTwoFactorChallenge(ctx context.Context, email string, deps TwoFactorDeps) error {
	normalizeTwoFactorDeps(&deps)
	if deps.GetAccount == nil || deps.NewCode == nil || deps.StoreCode == nil || deps.SendCode == nil {
		return deps.Errors.EngineNotReady
	}

	account, err := deps.GetAccount(ctx, email)
	if err != nil {
		mapped := deps.MapStoreError(err)
		deps.EmitAudit(ctx, deps.Events.ChallengeSent, false, "", email, mapped, nil)
		return mapped
	}

	code, err := deps.NewCode()
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.ChallengeSent, false, account.ID, account.Email, deps.Errors.ServiceUnavailable, func() map[string]string {
			return map[string]string{"reason": "code_generation_failed"}
		})
		return errors.Join(deps.Errors.ServiceUnavailable, err)
	}

	if err := deps.StoreCode(ctx, account.Email, code, deps.CodeTTL); err != nil {
		deps.EmitAudit(ctx, deps.Events.ChallengeSent, false, account.ID, account.Email, deps.Errors.ServiceUnavailable, func() map[string]string {
			return map[string]string{"reason": "cache_write_failed"}
		})
		return errors.Join(deps.Errors.ServiceUnavailable, err)
	}

	if err := deps.SendCode(ctx, account.Email, code); err != nil {
		deps.MetricInc(deps.Metrics.MailFailure)
		deps.EmitAudit(ctx, deps.Events.ChallengeSent, false, account.ID, account.Email, deps.Errors.ServiceUnavailable, func() map[string]string {
			return map[string]string{"reason": "mail_failed"}
		})
		return errors.Join(deps.Errors.ServiceUnavailable, err)
	}

	deps.MetricInc(deps.Metrics.ChallengeSent)
	deps.EmitAudit(ctx, deps.Events.ChallengeSent, true, account.ID, account.Email, nil, nil)
	return nil
}

// RunValidateTwoFactor consumes the code for email. The stored entry is
// removed before the account is looked up, so a code is good exactly once
// and an email with no pending code reads the same as a wrong code.
func RunValidateTwoFactor(ctx context.Context, email, code string, deps TwoFactorDeps) (Account, error) {
	normalizeTwoFactorDeps(&deps)
	if deps.GetAccount == nil || deps.TakeCode == nil {
		return Account{}, deps.Errors.EngineNotReady
	}

	if email == "" || code == "" {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, "", email, deps.Errors.InvalidOrExpiredCode, func() map[string]string {
			return map[string]string{"reason": "empty_input"}
		})
		return Account{}, deps.Errors.InvalidOrExpiredCode
	}

	if err := deps.ReserveAttempt(ctx, email); err != nil {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, "", email, err, func() map[string]string {
			return map[string]string{"reason": "attempts_exceeded"}
		})
		return Account{}, err
	}

	ok, err := deps.TakeCode(ctx, email, code)
	if err != nil {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, "", email, deps.Errors.ServiceUnavailable, nil)
		return Account{}, errors.Join(deps.Errors.ServiceUnavailable, err)
	}
	if !ok {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, "", email, deps.Errors.InvalidOrExpiredCode, nil)
		return Account{}, deps.Errors.InvalidOrExpiredCode
	}
	_ = deps.ResetAttempts(ctx, email)

	account, err := deps.GetAccount(ctx, email)
	if err != nil {
		mapped := deps.MapStoreError(err)
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, "", email, mapped, func() map[string]string {
			return map[string]string{"reason": "account_lookup_failed"}
		})
		return Account{}, mapped
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, account.ID, account.Email, nil, nil)
	return account, nil
}

// RunSetTwoFactorEnabled flips the per-account flag. Setting the current
// value again is not an error.
func RunSetTwoFactorEnabled(ctx context.Context, email string, enabled bool, deps TwoFactorDeps) error {
	normalizeTwoFactorDeps(&deps)
	if deps.SetEnabled == nil {
		return deps.Errors.EngineNotReady
	}

	if err := deps.SetEnabled(ctx, email, enabled); err != nil {
		mapped := deps.MapStoreError(err)
		deps.EmitAudit(ctx, deps.Events.Toggled, false, "", email, mapped, nil)
		return mapped
	}

	deps.MetricInc(deps.Metrics.Toggled)
	deps.EmitAudit(ctx, deps.Events.Toggled, true, "", email, nil, func() map[string]string {
		return map[string]string{"enabled": strconv.FormatBool(enabled)}
	})
	return nil
}

func normalizeTwoFactorDeps(deps *TwoFactorDeps) {
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(err error) error { return err }
	}
	if deps.ReserveAttempt == nil {
		deps.ReserveAttempt = noopLimit
	}
	if deps.ResetAttempts == nil {
		deps.ResetAttempts = noopLimit
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Errors.EngineNotReady == nil {
		deps.Errors.EngineNotReady = errors.New("engine not initialized")
	}
	if deps.Errors.InvalidOrExpiredCode == nil {
		deps.Errors.InvalidOrExpiredCode = errors.New("invalid or expired verification code")
	}
	if deps.Errors.ServiceUnavailable == nil {
		deps.Errors.ServiceUnavailable = errors.New("service unavailable")
	}
}
