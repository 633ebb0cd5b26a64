package flows

import (
	"context"
	"errors"
	"time"
)

// PasswordResetRecord mirrors a durable reset token row.
type PasswordResetRecord struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

type PasswordResetMetrics struct {
	PasswordResetRequest        int
	PasswordResetConfirmSuccess int
	PasswordResetConfirmFailure int
	MailFailure                 int
}

type PasswordResetEvents struct {
	PasswordResetRequest string
	PasswordResetConfirm string
}

type PasswordResetErrors struct {
	EngineNotReady     error
	ResetTokenNotFound error
	ResetTokenExpired  error
	ResetTokenUsed     error
	ServiceUnavailable error
}

type PasswordResetDeps struct {
	TokenTTL time.Duration
	Now      func() time.Time

	GetAccount        func(context.Context, string) (Account, error)
	IsAccountNotFound func(error) bool
	MapStoreError     func(error) error

	NewToken     func() (string, string, error)
	HashToken    func(string) string
	ReplaceToken func(context.Context, PasswordResetRecord) error
	ConsumeToken func(context.Context, string, func(PasswordResetRecord) (string, error)) error
	HashPassword func(string) (string, error)
	SendToken    func(context.Context, string, string) error

	SleepEnumerationDelay func(context.Context) error
	// CheckRequest counts a forgot-password request before the email is
	// looked up. Optional.
	CheckRequest func(context.Context, string) error

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

// RunRequestPasswordReset issues a reset token for a registered email and
// mails it. Unknown emails succeed silently after a short random delay.
func RunRequestPasswordReset(ctx context.Context, email string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)
	if deps.GetAccount == nil || deps.NewToken == nil || deps.ReplaceToken == nil || deps.SendToken == nil {
		return deps.Errors.EngineNotReady
	}

	if err := deps.CheckRequest(ctx, email); err != nil {
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, "", email, err, func() map[string]string {
			return map[string]string{"reason": "rate_limited"}
		})
		return err
	}

	account, err := deps.GetAccount(ctx, email)
	if err != nil {
		if !deps.IsAccountNotFound(err) {
			mapped := deps.MapStoreError(err)
			deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, "", email, mapped, nil)
			return mapped
		}
		if sleepErr := deps.SleepEnumerationDelay(ctx); sleepErr != nil {
			return sleepErr
		}
		deps.MetricInc(deps.Metrics.PasswordResetRequest)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, "", email, nil, func() map[string]string {
			return map[string]string{"enumeration_safe": "true"}
		})
		return nil
	}

	token, tokenHash, err := deps.NewToken()
	if err != nil {
		return errors.Join(deps.Errors.ServiceUnavailable, err)
	}

	now := deps.Now()
	record := PasswordResetRecord{
		AccountID: account.ID,
		TokenHash: tokenHash,
		ExpiresAt: now.Add(deps.TokenTTL),
		CreatedAt: now,
	}
	if err := deps.ReplaceToken(ctx, record); err != nil {
		mapped := deps.MapStoreError(err)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, account.ID, account.Email, mapped, nil)
		return mapped
	}

	if err := deps.SendToken(ctx, account.Email, token); err != nil {
		deps.MetricInc(deps.Metrics.MailFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, account.ID, account.Email, deps.Errors.ServiceUnavailable, func() map[string]string {
			return map[string]string{"reason": "mail_failed"}
		})
		return errors.Join(deps.Errors.ServiceUnavailable, err)
	}

	deps.MetricInc(deps.Metrics.PasswordResetRequest)
	deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, account.ID, account.Email, nil, nil)
	return nil
}

// RunConfirmPasswordReset redeems token and sets newPassword. The caller has
// already checked the confirmation and the password policy.
//
// Checks run under the token row lock in this order: missing, expired
// (whatever the used flag says), used.
func RunConfirmPasswordReset(ctx context.Context, token, newPassword string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)
	if deps.HashToken == nil || deps.ConsumeToken == nil || deps.HashPassword == nil {
		return deps.Errors.EngineNotReady
	}

	if token == "" {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, "", "", deps.Errors.ResetTokenNotFound, nil)
		return deps.Errors.ResetTokenNotFound
	}

	var accountID string
	err := deps.ConsumeToken(ctx, deps.HashToken(token), func(record PasswordResetRecord) (string, error) {
		accountID = record.AccountID
		if deps.Now().After(record.ExpiresAt) {
			return "", deps.Errors.ResetTokenExpired
		}
		if record.Used {
			return "", deps.Errors.ResetTokenUsed
		}
		return deps.HashPassword(newPassword)
	})
	if err != nil {
		mapped := mapResetConsumeError(err, deps)
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, accountID, "", mapped, nil)
		return mapped
	}

	deps.MetricInc(deps.Metrics.PasswordResetConfirmSuccess)
	deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, true, accountID, "", nil, nil)
	return nil
}

func mapResetConsumeError(err error, deps PasswordResetDeps) error {
	switch {
	case errors.Is(err, deps.Errors.ResetTokenNotFound):
		return deps.Errors.ResetTokenNotFound
	case errors.Is(err, deps.Errors.ResetTokenExpired):
		return deps.Errors.ResetTokenExpired
	case errors.Is(err, deps.Errors.ResetTokenUsed):
		return deps.Errors.ResetTokenUsed
	default:
		return deps.MapStoreError(err)
	}
}

func normalizePasswordResetDeps(deps *PasswordResetDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsAccountNotFound == nil {
		deps.IsAccountNotFound = func(error) bool { return false }
	}
	if deps.SleepEnumerationDelay == nil {
		deps.SleepEnumerationDelay = func(context.Context) error { return nil }
	}
	if deps.CheckRequest == nil {
		deps.CheckRequest = noopLimit
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(err error) error { return err }
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
	if deps.Errors.ResetTokenNotFound == nil {
		deps.Errors.ResetTokenNotFound = errors.New("reset token not found")
	}
	if deps.Errors.ResetTokenExpired == nil {
		deps.Errors.ResetTokenExpired = errors.New("reset token expired")
	}
	if deps.Errors.ResetTokenUsed == nil {
		deps.Errors.ResetTokenUsed = errors.New("reset token already used")
	}
	if deps.Errors.ServiceUnavailable == nil {
		deps.Errors.ServiceUnavailable = errors.New("service unavailable")
	}
}
