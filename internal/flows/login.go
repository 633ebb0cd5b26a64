package flows

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type LoginMetrics struct {
	LoginSuccess          int
	LoginFailure          int
	LoginCaptchaRejected  int
	LoginTwoFactorPending int
	TokenIssued           int
}

type LoginEvents struct {
	LoginSuccess          string
	LoginFailure          string
	LoginTwoFactorPending string
}

type LoginErrors struct {
	EngineNotReady     error
	CaptchaInvalid     error
	InvalidCredentials error
	ServiceUnavailable error
}

type LoginDeps struct {
	Now func() time.Time

	VerifyCaptcha func(context.Context, string) (bool, error)

	GetAccount        func(context.Context, string) (Account, error)
	IsAccountNotFound func(error) bool
	MapStoreError     func(error) error

	VerifyPassword func(string, string) (bool, error)
	// DummyVerify burns one hash verification for unknown emails.
	DummyVerify func(string)

	SendChallenge func(context.Context, string) error
	IssueToken    func(Account, bool) (string, error)

	ObserveLatency func(time.Duration)
	MetricInc      func(int)
	EmitAudit      AuditFunc

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin checks the CAPTCHA, then the credentials, then either mails a 2FA
// code or issues a full session token.
func RunLogin(ctx context.Context, email, password, captchaToken string, deps LoginDeps) (LoginOutcome, error) {
	normalizeLoginDeps(&deps)
	if deps.VerifyCaptcha == nil || deps.GetAccount == nil || deps.VerifyPassword == nil || deps.IssueToken == nil || deps.SendChallenge == nil {
		return LoginOutcome{}, deps.Errors.EngineNotReady
	}

	start := deps.Now()
	defer func() {
		deps.ObserveLatency(deps.Now().Sub(start))
	}()

	ok, err := deps.VerifyCaptcha(ctx, captchaToken)
	if err != nil {
		mapped := deps.Errors.CaptchaInvalid
		if !errors.Is(err, deps.Errors.CaptchaInvalid) {
			mapped = errors.Join(deps.Errors.ServiceUnavailable, err)
		}
		deps.MetricInc(deps.Metrics.LoginCaptchaRejected)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, "", email, mapped, func() map[string]string {
			return map[string]string{"stage": "captcha"}
		})
		return LoginOutcome{}, mapped
	}
	if !ok {
		deps.MetricInc(deps.Metrics.LoginCaptchaRejected)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, "", email, deps.Errors.CaptchaInvalid, func() map[string]string {
			return map[string]string{"stage": "captcha"}
		})
		return LoginOutcome{}, deps.Errors.CaptchaInvalid
	}

	account, err := deps.GetAccount(ctx, email)
	if err != nil {
		if !deps.IsAccountNotFound(err) {
			mapped := deps.MapStoreError(err)
			deps.MetricInc(deps.Metrics.LoginFailure)
			deps.EmitAudit(ctx, deps.Events.LoginFailure, false, "", email, mapped, nil)
			return LoginOutcome{}, mapped
		}
		deps.DummyVerify(password)
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, "", email, deps.Errors.InvalidCredentials, nil)
		return LoginOutcome{}, deps.Errors.InvalidCredentials
	}

	match, err := deps.VerifyPassword(password, account.PasswordHash)
	if err != nil || !match {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, account.ID, account.Email, deps.Errors.InvalidCredentials, nil)
		return LoginOutcome{}, deps.Errors.InvalidCredentials
	}

	if account.TwoFactorEnabled {
		if err := deps.SendChallenge(ctx, account.Email); err != nil {
			deps.MetricInc(deps.Metrics.LoginFailure)
			deps.EmitAudit(ctx, deps.Events.LoginFailure, false, account.ID, account.Email, err, func() map[string]string {
				return map[string]string{"stage": "two_factor_challenge"}
			})
			return LoginOutcome{}, err
		}
		deps.MetricInc(deps.Metrics.LoginTwoFactorPending)
		deps.EmitAudit(ctx, deps.Events.LoginTwoFactorPending, true, account.ID, account.Email, nil, nil)
		return LoginOutcome{Account: account, TwoFactorPending: true}, nil
	}

	token, err := deps.IssueToken(account, false)
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		return LoginOutcome{}, fmt.Errorf("issue session token: %w", err)
	}

	deps.MetricInc(deps.Metrics.TokenIssued)
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, account.ID, account.Email, nil, nil)
	return LoginOutcome{Account: account, Token: token}, nil
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsAccountNotFound == nil {
		deps.IsAccountNotFound = func(error) bool { return false }
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(err error) error { return err }
	}
	if deps.DummyVerify == nil {
		deps.DummyVerify = func(string) {}
	}
	if deps.ObserveLatency == nil {
		deps.ObserveLatency = func(time.Duration) {}
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
	if deps.Errors.CaptchaInvalid == nil {
		deps.Errors.CaptchaInvalid = errors.New("captcha verification failed")
	}
	if deps.Errors.InvalidCredentials == nil {
		deps.Errors.InvalidCredentials = errors.New("invalid email or password")
	}
	if deps.Errors.ServiceUnavailable == nil {
		deps.Errors.ServiceUnavailable = errors.New("service unavailable")
	}
}
