package authgate

import (
	"context"
	"time"

	"github.com/MrEthical07/authgate/internal/flows"
)

const (
	messageLoginSuccess     = "Login successful"
	messageTwoFactorPending = "2FA code sent"
)

// Login checks the CAPTCHA response, then the credentials. Accounts with 2FA
// get a mailed code and a result with TwoFactorPending set and no token;
// everyone else gets a full session token.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (result LoginResult, err error) {
	if e == nil {
		return LoginResult{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Login")
	defer func() { endSpan(span, err) }()

	req.Email = normalizeEmail(req.Email)
	if err := validateLogin(req); err != nil {
		return LoginResult{}, err
	}

	outcome, err := flows.RunLogin(ctx, req.Email, req.Password, req.CaptchaToken, e.loginFlowDeps())
	if err != nil {
		return LoginResult{}, err
	}
	if outcome.TwoFactorPending {
		return LoginResult{TwoFactorPending: true, Message: messageTwoFactorPending}, nil
	}
	return e.loginResult(outcome, messageLoginSuccess)
}

func (e *Engine) loginFlowDeps() flows.LoginDeps {
	deps := flows.LoginDeps{
		Now:               e.now,
		GetAccount:        e.getFlowAccount,
		IsAccountNotFound: isAccountNotFound,
		MapStoreError:     mapAccountStoreError,
		SendChallenge:     e.sendTwoFactorChallenge,
		IssueToken:        e.issueToken,
		ObserveLatency: func(d time.Duration) {
			if e.metrics != nil {
				e.metrics.Observe(MetricLoginLatency, d)
			}
		},
		MetricInc: e.metricIncFn,
		EmitAudit: e.emitAudit,
		Metrics: flows.LoginMetrics{
			LoginSuccess:          int(MetricLoginSuccess),
			LoginFailure:          int(MetricLoginFailure),
			LoginCaptchaRejected:  int(MetricLoginCaptchaRejected),
			LoginTwoFactorPending: int(MetricLoginTwoFactorPending),
			TokenIssued:           int(MetricTokenIssued),
		},
		Events: flows.LoginEvents{
			LoginSuccess:          auditEventLoginSuccess,
			LoginFailure:          auditEventLoginFailure,
			LoginTwoFactorPending: auditEventLoginTwoFactorPending,
		},
		Errors: flows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			CaptchaInvalid:     ErrCaptchaInvalid,
			InvalidCredentials: ErrInvalidCredentials,
			ServiceUnavailable: ErrServiceUnavailable,
		},
	}

	if e.captcha != nil {
		deps.VerifyCaptcha = e.captcha.Verify
	}
	if e.passwordHash != nil {
		deps.VerifyPassword = e.passwordHash.Verify
		deps.DummyVerify = func(plaintext string) {
			_, _ = e.passwordHash.Verify(plaintext, e.dummyHash)
		}
	}
	return deps
}
