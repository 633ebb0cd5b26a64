package authgate

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/internal/flows"
	"github.com/google/uuid"
)

const (
	messageRegistered    = "Registration successful"
	messageExternalLogin = "Login successful"
)

// Register creates a USER account with 2FA off and returns its first session
// token. The confirmation is compared before any other validation.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (result LoginResult, err error) {
	if e == nil {
		return LoginResult{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Register")
	defer func() { endSpan(span, err) }()

	if req.Password != req.ConfirmPassword {
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", normalizeEmail(req.Email), ErrPasswordConfirmationMismatch, nil)
		return LoginResult{}, ErrPasswordConfirmationMismatch
	}
	if err := validateRegistration(req); err != nil {
		e.metricInc(MetricRegisterFailure)
		return LoginResult{}, err
	}

	outcome, err := flows.RunRegister(ctx, strings.TrimSpace(req.FullName), normalizeEmail(req.Email), req.Password, e.accountFlowDeps())
	if err != nil {
		return LoginResult{}, err
	}
	return e.loginResult(outcome, messageRegistered)
}

// LoginExternal signs in through a registered identity provider. Unknown
// emails get a new USER account with an unusable password. Accounts with 2FA
// get a pending token that only the 2FA endpoint accepts.
func (e *Engine) LoginExternal(ctx context.Context, provider, token string) (result LoginResult, err error) {
	if e == nil {
		return LoginResult{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "LoginExternal")
	defer func() { endSpan(span, err) }()

	outcome, err := flows.RunExternalLogin(ctx, strings.ToLower(strings.TrimSpace(provider)), token, e.accountFlowDeps())
	if err != nil {
		return LoginResult{}, err
	}
	message := messageExternalLogin
	if outcome.TwoFactorPending {
		message = messageTwoFactorPending
	}
	return e.loginResult(outcome, message)
}

func (e *Engine) accountFlowDeps() flows.AccountDeps {
	deps := flows.AccountDeps{
		DefaultRole:       string(RoleUser),
		Now:               e.now,
		NewAccountID:      uuid.NewString,
		IsAccountNotFound: isAccountNotFound,
		MapStoreError:     mapAccountStoreError,
		NormalizeEmail:    normalizeEmail,
		SendChallenge:     e.sendTwoFactorChallenge,
		IssueToken:        e.issueToken,
		ResolveIdentity:   e.resolveIdentity,
		MetricInc:         e.metricIncFn,
		EmitAudit:         e.emitAudit,
		Metrics: flows.AccountMetrics{
			RegisterSuccess:      int(MetricRegisterSuccess),
			RegisterDuplicate:    int(MetricRegisterDuplicate),
			RegisterFailure:      int(MetricRegisterFailure),
			ExternalLoginSuccess: int(MetricExternalLoginSuccess),
			ExternalLoginFailure: int(MetricExternalLoginFailure),
			TokenIssued:          int(MetricTokenIssued),
		},
		Events: flows.AccountEvents{
			RegisterSuccess: auditEventRegisterSuccess,
			RegisterFailure: auditEventRegisterFailure,
			ExternalLogin:   auditEventExternalLogin,
		},
		Errors: flows.AccountErrors{
			EngineNotReady:          ErrEngineNotReady,
			EmailAlreadyRegistered:  ErrEmailAlreadyRegistered,
			ServiceUnavailable:      ErrServiceUnavailable,
			UnknownProvider:         ErrUnknownProvider,
			ExternalIdentityInvalid: ErrExternalIdentityInvalid,
		},
	}

	if e.accounts != nil {
		deps.GetAccount = e.getFlowAccount
		deps.CreateAccount = func(ctx context.Context, account flows.Account, finalize func(context.Context, flows.Account) error) error {
			var storeFinalize func(context.Context, Account) error
			if finalize != nil {
				storeFinalize = func(ctx context.Context, created Account) error {
					return finalize(ctx, toFlowAccount(created))
				}
			}
			return e.accounts.CreateAccount(ctx, fromFlowAccount(account), storeFinalize)
		}
	}
	if e.passwordHash != nil {
		deps.HashPassword = e.passwordHash.Hash
		deps.UnusablePassword = func() (string, error) {
			secret, err := internal.NewUnusableSecret()
			if err != nil {
				return "", err
			}
			return e.passwordHash.Hash(secret)
		}
	}
	return deps
}

func (e *Engine) resolveIdentity(ctx context.Context, provider, token string) (flows.ExternalIdentity, error) {
	resolver, ok := e.providers[provider]
	if !ok {
		return flows.ExternalIdentity{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	ident, err := resolver.ResolveExternalIdentity(ctx, token)
	if err != nil {
		return flows.ExternalIdentity{}, err
	}
	return flows.ExternalIdentity{Email: ident.Email, DisplayName: ident.DisplayName}, nil
}
