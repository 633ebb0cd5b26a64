package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type AccountMetrics struct {
	RegisterSuccess      int
	RegisterDuplicate    int
	RegisterFailure      int
	ExternalLoginSuccess int
	ExternalLoginFailure int
	TokenIssued          int
}

type AccountEvents struct {
	RegisterSuccess string
	RegisterFailure string
	ExternalLogin   string
}

type AccountErrors struct {
	EngineNotReady          error
	EmailAlreadyRegistered  error
	ServiceUnavailable      error
	UnknownProvider         error
	ExternalIdentityInvalid error
}

// ExternalIdentity is the email and display name an upstream provider
// vouched for.
type ExternalIdentity struct {
	Email       string
	DisplayName string
}

type AccountDeps struct {
	DefaultRole string
	Now         func() time.Time

	NewAccountID      func() string
	HashPassword      func(string) (string, error)
	UnusablePassword  func() (string, error)
	CreateAccount     func(context.Context, Account, func(context.Context, Account) error) error
	GetAccount        func(context.Context, string) (Account, error)
	IsAccountNotFound func(error) bool
	MapStoreError     func(error) error

	ResolveIdentity func(context.Context, string, string) (ExternalIdentity, error)
	NormalizeEmail  func(string) string
	SendChallenge   func(context.Context, string) error
	IssueToken      func(Account, bool) (string, error)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics AccountMetrics
	Events  AccountEvents
	Errors  AccountErrors
}

// RunRegister creates a USER account with 2FA off and issues its first
// session token inside the same store unit of work, so a token failure
// leaves no account behind. Input has already been validated and the
// password hash is computed here.
func RunRegister(ctx context.Context, fullName, email, password string, deps AccountDeps) (LoginOutcome, error) {
	normalizeAccountDeps(&deps)
	if deps.NewAccountID == nil || deps.HashPassword == nil || deps.CreateAccount == nil || deps.IssueToken == nil {
		return LoginOutcome{}, deps.Errors.EngineNotReady
	}

	hash, err := deps.HashPassword(password)
	if err != nil {
		deps.MetricInc(deps.Metrics.RegisterFailure)
		deps.EmitAudit(ctx, deps.Events.RegisterFailure, false, "", email, err, func() map[string]string {
			return map[string]string{"reason": "hash_failed"}
		})
		return LoginOutcome{}, fmt.Errorf("hash password: %w", err)
	}

	account := Account{
		ID:           deps.NewAccountID(),
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		Role:         deps.DefaultRole,
		CreatedAt:    deps.Now().UTC(),
	}

	var token string
	err = deps.CreateAccount(ctx, account, func(_ context.Context, created Account) error {
		t, issueErr := deps.IssueToken(created, false)
		if issueErr != nil {
			return issueErr
		}
		token = t
		return nil
	})
	if err != nil {
		if errors.Is(err, deps.Errors.EmailAlreadyRegistered) {
			deps.MetricInc(deps.Metrics.RegisterDuplicate)
			deps.EmitAudit(ctx, deps.Events.RegisterFailure, false, "", email, deps.Errors.EmailAlreadyRegistered, nil)
			return LoginOutcome{}, deps.Errors.EmailAlreadyRegistered
		}
		mapped := errors.Join(deps.Errors.ServiceUnavailable, err)
		deps.MetricInc(deps.Metrics.RegisterFailure)
		deps.EmitAudit(ctx, deps.Events.RegisterFailure, false, account.ID, email, mapped, nil)
		return LoginOutcome{}, mapped
	}

	deps.MetricInc(deps.Metrics.TokenIssued)
	deps.MetricInc(deps.Metrics.RegisterSuccess)
	deps.EmitAudit(ctx, deps.Events.RegisterSuccess, true, account.ID, account.Email, nil, nil)
	return LoginOutcome{Account: account, Token: token}, nil
}

// RunExternalLogin resolves an upstream token through the named provider,
// finds or creates the matching account, and returns either a full token or,
// for 2FA accounts, a pending token after mailing a code.
func RunExternalLogin(ctx context.Context, provider, upstreamToken string, deps AccountDeps) (LoginOutcome, error) {
	normalizeAccountDeps(&deps)
	if deps.ResolveIdentity == nil || deps.GetAccount == nil || deps.CreateAccount == nil ||
		deps.UnusablePassword == nil || deps.NewAccountID == nil || deps.IssueToken == nil || deps.SendChallenge == nil {
		return LoginOutcome{}, deps.Errors.EngineNotReady
	}

	fail := func(email string, err error) (LoginOutcome, error) {
		deps.MetricInc(deps.Metrics.ExternalLoginFailure)
		deps.EmitAudit(ctx, deps.Events.ExternalLogin, false, "", email, err, func() map[string]string {
			return map[string]string{"provider": provider}
		})
		return LoginOutcome{}, err
	}

	if strings.TrimSpace(upstreamToken) == "" {
		return fail("", deps.Errors.ExternalIdentityInvalid)
	}

	ident, err := deps.ResolveIdentity(ctx, provider, upstreamToken)
	if err != nil {
		if errors.Is(err, deps.Errors.UnknownProvider) || errors.Is(err, deps.Errors.ExternalIdentityInvalid) {
			return fail("", err)
		}
		return fail("", errors.Join(deps.Errors.ServiceUnavailable, err))
	}
	email := deps.NormalizeEmail(ident.Email)
	if email == "" {
		return fail("", deps.Errors.ExternalIdentityInvalid)
	}

	account, err := deps.GetAccount(ctx, email)
	switch {
	case err == nil:
	case deps.IsAccountNotFound(err):
		account, err = createExternalAccount(ctx, email, ident.DisplayName, deps)
		if err != nil {
			return fail(email, err)
		}
	default:
		return fail(email, deps.MapStoreError(err))
	}

	if account.TwoFactorEnabled {
		if err := deps.SendChallenge(ctx, account.Email); err != nil {
			return fail(email, err)
		}
		token, err := deps.IssueToken(account, true)
		if err != nil {
			return fail(email, fmt.Errorf("issue pending token: %w", err))
		}
		deps.EmitAudit(ctx, deps.Events.ExternalLogin, true, account.ID, account.Email, nil, func() map[string]string {
			return map[string]string{"provider": provider, "two_factor": "pending"}
		})
		return LoginOutcome{Account: account, Token: token, TwoFactorPending: true}, nil
	}

	token, err := deps.IssueToken(account, false)
	if err != nil {
		return fail(email, fmt.Errorf("issue session token: %w", err))
	}
	deps.MetricInc(deps.Metrics.TokenIssued)
	deps.MetricInc(deps.Metrics.ExternalLoginSuccess)
	deps.EmitAudit(ctx, deps.Events.ExternalLogin, true, account.ID, account.Email, nil, func() map[string]string {
		return map[string]string{"provider": provider}
	})
	return LoginOutcome{Account: account, Token: token}, nil
}

func createExternalAccount(ctx context.Context, email, displayName string, deps AccountDeps) (Account, error) {
	hash, err := deps.UnusablePassword()
	if err != nil {
		return Account{}, errors.Join(deps.Errors.ServiceUnavailable, err)
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	account := Account{
		ID:           deps.NewAccountID(),
		Email:        email,
		FullName:     name,
		PasswordHash: hash,
		Role:         deps.DefaultRole,
		CreatedAt:    deps.Now().UTC(),
	}
	err = deps.CreateAccount(ctx, account, nil)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, deps.Errors.EmailAlreadyRegistered) {
		return Account{}, errors.Join(deps.Errors.ServiceUnavailable, err)
	}

	// Lost a race with a concurrent first login for the same email.
	existing, getErr := deps.GetAccount(ctx, email)
	if getErr != nil {
		return Account{}, deps.MapStoreError(getErr)
	}
	return existing, nil
}

func normalizeAccountDeps(deps *AccountDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.DefaultRole == "" {
		deps.DefaultRole = "USER"
	}
	if deps.NormalizeEmail == nil {
		deps.NormalizeEmail = func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	}
	if deps.IsAccountNotFound == nil {
		deps.IsAccountNotFound = func(error) bool { return false }
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
	if deps.Errors.EmailAlreadyRegistered == nil {
		deps.Errors.EmailAlreadyRegistered = errors.New("email already registered")
	}
	if deps.Errors.ServiceUnavailable == nil {
		deps.Errors.ServiceUnavailable = errors.New("service unavailable")
	}
	if deps.Errors.UnknownProvider == nil {
		deps.Errors.UnknownProvider = errors.New("unknown identity provider")
	}
	if deps.Errors.ExternalIdentityInvalid == nil {
		deps.Errors.ExternalIdentityInvalid = errors.New("external identity rejected")
	}
}
