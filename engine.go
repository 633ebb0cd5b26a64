package authgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/internal/limiters"
	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/internal/stores"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/password"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrEthical07/authgate"

// Engine validates credentials and issues session tokens. It is immutable
// after Build and safe for concurrent use.
type Engine struct {
	config       Config
	jwtManager   *jwt.Manager
	passwordHash *password.Argon2
	challenges   *stores.ChallengeStore

	twoFactorLimiter *limiters.TwoFactorLimiter
	resetLimiter     *limiters.PasswordResetLimiter

	accounts    AccountStore
	resetTokens ResetTokenStore
	captcha     CaptchaVerifier
	mailer      Mailer
	providers   map[string]IdentityResolver

	audit   *auditDispatcher
	metrics *Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	// dummyHash is verified against for unknown emails so the login path
	// costs the same whether or not the account exists.
	dummyHash string
}

// Close flushes pending audit events. It does not close the Redis client or
// any store passed to the Builder.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// VerifyToken checks a session token's signature, expiry and issuer.
func (e *Engine) VerifyToken(token string) (SessionClaims, error) {
	if e == nil || e.jwtManager == nil {
		return SessionClaims{}, ErrEngineNotReady
	}
	claims, err := e.jwtManager.Verify(token)
	if err != nil {
		e.metricInc(MetricTokenRejected)
		return SessionClaims{}, err
	}
	return claims, nil
}

// SubjectOf returns the token subject without checking the signature.
func (e *Engine) SubjectOf(token string) (string, error) {
	if e == nil || e.jwtManager == nil {
		return "", ErrEngineNotReady
	}
	return e.jwtManager.SubjectOf(token)
}

// Details is the account view of verified claims.
func (e *Engine) Details(claims SessionClaims) AccountDetails {
	return AccountDetails{
		UserID:           claims.UserID,
		FullName:         claims.FullName,
		Email:            claims.Email,
		Role:             Role(claims.Role),
		TwoFactorEnabled: claims.TwoFactorEnabled,
	}
}

// Providers lists the registered external identity providers.
func (e *Engine) Providers() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.providers))
	for name := range e.providers {
		out = append(out, name)
	}
	return out
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricIncFn(id int) {
	e.metricInc(MetricID(id))
}

func (e *Engine) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "authgate."+op)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *Engine) issueToken(account flows.Account, pending bool) (string, error) {
	token, err := e.jwtManager.Issue(SessionClaims{
		UserID:           account.ID,
		FullName:         account.FullName,
		Email:            account.Email,
		Role:             account.Role,
		TwoFactorEnabled: account.TwoFactorEnabled,
		TwoFactorPending: pending,
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (e *Engine) getFlowAccount(ctx context.Context, email string) (flows.Account, error) {
	account, err := e.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return flows.Account{}, err
	}
	return toFlowAccount(account), nil
}

// loginResult decodes the freshly issued token so callers see exactly the
// claims that went on the wire.
func (e *Engine) loginResult(outcome flows.LoginOutcome, message string) (LoginResult, error) {
	result := LoginResult{
		Token:            outcome.Token,
		TwoFactorPending: outcome.TwoFactorPending,
		Message:          message,
	}
	if outcome.Token == "" {
		return result, nil
	}
	claims, err := e.jwtManager.Verify(outcome.Token)
	if err != nil {
		return LoginResult{}, fmt.Errorf("decode issued token: %w", err)
	}
	result.Claims = claims
	return result, nil
}

func (e *Engine) sendMail(ctx context.Context, msg Message) error {
	if err := e.mailer.Send(ctx, msg); err != nil {
		e.metricInc(MetricMailFailure)
		e.logger.WarnContext(ctx, "mail delivery failed",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

func toFlowAccount(a Account) flows.Account {
	return flows.Account{
		ID:               a.ID,
		Email:            a.Email,
		FullName:         a.FullName,
		PasswordHash:     a.PasswordHash,
		Role:             string(a.Role),
		TwoFactorEnabled: a.TwoFactorEnabled,
		CreatedAt:        a.CreatedAt,
	}
}

func fromFlowAccount(a flows.Account) Account {
	return Account{
		ID:               a.ID,
		Email:            a.Email,
		FullName:         a.FullName,
		PasswordHash:     a.PasswordHash,
		Role:             Role(a.Role),
		TwoFactorEnabled: a.TwoFactorEnabled,
		CreatedAt:        a.CreatedAt,
	}
}

// mapRateLimitError turns limiter failures into engine errors. A Redis
// outage is ErrServiceUnavailable, like a challenge cache outage.
func mapRateLimitError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrTooManyAttempts
	case errors.Is(err, rate.ErrRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	default:
		return err
	}
}

func isAccountNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

// mapAccountStoreError keeps domain sentinels and context errors and folds
// everything else into ErrServiceUnavailable.
func mapAccountStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrEmailAlreadyRegistered),
		errors.Is(err, ErrResetTokenNotFound),
		errors.Is(err, ErrServiceUnavailable):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
}
