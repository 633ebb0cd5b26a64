package authgate

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/internal/limiters"
	"github.com/MrEthical07/authgate/internal/stores"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/password"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts    AccountStore
	resetTokens ResetTokenStore
	captcha     CaptchaVerifier
	mailer      Mailer
	providers   map[string]IdentityResolver
	auditSink   AuditSink
	logger      *slog.Logger
	now         func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config:    DefaultConfig(),
		providers: map[string]IdentityResolver{},
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the challenge cache client. The Engine never closes it.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAccountStore(s AccountStore) *Builder {
	b.accounts = s
	return b
}

func (b *Builder) WithResetTokenStore(s ResetTokenStore) *Builder {
	b.resetTokens = s
	return b
}

func (b *Builder) WithCaptchaVerifier(v CaptchaVerifier) *Builder {
	b.captcha = v
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithIdentityProvider registers r under name for LoginExternal. Names are
// case-insensitive.
func (b *Builder) WithIdentityProvider(name string, r IdentityResolver) *Builder {
	b.providers[strings.ToLower(strings.TrimSpace(name))] = r
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for token issuance and reset expiry checks.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and assembles the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if b.resetTokens == nil {
		return nil, errors.New("reset token store required")
	}
	if b.captcha == nil {
		return nil, errors.New("captcha verifier required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}
	for name, r := range b.providers {
		if name == "" || r == nil {
			return nil, fmt.Errorf("identity provider %q is invalid", name)
		}
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		Secret: cfg.JWT.Secret,
		TTL:    cfg.JWT.TTL,
		Issuer: cfg.JWT.Issuer,
		Leeway: cfg.JWT.Leeway,
		Now:    now,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash("authgate-dummy-password")
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	providers := make(map[string]IdentityResolver, len(b.providers))
	for name, r := range b.providers {
		providers[name] = r
	}

	var (
		twoFactorLimiter *limiters.TwoFactorLimiter
		resetLimiter     *limiters.PasswordResetLimiter
	)
	if cfg.RateLimit.Enabled {
		twoFactorLimiter = limiters.NewTwoFactorLimiter(b.redis, limiters.TwoFactorLimiterConfig{
			MaxFailures: cfg.RateLimit.TwoFactorMaxFailures,
			Window:      cfg.RateLimit.TwoFactorWindow,
		})
		resetLimiter = limiters.NewPasswordResetLimiter(b.redis, limiters.PasswordResetConfig{
			EnableIPThrottle: cfg.RateLimit.ResetIPThrottle,
			MaxRequests:      cfg.RateLimit.ResetMaxRequests,
			Window:           cfg.RateLimit.ResetWindow,
		})
	}

	e := &Engine{
		config:           cfg,
		jwtManager:       jwtManager,
		passwordHash:     hasher,
		challenges:       stores.NewChallengeStore(b.redis, cfg.TwoFactor.CacheKeyPrefix),
		twoFactorLimiter: twoFactorLimiter,
		resetLimiter:     resetLimiter,
		accounts:         b.accounts,
		resetTokens:      b.resetTokens,
		captcha:          b.captcha,
		mailer:           b.mailer,
		providers:        providers,
		audit:            newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:          NewMetrics(cfg.Metrics),
		logger:           logger.With(slog.String("component", "authgate")),
		tracer:           otel.Tracer(tracerName),
		now:              now,
		dummyHash:        dummyHash,
	}

	b.built = true
	return e, nil
}
