package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/captcha"
	"github.com/MrEthical07/authgate/httpapi"
	"github.com/MrEthical07/authgate/identity"
	"github.com/MrEthical07/authgate/internal/logging"
	"github.com/MrEthical07/authgate/mail"
	metricsprom "github.com/MrEthical07/authgate/metrics/prometheus"
	"github.com/MrEthical07/authgate/store/postgres"
)

const serviceName = "authgate"

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	defaults := defaultServiceConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Connect to PostgreSQL and Redis, then serve the authentication API until
SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return oops.Code("CONFIG_INVALID").Wrap(err)
			}
			return runServe(cmd.Context(), cfg, cmd)
		},
	}

	cmd.Flags().String("http-addr", defaults.HTTP.Addr, "HTTP listen address")
	cmd.Flags().String("redis-addr", defaults.Redis.Addr, "Redis address for 2FA challenges")

	return cmd
}

func setupLogging(cfg logConfig, cmd *cobra.Command) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logging.Level.Set(level)
	logger := logging.Setup(serviceName, version, cfg.Format, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return logger, nil
}

func runServe(ctx context.Context, cfg serviceConfig, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := setupLogging(cfg.Log, cmd)
	if err != nil {
		return err
	}
	logger.Info("starting authgate", "http_addr", cfg.HTTP.Addr, "mail_driver", cfg.Mail.Driver)

	pool, err := postgres.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := waitFor(ctx, "postgres", startupBackoff(), pool.Ping, logger); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	pingRedis := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	if err := waitFor(ctx, "redis", startupBackoff(), pingRedis, logger); err != nil {
		return err
	}

	engine, err := buildEngine(cfg, rdb, postgres.NewAccountRepository(pool), postgres.NewResetTokenRepository(pool), logger)
	if err != nil {
		return oops.Code("ENGINE_INIT_FAILED").Wrap(err)
	}
	defer engine.Close()
	logPosture(logger, engine.SecurityReport())

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = metricsprom.Handler(engine)
	}
	router := httpapi.NewRouter(engine, httpapi.Options{
		Logger:  logger,
		Metrics: metricsHandler,
		Ready: func(ctx context.Context) error {
			return errors.Join(pool.Ping(ctx), pingRedis(ctx))
		},
		TrustProxy:   cfg.HTTP.TrustProxy,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweepResetTokens(ctx, postgres.NewResetTokenRepository(pool), cfg.Reset.SweepInterval, cfg.Reset.Retention, time.Now, logger)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("http server started", "addr", cfg.HTTP.Addr)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	<-sweepDone
	logger.Info("http server stopped")

	if serveErr != nil {
		return oops.Code("HTTP_SERVE_FAILED").With("addr", cfg.HTTP.Addr).Wrap(serveErr)
	}
	return nil
}

func logPosture(logger *slog.Logger, report authgate.SecurityReport) {
	logger.Info("security posture",
		slog.Duration("token_ttl", report.TokenTTL),
		slog.Bool("rate_limiting", report.RateLimitingActive),
		slog.Bool("audit", report.AuditEnabled),
		slog.Any("identity_providers", report.IdentityProviders),
	)
	for _, w := range report.Weaknesses {
		logger.Warn("security weakness", slog.String("finding", w))
	}
}

func buildEngine(cfg serviceConfig, rdb redis.UniversalClient, accounts authgate.AccountStore, resets authgate.ResetTokenStore, logger *slog.Logger) (*authgate.Engine, error) {
	verifier, err := captcha.New(captcha.Config{
		Secret:    cfg.Captcha.Secret,
		VerifyURL: cfg.Captcha.VerifyURL,
		Timeout:   cfg.Captcha.Timeout,
	})
	if err != nil {
		return nil, err
	}

	mailer, err := newMailer(cfg.Mail, logger)
	if err != nil {
		return nil, err
	}

	b := authgate.New().
		WithConfig(cfg.engineConfig()).
		WithRedis(rdb).
		WithAccountStore(accounts).
		WithResetTokenStore(resets).
		WithCaptchaVerifier(verifier).
		WithMailer(mailer).
		WithAuditSink(authgate.SlogSink{Logger: logger}).
		WithLogger(logger)

	for name, p := range cfg.Identity {
		resolver, err := identity.NewUserInfo(identity.UserInfoConfig{
			Endpoint:             p.endpoint(name),
			AllowUnverifiedEmail: p.AllowUnverifiedEmail,
		})
		if err != nil {
			return nil, oops.With("provider", name).Wrap(err)
		}
		b.WithIdentityProvider(name, resolver)
	}

	return b.Build()
}

func newMailer(cfg mailConfig, logger *slog.Logger) (authgate.Mailer, error) {
	if cfg.Driver == "log" {
		return mail.LogSender{Logger: logger}, nil
	}
	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Addr:       cfg.Addr,
		Username:   cfg.Username,
		Password:   cfg.Password,
		From:       cfg.From,
		Timeout:    cfg.Timeout,
		RequireTLS: cfg.RequireTLS,
	})
	if err != nil {
		return nil, err
	}
	return sender, nil
}

// startupBackoff retries for roughly a minute before giving up.
func startupBackoff() retry.Backoff {
	b := retry.NewExponential(250 * time.Millisecond)
	b = retry.WithCappedDuration(5*time.Second, b)
	return retry.WithMaxRetries(15, b)
}

// waitFor pings a dependency until it answers or b is exhausted.
func waitFor(ctx context.Context, name string, b retry.Backoff, ping func(context.Context) error, logger *slog.Logger) error {
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := ping(ctx); err != nil {
			logger.Warn("dependency not ready", "dependency", name, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DEPENDENCY_UNAVAILABLE").With("dependency", name).With("attempts", attempt).Wrap(err)
	}
	logger.Info("dependency ready", "dependency", name, "attempts", attempt)
	return nil
}

type expiredTokenDeleter interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// sweepResetTokens deletes reset tokens that expired more than retention ago,
// every interval until ctx is done. A non-positive interval returns
// immediately.
func sweepResetTokens(ctx context.Context, store expiredTokenDeleter, interval, retention time.Duration, now func() time.Time, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteExpired(ctx, now().Add(-retention))
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("reset token sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				logger.Info("reset tokens swept", "deleted", n)
			}
		}
	}
}
