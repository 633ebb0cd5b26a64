package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/identity"
	"github.com/MrEthical07/authgate/internal/logging"
	"github.com/MrEthical07/authgate/jwt"
)

// envPrefix selects environment overrides. A double underscore separates
// key levels: AUTHGATE_JWT__SECRET sets jwt.secret.
const envPrefix = "AUTHGATE_"

// flagKeys maps command-line flags onto config keys. Flags not listed here
// are not config values.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"database-url": "database.url",
	"http-addr":    "http.addr",
	"redis-addr":   "redis.addr",
}

type serviceConfig struct {
	HTTP      httpConfig                `koanf:"http"`
	Log       logConfig                 `koanf:"log"`
	Database  databaseConfig            `koanf:"database"`
	Redis     redisConfig               `koanf:"redis"`
	JWT       jwtConfig                 `koanf:"jwt"`
	Captcha   captchaConfig             `koanf:"captcha"`
	Mail      mailConfig                `koanf:"mail"`
	Identity  map[string]providerConfig `koanf:"identity"`
	Metrics   metricsConfig             `koanf:"metrics"`
	Audit     auditConfig               `koanf:"audit"`
	Reset     resetConfig               `koanf:"reset"`
	RateLimit rateLimitConfig           `koanf:"rate_limit"`
}

type httpConfig struct {
	Addr            string        `koanf:"addr"`
	TrustProxy      bool          `koanf:"trust_proxy"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type logConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type databaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
}

type redisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type jwtConfig struct {
	Secret string        `koanf:"secret"`
	TTL    time.Duration `koanf:"ttl"`
	Issuer string        `koanf:"issuer"`
}

type captchaConfig struct {
	Secret    string        `koanf:"secret"`
	VerifyURL string        `koanf:"verify_url"`
	Timeout   time.Duration `koanf:"timeout"`
}

type mailConfig struct {
	// Driver is "smtp" or "log".
	Driver     string        `koanf:"driver"`
	Addr       string        `koanf:"addr"`
	Username   string        `koanf:"username"`
	Password   string        `koanf:"password"`
	From       string        `koanf:"from"`
	Timeout    time.Duration `koanf:"timeout"`
	RequireTLS bool          `koanf:"require_tls"`
}

type providerConfig struct {
	Endpoint             string `koanf:"endpoint"`
	AllowUnverifiedEmail bool   `koanf:"allow_unverified_email"`
}

type metricsConfig struct {
	Enabled bool `koanf:"enabled"`
	Latency bool `koanf:"latency"`
}

type auditConfig struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
}

type resetConfig struct {
	// SweepInterval is how often expired reset tokens are deleted. Zero
	// disables the sweeper.
	SweepInterval time.Duration `koanf:"sweep_interval"`
	// Retention keeps expired tokens this long past their expiry so a late
	// redemption still reads as expired rather than unknown.
	Retention time.Duration `koanf:"retention"`
}

type rateLimitConfig struct {
	Enabled              bool `koanf:"enabled"`
	TwoFactorMaxFailures int  `koanf:"two_factor_max_failures"`
	ResetMaxRequests     int  `koanf:"reset_max_requests"`
	IPThrottle           bool `koanf:"ip_throttle"`
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		HTTP: httpConfig{
			Addr:            ":8080",
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: logConfig{
			Level:  "info",
			Format: "json",
		},
		Database: databaseConfig{
			MaxConns: 10,
		},
		Redis: redisConfig{
			Addr: "localhost:6379",
		},
		JWT: jwtConfig{
			TTL:    24 * time.Hour,
			Issuer: "authgate",
		},
		Captcha: captchaConfig{
			Timeout: 5 * time.Second,
		},
		Mail: mailConfig{
			Driver:  "log",
			Timeout: 10 * time.Second,
		},
		Metrics: metricsConfig{
			Enabled: true,
			Latency: true,
		},
		Audit: auditConfig{
			BufferSize: 1024,
		},
		Reset: resetConfig{
			SweepInterval: time.Hour,
			Retention:     24 * time.Hour,
		},
		RateLimit: rateLimitConfig{
			Enabled:              true,
			TwoFactorMaxFailures: 5,
			ResetMaxRequests:     5,
			IPThrottle:           true,
		},
	}
}

// loadConfig layers defaults, the YAML file named by --config, AUTHGATE_*
// environment variables and explicitly set flags, later sources winning.
func loadConfig(fs *pflag.FlagSet) (serviceConfig, error) {
	k := koanf.New(".")

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return serviceConfig{}, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return serviceConfig{}, oops.Code("CONFIG_INVALID").With("source", "env").Wrap(err)
	}

	flags := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	})
	if err := k.Load(flags, nil); err != nil {
		return serviceConfig{}, oops.Code("CONFIG_INVALID").With("source", "flags").Wrap(err)
	}

	cfg := defaultServiceConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return serviceConfig{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

// Validate checks everything serve needs.
func (c *serviceConfig) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must be > 0"))
	}
	if err := c.validateLog(); err != nil {
		errs = append(errs, err)
	}
	if err := c.validateDatabase(); err != nil {
		errs = append(errs, err)
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if len(c.JWT.Secret) < jwt.MinSecretLength {
		errs = append(errs, fmt.Errorf("jwt.secret must be at least %d bytes", jwt.MinSecretLength))
	}
	if strings.TrimSpace(c.Captcha.Secret) == "" {
		errs = append(errs, errors.New("captcha.secret is required"))
	}
	switch c.Mail.Driver {
	case "log":
	case "smtp":
		if c.Mail.Addr == "" || c.Mail.From == "" {
			errs = append(errs, errors.New("mail.addr and mail.from are required for the smtp driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("mail.driver must be 'smtp' or 'log', got %q", c.Mail.Driver))
	}
	for name, p := range c.Identity {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("identity provider name must not be empty"))
		}
		if p.endpoint(name) == "" {
			errs = append(errs, fmt.Errorf("identity.%s.endpoint is required", name))
		}
	}
	if c.Reset.SweepInterval < 0 {
		errs = append(errs, errors.New("reset.sweep_interval must be >= 0"))
	}
	if c.Reset.Retention < 0 {
		errs = append(errs, errors.New("reset.retention must be >= 0"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.TwoFactorMaxFailures <= 0 || c.RateLimit.ResetMaxRequests <= 0) {
		errs = append(errs, errors.New("rate_limit budgets must be > 0 when enabled"))
	}
	return errors.Join(errs...)
}

func (c *serviceConfig) validateLog() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func (c *serviceConfig) validateDatabase() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	return nil
}

// engineConfig maps the service settings onto the engine defaults.
func (c *serviceConfig) engineConfig() authgate.Config {
	cfg := authgate.DefaultConfig()
	cfg.JWT.Secret = []byte(c.JWT.Secret)
	cfg.JWT.TTL = c.JWT.TTL
	cfg.JWT.Issuer = c.JWT.Issuer
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Latency
	cfg.Audit.Enabled = c.Audit.Enabled
	cfg.Audit.BufferSize = c.Audit.BufferSize
	cfg.RateLimit.Enabled = c.RateLimit.Enabled
	cfg.RateLimit.TwoFactorMaxFailures = c.RateLimit.TwoFactorMaxFailures
	cfg.RateLimit.ResetMaxRequests = c.RateLimit.ResetMaxRequests
	cfg.RateLimit.ResetIPThrottle = c.RateLimit.IPThrottle
	return cfg
}

// endpoint falls back to Google's userinfo URL for a provider named google.
func (p providerConfig) endpoint(name string) string {
	if p.Endpoint != "" {
		return p.Endpoint
	}
	if strings.EqualFold(name, "google") {
		return identity.GoogleUserInfoURL
	}
	return ""
}
