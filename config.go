package authgate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/jwt"
)

const (
	// TwoFactorCodeTTL is the lifetime of an emailed 2FA code.
	TwoFactorCodeTTL = 3 * time.Minute
	// PasswordResetTokenTTL is the lifetime of a password-reset token.
	PasswordResetTokenTTL = 15 * time.Minute
)

// Config is built once at startup and copied into the Engine by Build;
// nothing reads it afterwards.
type Config struct {
	JWT           JWTConfig
	Password      PasswordConfig
	TwoFactor     TwoFactorConfig
	PasswordReset PasswordResetConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig defines a public type used by authgate APIs.
//
// JWTConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type JWTConfig struct {
	// Secret is the HS256 key; at least 32 bytes.
	Secret []byte
	TTL    time.Duration
	Issuer string
	Leeway time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig carries Argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
TWO-FACTOR / RESET CONFIG
====================================
*/

type TwoFactorConfig struct {
	// CacheKeyPrefix namespaces challenge keys in Redis.
	CacheKeyPrefix string
}

type PasswordResetConfig struct {
	// EnumerationDelay pads forgot-password requests for unknown emails
	// with a random 20-40ms sleep.
	EnumerationDelay bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig bounds brute force against emailed codes. Counters live
// in the same Redis as the 2FA challenges.
type RateLimitConfig struct {
	Enabled bool
	// TwoFactorMaxFailures wrong codes per email lock validation for the
	// rest of TwoFactorWindow.
	TwoFactorMaxFailures int
	TwoFactorWindow      time.Duration
	// ResetMaxRequests forgot-password requests per email per ResetWindow.
	ResetMaxRequests int
	ResetWindow      time.Duration
	// ResetIPThrottle also limits forgot-password requests per client IP.
	ResetIPThrottle bool
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig defines a public type used by authgate APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by authgate APIs.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. JWT.Secret is left empty and
// must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			TTL:    24 * time.Hour,
			Issuer: "authgate",
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		TwoFactor: TwoFactorConfig{
			CacheKeyPrefix: "tfa",
		},
		PasswordReset: PasswordResetConfig{
			EnumerationDelay: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:              true,
			TwoFactorMaxFailures: 5,
			TwoFactorWindow:      TwoFactorCodeTTL,
			ResetMaxRequests:     5,
			ResetWindow:          PasswordResetTokenTTL,
			ResetIPThrottle:      true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if len(c.JWT.Secret) < jwt.MinSecretLength {
		return fmt.Errorf("JWT Secret: %w", jwt.ErrSecretTooShort)
	}
	if c.JWT.TTL <= 0 {
		return errors.New("JWT TTL must be > 0")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	if c.Password.Memory == 0 || c.Password.Time == 0 || c.Password.Parallelism == 0 {
		return errors.New("Password cost parameters must be > 0")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}

	if strings.ContainsAny(c.TwoFactor.CacheKeyPrefix, " \t\r\n") {
		return errors.New("TwoFactor CacheKeyPrefix must not contain whitespace")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.TwoFactorMaxFailures <= 0 || c.RateLimit.ResetMaxRequests <= 0 {
			return errors.New("RateLimit budgets must be > 0 when rate limiting is enabled")
		}
		if c.RateLimit.TwoFactorWindow <= 0 || c.RateLimit.ResetWindow <= 0 {
			return errors.New("RateLimit windows must be > 0 when rate limiting is enabled")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
