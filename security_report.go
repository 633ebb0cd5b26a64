package authgate

import (
	"sort"
	"time"

	"github.com/MrEthical07/authgate/internal/security"
)

// SecurityReport is a read-only snapshot of the engine's security posture.
type SecurityReport struct {
	TokenTTL           time.Duration
	Issuer             string
	Argon2             PasswordConfigReport
	TwoFactorCodeTTL   time.Duration
	ResetTokenTTL      time.Duration
	EnumerationDelay   bool
	RateLimitingActive bool
	AuditEnabled       bool
	MetricsEnabled     bool
	IdentityProviders  []string
	// Weaknesses is empty for a hardened configuration.
	Weaknesses []string
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	providers := e.Providers()
	sort.Strings(providers)

	cfg := e.config
	return SecurityReport{
		TokenTTL: cfg.JWT.TTL,
		Issuer:   cfg.JWT.Issuer,
		Argon2: PasswordConfigReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		TwoFactorCodeTTL:   TwoFactorCodeTTL,
		ResetTokenTTL:      PasswordResetTokenTTL,
		EnumerationDelay:   cfg.PasswordReset.EnumerationDelay,
		RateLimitingActive: e.twoFactorLimiter != nil && e.resetLimiter != nil,
		AuditEnabled:       e.audit != nil,
		MetricsEnabled:     cfg.Metrics.Enabled,
		IdentityProviders:  providers,
		Weaknesses: security.Weaknesses(security.Input{
			TokenTTL:         cfg.JWT.TTL,
			ArgonMemoryKiB:   cfg.Password.Memory,
			ArgonTime:        cfg.Password.Time,
			RateLimiting:     e.twoFactorLimiter != nil && e.resetLimiter != nil,
			EnumerationDelay: cfg.PasswordReset.EnumerationDelay,
			AuditEnabled:     e.audit != nil,
		}),
	}
}
