package security

import "time"

const (
	minArgonMemoryKiB = 64 * 1024
	maxTokenTTL       = 24 * time.Hour
)

type Input struct {
	TokenTTL         time.Duration
	ArgonMemoryKiB   uint32
	ArgonTime        uint32
	RateLimiting     bool
	EnumerationDelay bool
	AuditEnabled     bool
}

// Weaknesses lists the findings for in in a fixed order. A hardened
// configuration yields nil.
func Weaknesses(in Input) []string {
	var out []string
	if in.ArgonMemoryKiB < minArgonMemoryKiB {
		out = append(out, "argon2 memory below 64 MiB")
	}
	if in.ArgonTime < 2 {
		out = append(out, "argon2 time cost below 2")
	}
	if in.TokenTTL > maxTokenTTL {
		out = append(out, "session tokens outlive 24h")
	}
	if !in.RateLimiting {
		out = append(out, "2FA and password reset rate limiting disabled")
	}
	if !in.EnumerationDelay {
		out = append(out, "forgot-password enumeration delay disabled")
	}
	if !in.AuditEnabled {
		out = append(out, "audit events disabled")
	}
	return out
}
