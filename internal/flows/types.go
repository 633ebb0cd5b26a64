package flows

import (
	"context"
	"time"
)

// Account is the flow-side copy of an identity record.
type Account struct {
	ID               string
	Email            string
	FullName         string
	PasswordHash     string
	Role             string
	TwoFactorEnabled bool
	CreatedAt        time.Time
}

// LoginOutcome is what a login-like flow hands back to the engine.
type LoginOutcome struct {
	Account          Account
	Token            string
	TwoFactorPending bool
}

// AuditFunc matches Engine.emitAudit.
type AuditFunc func(ctx context.Context, eventType string, success bool, accountID, email string, err error, metadata func() map[string]string)

func noopAudit(context.Context, string, bool, string, string, error, func() map[string]string) {}

func noopMetric(int) {}

func noopLimit(context.Context, string) error { return nil }
