package authgate

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/jwt"
)

// Role is the account authorization tier.
type Role string

const (
	RoleUser    Role = "USER"
	RoleCompany Role = "COMPANY"
	RoleAdmin   Role = "ADMIN"
)

// Valid reports whether r is one of the known tiers.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleCompany, RoleAdmin:
		return true
	default:
		return false
	}
}

// Account is the identity record owned by the credential store. The engine
// reads it and updates only PasswordHash and TwoFactorEnabled.
type Account struct {
	ID               string
	Email            string
	FullName         string
	PasswordHash     string
	Role             Role
	TwoFactorEnabled bool
	CreatedAt        time.Time
}

// SessionClaims is the payload embedded in session tokens.
type SessionClaims = jwt.SessionClaims

// AccountStore is the credential store accessor.
//
// Implementations must wrap ErrAccountNotFound when an email does not resolve
// and ErrEmailAlreadyRegistered on a uniqueness violation. Email lookups are
// case-insensitive.
type AccountStore interface {
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	// CreateAccount persists account and then runs finalize inside the same
	// unit of work. A finalize error aborts the write. finalize may be nil.
	CreateAccount(ctx context.Context, account Account, finalize func(context.Context, Account) error) error
	SetTwoFactorEnabled(ctx context.Context, email string, enabled bool) error
}

// ResetToken is a durable password-reset record. Only the hash of the token
// handed to the user is stored.
type ResetToken struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// ResetTokenStore persists reset tokens.
//
// ReplaceResetToken deletes every token of token.AccountID and inserts token
// atomically. ConsumeResetToken loads the record for tokenHash under a row
// lock, calls apply, and, when apply succeeds, stores the returned password
// hash on the owning account and marks the token used in the same
// transaction. A missing record yields ErrResetTokenNotFound.
type ResetTokenStore interface {
	ReplaceResetToken(ctx context.Context, token ResetToken) error
	ConsumeResetToken(ctx context.Context, tokenHash string, apply func(ResetToken) (string, error)) error
}

// CaptchaVerifier checks a client CAPTCHA response. Implementations return
// an error wrapping ErrCaptchaInvalid for unparseable upstream answers and
// any other error for transport failures and timeouts.
type CaptchaVerifier interface {
	Verify(ctx context.Context, response string) (bool, error)
}

// Message is an outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// ExternalIdentity is what an upstream identity provider vouches for.
type ExternalIdentity struct {
	Email       string
	DisplayName string
}

// IdentityResolver bridges one upstream identity provider.
type IdentityResolver interface {
	ResolveExternalIdentity(ctx context.Context, token string) (ExternalIdentity, error)
}

type LoginRequest struct {
	Email        string
	Password     string
	CaptchaToken string
}

type RegisterRequest struct {
	FullName        string
	Email           string
	Password        string
	ConfirmPassword string
}

type ResetPasswordRequest struct {
	Code           string
	NewPassword    string
	RepeatPassword string
}

// LoginResult is the outcome of a login step. When TwoFactorPending is set a
// code has been mailed and Token is either empty (password login) or a
// pending token usable only on the 2FA endpoint (external login).
type LoginResult struct {
	Token            string
	TwoFactorPending bool
	Message          string
	Claims           SessionClaims
}

// AccountDetails is the public view of an authenticated session.
type AccountDetails struct {
	UserID           string `json:"userId"`
	FullName         string `json:"fullname"`
	Email            string `json:"email"`
	Role             Role   `json:"role"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
