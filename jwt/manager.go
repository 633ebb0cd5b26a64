package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the smallest HS256 secret NewManager accepts.
const MinSecretLength = 32

var (
	// ErrTokenExpired is returned by Verify when the token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned by Verify and SubjectOf for malformed,
	// tampered, or otherwise unacceptable tokens.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrSecretTooShort is returned by NewManager when the signing secret is
	// shorter than MinSecretLength bytes.
	ErrSecretTooShort = errors.New("jwt secret must be at least 32 bytes")
)

// Config defines a public type used by authgate APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	Leeway time.Duration
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// SessionClaims is the identity payload carried by a session token.
type SessionClaims struct {
	UserID           string
	FullName         string
	Email            string
	Role             string
	TwoFactorEnabled bool
	TwoFactorPending bool
	IssuedAt         time.Time
	ExpiresAt        time.Time
}

type wireClaims struct {
	UserID           string `json:"userId"`
	FullName         string `json:"fullname,omitempty"`
	Email            string `json:"email"`
	Role             string `json:"role"`
	TwoFactorEnabled bool   `json:"twoFaEnabled"`
	TwoFactorPending bool   `json:"twoFaPending"`
	jwt.RegisteredClaims
}

// Manager is the token codec. It is safe for concurrent use.
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewManager validates cfg and returns a Manager.
//
// NewManager fails with ErrSecretTooShort when the secret cannot carry HS256
// key strength, so a misconfigured process stops at startup.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Manager{
		secret: secret,
		ttl:    cfg.TTL,
		issuer: strings.TrimSpace(cfg.Issuer),
		leeway: cfg.Leeway,
		now:    now,
	}, nil
}

// TTL reports the configured token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs claims. IssuedAt and ExpiresAt on the input are ignored and
// replaced with now and now+TTL.
func (m *Manager) Issue(claims SessionClaims) (string, error) {
	if claims.Email == "" {
		return "", errors.New("claims email is required")
	}

	issuedAt := m.now().Truncate(time.Second)
	wc := wireClaims{
		UserID:           claims.UserID,
		FullName:         claims.FullName,
		Email:            claims.Email,
		Role:             claims.Role,
		TwoFactorEnabled: claims.TwoFactorEnabled,
		TwoFactorPending: claims.TwoFactorPending,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Email,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(m.ttl)),
			Issuer:    m.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, wc)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer, and expiry and returns the
// embedded claims. It does no I/O.
func (m *Manager) Verify(tokenStr string) (SessionClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.leeway > 0 {
		options = append(options, jwt.WithLeeway(m.leeway))
	}
	if m.issuer != "" {
		options = append(options, jwt.WithIssuer(m.issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &wireClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrTokenExpired
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	wc, ok := token.Claims.(*wireClaims)
	if !ok || !token.Valid {
		return SessionClaims{}, ErrTokenInvalid
	}
	if wc.Email == "" || wc.Subject != wc.Email {
		return SessionClaims{}, fmt.Errorf("%w: subject mismatch", ErrTokenInvalid)
	}

	claims := SessionClaims{
		UserID:           wc.UserID,
		FullName:         wc.FullName,
		Email:            wc.Email,
		Role:             wc.Role,
		TwoFactorEnabled: wc.TwoFactorEnabled,
		TwoFactorPending: wc.TwoFactorPending,
	}
	if wc.IssuedAt != nil {
		claims.IssuedAt = wc.IssuedAt.Time
	}
	if wc.ExpiresAt != nil {
		claims.ExpiresAt = wc.ExpiresAt.Time
	}
	return claims, nil
}

// SubjectOf decodes the subject claim without verifying the signature. The
// result must not be trusted for authorization; callers use it only to
// discard structurally broken tokens before Verify.
func (m *Manager) SubjectOf(tokenStr string) (string, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &rc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if rc.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return rc.Subject, nil
}
