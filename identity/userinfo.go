// Package identity resolves upstream access tokens to identities by calling
// an OpenID Connect UserInfo endpoint.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authgate"
)

const (
	defaultTimeout   = 5 * time.Second
	maxResponseBytes = 1 << 20
)

// GoogleUserInfoURL is Google's OIDC userinfo endpoint.
const GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// UserInfoConfig configures a UserInfo resolver.
type UserInfoConfig struct {
	Endpoint string
	Timeout  time.Duration
	// AllowUnverifiedEmail accepts identities whose email_verified claim is
	// false. A missing claim is always accepted.
	AllowUnverifiedEmail bool
	Client               *http.Client
}

// UserInfo implements authgate.IdentityResolver.
type UserInfo struct {
	endpoint        string
	timeout         time.Duration
	allowUnverified bool
	client          *http.Client
}

type userInfoClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

// NewUserInfo validates cfg.
func NewUserInfo(cfg UserInfoConfig) (*UserInfo, error) {
	if !strings.HasPrefix(cfg.Endpoint, "https://") && !strings.HasPrefix(cfg.Endpoint, "http://") {
		return nil, fmt.Errorf("userinfo endpoint %q must be an http(s) URL", cfg.Endpoint)
	}
	u := &UserInfo{
		endpoint:        cfg.Endpoint,
		timeout:         cfg.Timeout,
		allowUnverified: cfg.AllowUnverifiedEmail,
		client:          cfg.Client,
	}
	if u.timeout <= 0 {
		u.timeout = defaultTimeout
	}
	if u.client == nil {
		u.client = &http.Client{Timeout: u.timeout}
	}
	return u, nil
}

// ResolveExternalIdentity exchanges token for the provider's user claims.
// 401 and 403 answers, unverified emails and missing emails yield
// authgate.ErrExternalIdentityInvalid. Anything else that goes wrong is a
// plain error.
func (u *UserInfo) ResolveExternalIdentity(ctx context.Context, token string) (authgate.ExternalIdentity, error) {
	if strings.TrimSpace(token) == "" {
		return authgate.ExternalIdentity{}, fmt.Errorf("%w: empty access token", authgate.ErrExternalIdentityInvalid)
	}
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint, nil)
	if err != nil {
		return authgate.ExternalIdentity{}, fmt.Errorf("userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return authgate.ExternalIdentity{}, fmt.Errorf("userinfo: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return authgate.ExternalIdentity{}, fmt.Errorf("%w: provider answered %d", authgate.ErrExternalIdentityInvalid, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return authgate.ExternalIdentity{}, fmt.Errorf("userinfo: unexpected status %d", resp.StatusCode)
	}

	var claims userInfoClaims
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&claims); err != nil {
		return authgate.ExternalIdentity{}, fmt.Errorf("userinfo: decode: %w", err)
	}
	return u.identityFrom(claims)
}

func (u *UserInfo) identityFrom(c userInfoClaims) (authgate.ExternalIdentity, error) {
	email := strings.TrimSpace(c.Email)
	if email == "" {
		return authgate.ExternalIdentity{}, fmt.Errorf("%w: no email claim", authgate.ErrExternalIdentityInvalid)
	}
	if c.EmailVerified != nil && !*c.EmailVerified && !u.allowUnverified {
		return authgate.ExternalIdentity{}, fmt.Errorf("%w: email not verified", authgate.ErrExternalIdentityInvalid)
	}

	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = strings.TrimSpace(c.GivenName + " " + c.FamilyName)
	}
	return authgate.ExternalIdentity{Email: email, DisplayName: name}, nil
}

var _ authgate.IdentityResolver = (*UserInfo)(nil)
