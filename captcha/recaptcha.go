// Package captcha verifies reCAPTCHA responses against Google's siteverify
// endpoint.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authgate"
)

const (
	// DefaultVerifyURL is Google's verification endpoint.
	DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	// DefaultTimeout bounds one verification round trip.
	DefaultTimeout = 5 * time.Second

	maxResponseBytes = 64 << 10
)

// Config configures a Recaptcha verifier.
type Config struct {
	Secret    string
	VerifyURL string
	Timeout   time.Duration
	// Client overrides the HTTP client. Its Timeout is left untouched.
	Client *http.Client
}

// Recaptcha implements authgate.CaptchaVerifier.
type Recaptcha struct {
	secret  string
	url     string
	timeout time.Duration
	client  *http.Client
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// New returns a verifier. The secret is required.
func New(cfg Config) (*Recaptcha, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("captcha secret required")
	}
	r := &Recaptcha{
		secret:  cfg.Secret,
		url:     cfg.VerifyURL,
		timeout: cfg.Timeout,
		client:  cfg.Client,
	}
	if r.url == "" {
		r.url = DefaultVerifyURL
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: r.timeout}
	}
	return r, nil
}

// Verify posts response to siteverify. A body that is empty or not JSON
// wraps authgate.ErrCaptchaInvalid; transport failures, timeouts and non-2xx
// answers are returned as plain errors.
func (r *Recaptcha) Verify(ctx context.Context, response string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("secret", r.secret)
	form.Set("response", response)
	if ip := authgate.ClientIPFromContext(ctx); ip != "" {
		form.Set("remoteip", ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("captcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("captcha siteverify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("captcha siteverify: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, fmt.Errorf("captcha siteverify: read body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return false, fmt.Errorf("%w: empty siteverify response", authgate.ErrCaptchaInvalid)
	}

	var out siteverifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return false, fmt.Errorf("%w: parse siteverify response: %v", authgate.ErrCaptchaInvalid, err)
	}
	return out.Success, nil
}

var _ authgate.CaptchaVerifier = (*Recaptcha)(nil)
