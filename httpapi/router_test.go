package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService verifies real tokens and answers the rest from func fields.
type fakeService struct {
	jwt *jwt.Manager

	login    func(authgate.LoginRequest) (authgate.LoginResult, error)
	register func(authgate.RegisterRequest) (authgate.LoginResult, error)
	complete func(email, code string) (authgate.LoginResult, error)
	toggle   func(email string, enabled bool) error
	forgot   func(email string) error
	reset    func(authgate.ResetPasswordRequest) error
	external func(provider, token string) (authgate.LoginResult, error)
}

func (f *fakeService) SubjectOf(token string) (string, error) { return f.jwt.SubjectOf(token) }

func (f *fakeService) VerifyToken(token string) (authgate.SessionClaims, error) {
	return f.jwt.Verify(token)
}

func (f *fakeService) Login(_ context.Context, req authgate.LoginRequest) (authgate.LoginResult, error) {
	return f.login(req)
}

func (f *fakeService) Register(_ context.Context, req authgate.RegisterRequest) (authgate.LoginResult, error) {
	return f.register(req)
}

func (f *fakeService) CompleteTwoFactor(_ context.Context, email, code string) (authgate.LoginResult, error) {
	return f.complete(email, code)
}

func (f *fakeService) SetTwoFactorEnabled(_ context.Context, email string, enabled bool) error {
	return f.toggle(email, enabled)
}

func (f *fakeService) ForgotPassword(_ context.Context, email string) error { return f.forgot(email) }

func (f *fakeService) ResetPassword(_ context.Context, req authgate.ResetPasswordRequest) error {
	return f.reset(req)
}

func (f *fakeService) LoginExternal(_ context.Context, provider, token string) (authgate.LoginResult, error) {
	return f.external(provider, token)
}

func (f *fakeService) Details(c authgate.SessionClaims) authgate.AccountDetails {
	return authgate.AccountDetails{UserID: c.UserID, Email: c.Email, FullName: c.FullName, Role: authgate.Role(c.Role)}
}

func newFake(t *testing.T) *fakeService {
	t.Helper()
	m, err := jwt.NewManager(jwt.Config{Secret: []byte("0123456789abcdef0123456789abcdef"), TTL: time.Hour})
	require.NoError(t, err)
	return &fakeService{jwt: m}
}

func (f *fakeService) token(t *testing.T, pending bool) string {
	t.Helper()
	tok, err := f.jwt.Issue(jwt.SessionClaims{
		UserID: "u-1", FullName: "Alice Example", Email: "alice@example.com",
		Role: "USER", TwoFactorPending: pending,
	})
	require.NoError(t, err)
	return tok
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func do(t *testing.T, h http.Handler, method, path, body, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestLoginIssuesToken(t *testing.T) {
	f := newFake(t)
	f.login = func(req authgate.LoginRequest) (authgate.LoginResult, error) {
		assert.Equal(t, "captcha", req.CaptchaToken)
		return authgate.LoginResult{Token: "tok", Message: "Login successful"}, nil
	}
	h := NewRouter(f, Options{Logger: quietLogger()})

	rec, body := do(t, h, http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"x","recaptchaToken":"captcha"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer tok", rec.Header().Get("Authorization"))
	assert.Equal(t, "tok", body["token"])
	assert.Equal(t, "Login successful", body["message"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestLoginPendingIsAccepted(t *testing.T) {
	f := newFake(t)
	f.login = func(authgate.LoginRequest) (authgate.LoginResult, error) {
		return authgate.LoginResult{TwoFactorPending: true, Message: "2FA code sent"}, nil
	}
	h := NewRouter(f, Options{Logger: quietLogger()})

	rec, body := do(t, h, http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"x","recaptchaToken":"c"}`, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Header().Get("Authorization"))
	assert.Equal(t, "2FA code sent", body["message"])
	assert.NotContains(t, body, "token")
}

func TestLoginErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{authgate.ErrCaptchaInvalid, http.StatusForbidden, "CAPTCHA_INVALID"},
		{authgate.ErrInvalidCredentials, http.StatusBadRequest, "INVALID_CREDENTIALS"},
		{fmt.Errorf("%w: timeout", authgate.ErrServiceUnavailable), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{errors.New("surprise"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			f := newFake(t)
			f.login = func(authgate.LoginRequest) (authgate.LoginResult, error) { return authgate.LoginResult{}, tc.err }
			h := NewRouter(f, Options{Logger: quietLogger()})

			rec, body := do(t, h, http.MethodPost, "/auth/login", `{}`, "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, body["errorCode"])
			assert.Equal(t, "/auth/login", body["path"])
			assert.EqualValues(t, tc.status, body["statusCode"])
		})
	}
}

func TestMalformedJSON(t *testing.T) {
	f := newFake(t)
	h := NewRouter(f, Options{Logger: quietLogger()})

	for _, body := range []string{`{"email":`, `{} {}`, ``} {
		rec, out := do(t, h, http.MethodPost, "/auth/register", body, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "BAD_REQUEST", out["errorCode"], body)
	}
}

func TestRegister(t *testing.T) {
	f := newFake(t)
	f.register = func(req authgate.RegisterRequest) (authgate.LoginResult, error) {
		if req.Email == "dup@example.com" {
			return authgate.LoginResult{}, authgate.ErrEmailAlreadyRegistered
		}
		assert.Equal(t, "Alice", req.FullName)
		assert.Equal(t, "p", req.ConfirmPassword)
		return authgate.LoginResult{Token: "t1", Message: "Registration successful"}, nil
	}
	h := NewRouter(f, Options{Logger: quietLogger()})

	rec, body := do(t, h, http.MethodPost, "/auth/register", `{"fullname":"Alice","email":"a@example.com","password":"p","confirmPassword":"p"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer t1", rec.Header().Get("Authorization"))
	assert.Equal(t, "Registration successful", body["message"])

	rec, body = do(t, h, http.MethodPost, "/auth/register", `{"email":"dup@example.com"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "EMAIL_ALREADY_REGISTERED", body["errorCode"])
}

func TestValidationDetails(t *testing.T) {
	f := newFake(t)
	f.register = func(authgate.RegisterRequest) (authgate.LoginResult, error) {
		return authgate.LoginResult{}, &authgate.ValidationError{Fields: []authgate.FieldError{{Field: "fullname", Message: "too short"}}}
	}
	h := NewRouter(f, Options{Logger: quietLogger()})

	rec, body := do(t, h, http.MethodPost, "/auth/register", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["errorCode"])
	require.Len(t, body["details"], 1)
}

func TestTwoFactorValidateAcceptsPendingToken(t *testing.T) {
	f := newFake(t)
	f.complete = func(email, code string) (authgate.LoginResult, error) {
		if code != "123456" {
			return authgate.LoginResult{}, authgate.ErrInvalidOrExpiredCode
		}
		return authgate.LoginResult{Token: "full", Message: "2FA verification successful"}, nil
	}
	h := NewRouter(f, Options{Logger: quietLogger()})
	pending := f.token(t, true)

	rec, body := do(t, h, http.MethodPost, "/api/auth/2fa/validate", `{"email":"alice@example.com","code":"123456"}`, pending)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "full", body["token"])

	rec, body = do(t, h, http.MethodPost, "/api/auth/2fa/validate", `{"email":"alice@example.com","code":"000000"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_OR_EXPIRED_CODE", body["errorCode"])
}

func TestToggleTwoFactor(t *testing.T) {
	f := newFake(t)
	var gotEmail string
	var gotEnabled bool
	f.toggle = func(email string, enabled bool) error {
		gotEmail, gotEnabled = email, enabled
		return nil
	}
	h := NewRouter(f, Options{Logger: quietLogger()})

	rec, body := do(t, h, http.MethodPatch, "/api/auth/2fa/toggle?enabled=true", "", f.token(t, false))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2FA settings updated", body["message"])
	assert.Equal(t, "alice@example.com", gotEmail)
	assert.True(t, gotEnabled)

	rec, body = do(t, h, http.MethodPatch, "/api/auth/2fa/toggle?enabled=maybe", "", f.token(t, false))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["errorCode"])

	rec, body = do(t, h, http.MethodPatch, "/api/auth/2fa/toggle?enabled=true", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", body["errorCode"])

	rec, body = do(t, h, http.MethodPatch, "/api/auth/2fa/toggle?enabled=true", "", f.token(t, true))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TWO_FACTOR_REQUIRED", body["errorCode"])
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newFake(t)
	f.forgot = func(string) error { return nil }
	f.reset = func(req authgate.ResetPasswordRequest) error {
		switch req.Code {
		case "used":
			return authgate.ErrResetTokenUsed
		case "missing":
			return authgate.ErrResetTokenNotFound
		}
		return nil
	}
	h := NewRouter(f, Options{Logger: quietLogger()})

	rec, body := do(t, h, http.MethodPost, "/auth/forgot-password", `{"email":"nobody@example.com"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, authgate.MessageForgotPassword, body["message"])

	rec, body = do(t, h, http.MethodPost, "/auth/reset-password", `{"code":"ok","newPassword":"a","repeatPassword":"a"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, authgate.MessagePasswordReset, body["message"])

	rec, _ = do(t, h, http.MethodPost, "/auth/reset-password", `{"code":"used"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, h, http.MethodPost, "/auth/reset-password", `{"code":"missing"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDetailsRequiresToken(t *testing.T) {
	f := newFake(t)
	h := NewRouter(f, Options{Logger: quietLogger()})

	rec, body := do(t, h, http.MethodGet, "/auth/details", "", f.token(t, false))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice@example.com", body["email"])
	assert.Equal(t, "Alice Example", body["fullname"])
	assert.Equal(t, "USER", body["role"])

	rec, _ = do(t, h, http.MethodGet, "/auth/details", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = do(t, h, http.MethodGet, "/auth/details", "", "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_INVALID", body["errorCode"])
}

func TestExternalLogin(t *testing.T) {
	f := newFake(t)
	f.external = func(provider, token string) (authgate.LoginResult, error) {
		switch provider {
		case "google":
			return authgate.LoginResult{Token: "ext", Message: "Login successful"}, nil
		case "pending":
			return authgate.LoginResult{Token: "half", TwoFactorPending: true, Message: "2FA code sent"}, nil
		}
		return authgate.LoginResult{}, authgate.ErrUnknownProvider
	}
	h := NewRouter(f, Options{Logger: quietLogger()})

	rec, body := do(t, h, http.MethodPost, "/auth/oauth2/google", `{"token":"up"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ext", body["token"])

	rec, body = do(t, h, http.MethodPost, "/auth/oauth2/pending", `{"token":"up"}`, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "half", body["token"])

	rec, body = do(t, h, http.MethodPost, "/auth/oauth2/nope", `{"token":"up"}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "RESOURCE_NOT_FOUND", body["errorCode"])
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFake(t)
	ready := error(nil)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics\n") })
	h := NewRouter(f, Options{
		Logger:  quietLogger(),
		Metrics: metrics,
		Ready:   func(context.Context) error { return ready },
	})

	rec, body := do(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	ready = errors.New("redis down")
	rec, body = do(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", body["status"])

	rec, _ = do(t, h, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h := NewRouter(newFake(t), Options{Logger: quietLogger()})

	rec, body := do(t, h, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "RESOURCE_NOT_FOUND", body["errorCode"])

	rec, body = do(t, h, http.MethodGet, "/auth/login", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", body["errorCode"])
}

func TestHandlerPanicRecovered(t *testing.T) {
	f := newFake(t)
	f.login = func(authgate.LoginRequest) (authgate.LoginResult, error) { panic("boom") }
	h := NewRouter(f, Options{Logger: quietLogger()})

	rec, body := do(t, h, http.MethodPost, "/auth/login", `{}`, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", body["errorCode"])
}
