package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type managerVerifier struct{ m *jwt.Manager }

func (v managerVerifier) SubjectOf(token string) (string, error) { return v.m.SubjectOf(token) }

func (v managerVerifier) VerifyToken(token string) (authgate.SessionClaims, error) {
	return v.m.Verify(token)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newManager(t *testing.T, c *clock) *jwt.Manager {
	t.Helper()
	m, err := jwt.NewManager(jwt.Config{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		TTL:    time.Hour,
		Issuer: "authgate",
		Now:    c.Now,
	})
	require.NoError(t, err)
	return m
}

func issue(t *testing.T, m *jwt.Manager, pending bool) string {
	t.Helper()
	tok, err := m.Issue(jwt.SessionClaims{
		UserID:           "u-1",
		Email:            "alice@example.com",
		Role:             string(authgate.RoleUser),
		TwoFactorEnabled: pending,
		TwoFactorPending: pending,
	})
	require.NoError(t, err)
	return tok
}

// echoPrincipal reports whether a principal reached the handler.
func echoPrincipal(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_, _ = w.Write([]byte(p.Email))
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	code, _ := body["errorCode"].(string)
	return code
}

func TestGateAttachesPrincipal(t *testing.T) {
	c := &clock{now: time.Now()}
	m := newManager(t, c)
	h := Gate(managerVerifier{m}, GateOptions{})(http.HandlerFunc(echoPrincipal))

	rec := serve(h, http.MethodGet, "/auth/details", issue(t, m, false))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice@example.com", rec.Body.String())
}

func TestGateNoBearerPassesThrough(t *testing.T) {
	c := &clock{now: time.Now()}
	h := Gate(managerVerifier{newManager(t, c)}, GateOptions{})(http.HandlerFunc(echoPrincipal))

	rec := serve(h, http.MethodGet, "/auth/details", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGateRejections(t *testing.T) {
	c := &clock{now: time.Now()}
	m := newManager(t, c)
	h := Gate(managerVerifier{m}, GateOptions{})(http.HandlerFunc(echoPrincipal))

	expired := issue(t, m, false)
	c.now = c.now.Add(2 * time.Hour)
	fresh := issue(t, m, false)

	tests := []struct {
		name  string
		path  string
		token string
		code  string
	}{
		{"garbage", "/auth/details", "not-a-jwt", "TOKEN_INVALID"},
		{"tampered", "/auth/details", fresh + "x", "TOKEN_INVALID"},
		{"expired", "/auth/details", expired, "TOKEN_EXPIRED"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h, http.MethodGet, tc.path, tc.token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}

	c.now = time.Now()
	rec := serve(h, http.MethodPatch, "/api/auth/2fa/toggle", issue(t, m, true))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TWO_FACTOR_REQUIRED", errorCode(t, rec))
}

func TestGatePendingReachesTwoFactorPathViaAllowList(t *testing.T) {
	c := &clock{now: time.Now()}
	m := newManager(t, c)
	h := Gate(managerVerifier{m}, GateOptions{})(http.HandlerFunc(echoPrincipal))

	rec := serve(h, http.MethodPost, TwoFactorPath, issue(t, m, true))
	assert.Equal(t, http.StatusNoContent, rec.Code, "allow-listed route runs without a principal")

	rec = serve(h, http.MethodGet, "/auth/details", issue(t, m, true))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TWO_FACTOR_REQUIRED", errorCode(t, rec))
}

func TestGatePendingRejectedWhenTwoFactorPathNotAllowed(t *testing.T) {
	c := &clock{now: time.Now()}
	m := newManager(t, c)
	allow := MustAllowList("/auth/login")
	h := Gate(managerVerifier{m}, GateOptions{AllowList: allow})(http.HandlerFunc(echoPrincipal))

	rec := serve(h, http.MethodPost, TwoFactorPath, issue(t, m, true))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TWO_FACTOR_REQUIRED", errorCode(t, rec))
}

func TestGateAllowListSkipsVerification(t *testing.T) {
	c := &clock{now: time.Now()}
	h := Gate(managerVerifier{newManager(t, c)}, GateOptions{})(http.HandlerFunc(echoPrincipal))

	rec := serve(h, http.MethodPost, "/auth/login", "garbage")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGateNonBearerScheme(t *testing.T) {
	c := &clock{now: time.Now()}
	h := Gate(managerVerifier{newManager(t, c)}, GateOptions{})(http.HandlerFunc(echoPrincipal))

	req := httptest.NewRequest(http.MethodGet, "/auth/details", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = bearerToken("Bearer ")
	assert.False(t, ok)
	_, ok = bearerToken("Token abc")
	assert.False(t, ok)
}
