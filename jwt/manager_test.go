package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T, clock *fakeClock) *Manager {
	t.Helper()

	cfg := Config{Secret: testSecret, TTL: time.Hour, Issuer: "authgate"}
	if clock != nil {
		cfg.Now = clock.Now
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func sampleClaims() SessionClaims {
	return SessionClaims{
		UserID:           "2b0c7d0e-6a43-4df6-9a8d-0f4c2a3f6b11",
		FullName:         "Ana",
		Email:            "ana@x.com",
		Role:             "USER",
		TwoFactorEnabled: true,
		TwoFactorPending: false,
	}
}

func TestNewManagerRejectsShortSecret(t *testing.T) {
	_, err := NewManager(Config{Secret: []byte("too-short"), TTL: time.Hour})
	if !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}

	if _, err := NewManager(Config{Secret: testSecret[:31], TTL: time.Hour}); !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("expected 31-byte secret to be rejected, got %v", err)
	}
	if _, err := NewManager(Config{Secret: testSecret, TTL: time.Hour}); err != nil {
		t.Fatalf("expected 32-byte secret to be accepted, got %v", err)
	}
}

func TestNewManagerRejectsBadTTLAndLeeway(t *testing.T) {
	if _, err := NewManager(Config{Secret: testSecret}); err == nil {
		t.Fatal("expected zero TTL to fail")
	}
	if _, err := NewManager(Config{Secret: testSecret, TTL: time.Hour, Leeway: 3 * time.Minute}); err == nil {
		t.Fatal("expected oversize leeway to fail")
	}
	if _, err := NewManager(Config{Secret: testSecret, TTL: time.Hour, Leeway: -time.Second}); err == nil {
		t.Fatal("expected negative leeway to fail")
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := newTestManager(t, clock)

	for _, pending := range []bool{false, true} {
		in := sampleClaims()
		in.TwoFactorPending = pending

		token, err := m.Issue(in)
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}

		out, err := m.Verify(token)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}

		if out.UserID != in.UserID || out.FullName != in.FullName || out.Email != in.Email ||
			out.Role != in.Role || out.TwoFactorEnabled != in.TwoFactorEnabled || out.TwoFactorPending != in.TwoFactorPending {
			t.Fatalf("claims mismatch: in=%+v out=%+v", in, out)
		}
		if !out.IssuedAt.Equal(clock.now) {
			t.Fatalf("expected iat=%v, got %v", clock.now, out.IssuedAt)
		}
		if !out.ExpiresAt.Equal(clock.now.Add(time.Hour)) {
			t.Fatalf("expected exp=%v, got %v", clock.now.Add(time.Hour), out.ExpiresAt)
		}
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(t, clock)

	token, err := m.Issue(sampleClaims())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	clock.now = clock.now.Add(time.Hour + 2*time.Second)
	if _, err := m.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	m := newTestManager(t, nil)
	other, err := NewManager(Config{Secret: []byte("ffffffffffffffffffffffffffffffff"), TTL: time.Hour, Issuer: "authgate"})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, err := other.Issue(sampleClaims())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := m.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyRejectsWrongAlgorithmAndIssuer(t *testing.T) {
	m := newTestManager(t, nil)

	wc := wireClaims{
		Email: "ana@x.com",
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "ana@x.com",
			Issuer:    "authgate",
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	hs512, err := gjwt.NewWithClaims(gjwt.SigningMethodHS512, wc).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(hs512); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected HS512 token to be rejected, got %v", err)
	}

	wc.Issuer = "someone-else"
	foreign, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, wc).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(foreign); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected wrong issuer to be rejected, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	m := newTestManager(t, nil)

	token, err := m.Issue(sampleClaims())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", token)
	}

	elevated := sampleClaims()
	elevated.Role = "ADMIN"
	forged, err := m.Issue(elevated)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	forgedParts := strings.Split(forged, ".")

	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]
	if _, err := m.Verify(spliced); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected spliced token to be rejected, got %v", err)
	}

	for _, junk := range []string{"", "abc", "a.b.c", token + "x"} {
		if _, err := m.Verify(junk); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected %q to be rejected as invalid, got %v", junk, err)
		}
	}
}

func TestSubjectOf(t *testing.T) {
	m := newTestManager(t, nil)

	token, err := m.Issue(sampleClaims())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	sub, err := m.SubjectOf(token)
	if err != nil {
		t.Fatalf("SubjectOf failed: %v", err)
	}
	if sub != "ana@x.com" {
		t.Fatalf("expected subject ana@x.com, got %q", sub)
	}

	if _, err := m.SubjectOf("not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func FuzzVerify(f *testing.F) {
	m, err := NewManager(Config{Secret: testSecret, TTL: time.Minute})
	if err != nil {
		f.Fatal(err)
	}
	valid, err := m.Issue(sampleClaims())
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("a.b.c")
	f.Add("eyJhbGciOiJub25lIn0.eyJzdWIiOiJ4In0.")

	f.Fuzz(func(t *testing.T, token string) {
		claims, err := m.Verify(token)
		if err == nil && claims.Email == "" {
			t.Fatal("accepted token without email")
		}
		_, _ = m.SubjectOf(token)
	})
}
