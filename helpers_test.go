package authgate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// memoryStore is an in-process AccountStore and ResetTokenStore with the
// same transactional contract as the Postgres stores.
type memoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	tokens   map[string]ResetToken

	failGet    error
	failCreate error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts: map[string]Account{},
		tokens:   map[string]ResetToken{},
	}
}

func (m *memoryStore) GetAccountByEmail(_ context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return Account{}, m.failGet
	}
	a, ok := m.accounts[strings.ToLower(email)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (m *memoryStore) CreateAccount(ctx context.Context, account Account, finalize func(context.Context, Account) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	key := strings.ToLower(account.Email)
	if _, exists := m.accounts[key]; exists {
		return ErrEmailAlreadyRegistered
	}
	m.accounts[key] = account
	if finalize != nil {
		if err := finalize(ctx, account); err != nil {
			delete(m.accounts, key)
			return err
		}
	}
	return nil
}

func (m *memoryStore) SetTwoFactorEnabled(_ context.Context, email string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(email)
	a, ok := m.accounts[key]
	if !ok {
		return ErrAccountNotFound
	}
	a.TwoFactorEnabled = enabled
	m.accounts[key] = a
	return nil
}

func (m *memoryStore) ReplaceResetToken(_ context.Context, token ResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, existing := range m.tokens {
		if existing.AccountID == token.AccountID {
			delete(m.tokens, hash)
		}
	}
	m.tokens[token.TokenHash] = token
	return nil
}

func (m *memoryStore) ConsumeResetToken(_ context.Context, tokenHash string, apply func(ResetToken) (string, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[tokenHash]
	if !ok {
		return ErrResetTokenNotFound
	}
	newHash, err := apply(token)
	if err != nil {
		return err
	}
	for key, a := range m.accounts {
		if a.ID == token.AccountID {
			a.PasswordHash = newHash
			m.accounts[key] = a
		}
	}
	token.Used = true
	m.tokens[tokenHash] = token
	return nil
}

// deleteExpired applies the same predicate as the Postgres sweeper.
func (m *memoryStore) deleteExpired(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for hash, tok := range m.tokens {
		if tok.ExpiresAt.Before(cutoff) {
			delete(m.tokens, hash)
			n++
		}
	}
	return n
}

func (m *memoryStore) account(email string) Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[strings.ToLower(email)]
}

func (m *memoryStore) tokensFor(accountID string) []ResetToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ResetToken
	for _, t := range m.tokens {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out
}

type stubCaptcha struct {
	ok  bool
	err error
}

func (s stubCaptcha) Verify(context.Context, string) (bool, error) {
	return s.ok, s.err
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (r *recordingMailer) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingMailer) last(t *testing.T) Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		t.Fatal("expected a sent message")
	}
	return r.sent[len(r.sent)-1]
}

func (r *recordingMailer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type stubResolver struct {
	ident ExternalIdentity
	err   error
}

func (s stubResolver) ResolveExternalIdentity(context.Context, string) (ExternalIdentity, error) {
	return s.ident, s.err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = testSecret
	cfg.Password = PasswordConfig{
		Memory:      8192,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.PasswordReset.EnumerationDelay = false
	return cfg
}

type testEnv struct {
	engine *Engine
	store  *memoryStore
	mailer *recordingMailer
	mr     *miniredis.Miniredis
	clock  *testClock
}

type testOption func(*Builder)

func withCaptcha(c CaptchaVerifier) testOption {
	return func(b *Builder) { b.WithCaptchaVerifier(c) }
}

func newTestEnv(t *testing.T, opts ...testOption) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	store := newMemoryStore()
	mailer := &recordingMailer{}
	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}

	b := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithAccountStore(store).
		WithResetTokenStore(store).
		WithCaptchaVerifier(stubCaptcha{ok: true}).
		WithMailer(mailer).
		WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})

	return &testEnv{engine: engine, store: store, mailer: mailer, mr: mr, clock: clock}
}

const (
	testEmail    = "alice@example.com"
	testPassword = "Str0ng!Pass"
)

func (env *testEnv) register(t *testing.T) LoginResult {
	t.Helper()
	res, err := env.engine.Register(context.Background(), RegisterRequest{
		FullName:        "Alice Example",
		Email:           testEmail,
		Password:        testPassword,
		ConfirmPassword: testPassword,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return res
}

func lastCode(t *testing.T, m *recordingMailer) string {
	t.Helper()
	body := m.last(t).Body
	idx := strings.LastIndex(body, ": ")
	if idx < 0 {
		t.Fatalf("unexpected mail body %q", body)
	}
	return body[idx+2:]
}

var errBoom = errors.New("boom")
