// Command authgate-loadtest drives an in-process Engine over Redis (or
// miniredis) and prints per-phase latency percentiles.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
)

const loadPassword = "L0ad!Testing"

type accountState struct {
	email string
	token string
	mu    sync.Mutex
}

func main() {
	var (
		accounts    = flag.Int("accounts", 1000, "number of accounts to register")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (verify + two-factor)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  *redis.Client
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	mailer := newCodeMailer()
	engine, err := buildEngine(client, mailer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]accountState, *accounts)
	fmt.Printf("registering %d accounts...\n", *accounts)
	startSeed := time.Now()
	for i := range states {
		email := fmt.Sprintf("load-%d@example.com", i)
		res, err := engine.Register(ctx, authgate.RegisterRequest{
			FullName:        "Load Tester",
			Email:           email,
			Password:        loadPassword,
			ConfirmPassword: loadPassword,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "register failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = accountState{email: email, token: res.Token}
	}
	fmt.Printf("registered in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) error {
		_, err := engine.VerifyToken(states[r.Intn(len(states))].token)
		return err
	})
	twoFactorStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) error {
		state := &states[r.Intn(len(states))]
		// The newest code wins, so one challenge per account at a time.
		state.mu.Lock()
		defer state.mu.Unlock()
		if err := engine.SendTwoFactorChallenge(ctx, state.email); err != nil {
			return err
		}
		_, err := engine.CompleteTwoFactor(ctx, state.email, mailer.code(state.email))
		return err
	})

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("two-factor", twoFactorStats)
	snap := engine.MetricsSnapshot()
	fmt.Printf("counters: 2fa_sent=%d 2fa_success=%d 2fa_failure=%d\n",
		snap.Counters[authgate.MetricTwoFactorChallengeSent],
		snap.Counters[authgate.MetricTwoFactorSuccess],
		snap.Counters[authgate.MetricTwoFactorFailure],
	)
}

func buildEngine(client *redis.Client, mailer authgate.Mailer) (*authgate.Engine, error) {
	cfg := authgate.DefaultConfig()
	cfg.JWT.Secret = []byte(uuid.NewString() + uuid.NewString())
	// Cheap hashing keeps the seed phase short; it is not what is measured.
	cfg.Password = authgate.PasswordConfig{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.PasswordReset.EnumerationDelay = false
	cfg.Metrics.Enabled = true

	store := newMemoryStore()
	return authgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountStore(store).
		WithResetTokenStore(store).
		WithCaptchaVerifier(acceptAll{}).
		WithMailer(mailer).
		Build()
}

func runPhase(ops, concurrency int, seed int64, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

type acceptAll struct{}

func (acceptAll) Verify(context.Context, string) (bool, error) { return true, nil }

// codeMailer keeps the last code mailed to each address.
type codeMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func newCodeMailer() *codeMailer {
	return &codeMailer{codes: make(map[string]string)}
}

func (m *codeMailer) Send(_ context.Context, msg authgate.Message) error {
	idx := strings.LastIndex(msg.Body, ": ")
	if idx < 0 {
		return nil
	}
	m.mu.Lock()
	m.codes[msg.To] = msg.Body[idx+2:]
	m.mu.Unlock()
	return nil
}

func (m *codeMailer) code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

type memoryStore struct {
	mu       sync.Mutex
	accounts map[string]authgate.Account
	tokens   map[string]authgate.ResetToken
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts: make(map[string]authgate.Account),
		tokens:   make(map[string]authgate.ResetToken),
	}
}

func (s *memoryStore) GetAccountByEmail(_ context.Context, email string) (authgate.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[email]
	if !ok {
		return authgate.Account{}, authgate.ErrAccountNotFound
	}
	return acct, nil
}

func (s *memoryStore) CreateAccount(ctx context.Context, acct authgate.Account, finalize func(context.Context, authgate.Account) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acct.Email]; ok {
		return authgate.ErrEmailAlreadyRegistered
	}
	if finalize != nil {
		if err := finalize(ctx, acct); err != nil {
			return err
		}
	}
	s.accounts[acct.Email] = acct
	return nil
}

func (s *memoryStore) SetTwoFactorEnabled(_ context.Context, email string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[email]
	if !ok {
		return authgate.ErrAccountNotFound
	}
	acct.TwoFactorEnabled = enabled
	s.accounts[email] = acct
	return nil
}

func (s *memoryStore) ReplaceResetToken(_ context.Context, token authgate.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, existing := range s.tokens {
		if existing.AccountID == token.AccountID {
			delete(s.tokens, hash)
		}
	}
	s.tokens[token.TokenHash] = token
	return nil
}

func (s *memoryStore) ConsumeResetToken(_ context.Context, tokenHash string, apply func(authgate.ResetToken) (string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenHash]
	if !ok {
		return authgate.ErrResetTokenNotFound
	}
	newHash, err := apply(token)
	if err != nil {
		return err
	}
	for key, acct := range s.accounts {
		if acct.ID == token.AccountID {
			acct.PasswordHash = newHash
			s.accounts[key] = acct
		}
	}
	token.Used = true
	s.tokens[tokenHash] = token
	return nil
}
