//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/store/postgres"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("authgate_test"),
		tcpostgres.WithUsername("authgate"),
		tcpostgres.WithPassword("authgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		panic(err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic(err)
	}

	migrator, err := postgres.NewMigrator(dsn)
	if err != nil {
		panic(err)
	}
	if err := migrator.Up(); err != nil {
		panic(err)
	}
	_ = migrator.Close()

	testPool, err = postgres.Connect(ctx, dsn, 8)
	if err != nil {
		panic(err)
	}

	code := m.Run()

	testPool.Close()
	_ = container.Terminate(context.Background())
	cancel()
	os.Exit(code)
}

func createAccount(ctx context.Context, t *testing.T, email string) authgate.Account {
	t.Helper()
	acct := authgate.Account{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     "Integration User",
		PasswordHash: "hash",
		Role:         authgate.RoleUser,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, postgres.NewAccountRepository(testPool).CreateAccount(ctx, acct, nil))
	t.Cleanup(func() {
		_, _ = testPool.Exec(context.Background(), `DELETE FROM accounts WHERE id = $1`, acct.ID)
	})
	return acct
}

func TestAccounts_CaseInsensitiveUnique(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)
	acct := createAccount(ctx, t, "case@example.com")

	got, err := repo.GetAccountByEmail(ctx, "CASE@example.com")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)

	dup := acct
	dup.ID = uuid.NewString()
	dup.Email = "Case@Example.com"
	err = repo.CreateAccount(ctx, dup, nil)
	require.ErrorIs(t, err, authgate.ErrEmailAlreadyRegistered)
}

func TestAccounts_FinalizeFailureLeavesNoRow(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)

	acct := authgate.Account{ID: uuid.NewString(), Email: "rollback@example.com", FullName: "R", PasswordHash: "h"}
	err := repo.CreateAccount(ctx, acct, func(context.Context, authgate.Account) error {
		return errors.New("token signing failed")
	})
	require.Error(t, err)

	_, err = repo.GetAccountByEmail(ctx, acct.Email)
	require.ErrorIs(t, err, authgate.ErrAccountNotFound)
}

func TestResetTokens_SingleActiveAndSingleConsume(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewResetTokenRepository(testPool)
	acct := createAccount(ctx, t, "reset@example.com")
	now := time.Now().UTC()

	for _, hash := range []string{"first-hash", "second-hash"} {
		require.NoError(t, repo.ReplaceResetToken(ctx, authgate.ResetToken{
			AccountID: acct.ID,
			TokenHash: hash,
			ExpiresAt: now.Add(15 * time.Minute),
			CreatedAt: now,
		}))
	}

	var count int
	require.NoError(t, testPool.QueryRow(ctx,
		`SELECT COUNT(*) FROM password_reset_tokens WHERE account_id = $1`, acct.ID).Scan(&count))
	assert.Equal(t, 1, count)

	err := repo.ConsumeResetToken(ctx, "first-hash", func(authgate.ResetToken) (string, error) { return "x", nil })
	require.ErrorIs(t, err, authgate.ErrResetTokenNotFound)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.ConsumeResetToken(ctx, "second-hash", func(rt authgate.ResetToken) (string, error) {
				if rt.Used {
					return "", authgate.ErrResetTokenUsed
				}
				return "new-hash", nil
			})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err := postgres.NewAccountRepository(testPool).GetAccountByEmail(ctx, acct.Email)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
}
