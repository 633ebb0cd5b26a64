package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/MrEthical07/authgate"
)

// AccountRepository implements authgate.AccountStore.
type AccountRepository struct {
	pool Pool
}

// NewAccountRepository creates an AccountRepository.
func NewAccountRepository(pool Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// GetAccountByEmail looks an account up case-insensitively.
func (r *AccountRepository) GetAccountByEmail(ctx context.Context, email string) (authgate.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id::text, email, full_name, password_hash, role, two_factor_enabled, created_at
		FROM accounts
		WHERE LOWER(email) = LOWER($1)
	`, email)

	var (
		a    authgate.Account
		role string
	)
	err := row.Scan(&a.ID, &a.Email, &a.FullName, &a.PasswordHash, &role, &a.TwoFactorEnabled, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return authgate.Account{}, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(authgate.ErrAccountNotFound)
	}
	if err != nil {
		return authgate.Account{}, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	a.Role = authgate.Role(role)
	return a, nil
}

// CreateAccount inserts account and runs finalize in the same transaction.
func (r *AccountRepository) CreateAccount(ctx context.Context, account authgate.Account, finalize func(context.Context, authgate.Account) error) error {
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	if account.Role == "" {
		account.Role = authgate.RoleUser
	}

	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO accounts (id, email, full_name, password_hash, role, two_factor_enabled, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			account.ID,
			account.Email,
			account.FullName,
			account.PasswordHash,
			string(account.Role),
			account.TwoFactorEnabled,
			account.CreatedAt,
		)
		if isUniqueViolation(err) {
			return oops.Code("ACCOUNT_EMAIL_TAKEN").
				With("email", account.Email).
				Wrap(authgate.ErrEmailAlreadyRegistered)
		}
		if err != nil {
			return oops.Code("ACCOUNT_CREATE_FAILED").
				With("operation", "insert account").
				With("email", account.Email).
				Wrap(err)
		}
		if finalize == nil {
			return nil
		}
		return finalize(ctx, account)
	})
}

// SetTwoFactorEnabled updates the 2FA flag.
func (r *AccountRepository) SetTwoFactorEnabled(ctx context.Context, email string, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts SET two_factor_enabled = $2 WHERE LOWER(email) = LOWER($1)
	`, email, enabled)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "set two_factor_enabled").
			With("email", email).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(authgate.ErrAccountNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ authgate.AccountStore = (*AccountRepository)(nil)
