package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/MrEthical07/authgate"
)

// ResetTokenRepository implements authgate.ResetTokenStore.
type ResetTokenRepository struct {
	pool Pool
}

// NewResetTokenRepository creates a ResetTokenRepository.
func NewResetTokenRepository(pool Pool) *ResetTokenRepository {
	return &ResetTokenRepository{pool: pool}
}

// ReplaceResetToken deletes the account's tokens and inserts token. The
// account row is locked first so concurrent requests for the same account
// serialize. An empty token.ID gets a fresh ULID.
func (r *ResetTokenRepository) ReplaceResetToken(ctx context.Context, token authgate.ResetToken) error {
	if token.ID == "" {
		token.ID = ulid.Make().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id::text FROM accounts WHERE id = $1 FOR UPDATE`, token.AccountID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Code("ACCOUNT_NOT_FOUND").
				With("account_id", token.AccountID).
				Wrap(authgate.ErrAccountNotFound)
		}
		if err != nil {
			return oops.Code("RESET_LOCK_FAILED").
				With("operation", "lock account").
				With("account_id", token.AccountID).
				Wrap(err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM password_reset_tokens WHERE account_id = $1`, token.AccountID); err != nil {
			return oops.Code("RESET_DELETE_BY_ACCOUNT_FAILED").
				With("operation", "delete password_reset_tokens by account").
				With("account_id", token.AccountID).
				Wrap(err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO password_reset_tokens (id, account_id, token_hash, expires_at, used, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, token.ID, token.AccountID, token.TokenHash, token.ExpiresAt, token.Used, token.CreatedAt)
		if err != nil {
			code := "RESET_CREATE_FAILED"
			if isUniqueViolation(err) {
				code = "RESET_TOKEN_COLLISION"
			}
			return oops.Code(code).
				With("operation", "insert password_reset_token").
				With("account_id", token.AccountID).
				Wrap(err)
		}
		return nil
	})
}

// ConsumeResetToken locks the token row, lets apply decide, then stores the
// new password hash and marks the token used in one transaction.
func (r *ResetTokenRepository) ConsumeResetToken(ctx context.Context, tokenHash string, apply func(authgate.ResetToken) (string, error)) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var t authgate.ResetToken
		err := tx.QueryRow(ctx, `
			SELECT id, account_id::text, token_hash, expires_at, used, created_at
			FROM password_reset_tokens
			WHERE token_hash = $1
			FOR UPDATE
		`, tokenHash).Scan(&t.ID, &t.AccountID, &t.TokenHash, &t.ExpiresAt, &t.Used, &t.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Code("RESET_NOT_FOUND").Wrap(authgate.ErrResetTokenNotFound)
		}
		if err != nil {
			return oops.Code("RESET_GET_FAILED").
				With("operation", "get password_reset_token by hash").
				Wrap(err)
		}

		passwordHash, err := apply(t)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE accounts SET password_hash = $2 WHERE id = $1`, t.AccountID, passwordHash); err != nil {
			return oops.Code("ACCOUNT_PASSWORD_UPDATE_FAILED").
				With("operation", "update password_hash").
				With("account_id", t.AccountID).
				Wrap(err)
		}
		if _, err := tx.Exec(ctx, `UPDATE password_reset_tokens SET used = TRUE WHERE id = $1`, t.ID); err != nil {
			return oops.Code("RESET_MARK_USED_FAILED").
				With("operation", "mark password_reset_token used").
				With("id", t.ID).
				Wrap(err)
		}
		return nil
	})
}

// DeleteExpired removes tokens that expired before cutoff and returns the
// count.
func (r *ResetTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired password_reset_tokens").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ authgate.ResetTokenStore = (*ResetTokenRepository)(nil)
