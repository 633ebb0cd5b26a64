package limiters

import (
	"context"
	"time"

	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTwoFactorMaxFailures = 5
	defaultTwoFactorWindow      = 3 * time.Minute
)

// TwoFactorLimiterConfig holds thresholds for the 2FA limiter. Zero values
// fall back to 5 submissions per 3 minutes. A correct code clears the count.
type TwoFactorLimiterConfig struct {
	MaxFailures int
	Window      time.Duration
}

// TwoFactorLimiter blocks code submissions for an email once too many were
// made inside the window without a correct one.
type TwoFactorLimiter struct {
	window *rate.Window
}

func NewTwoFactorLimiter(redisClient redis.UniversalClient, cfg TwoFactorLimiterConfig) *TwoFactorLimiter {
	max := cfg.MaxFailures
	if max <= 0 {
		max = defaultTwoFactorMaxFailures
	}
	w := cfg.Window
	if w <= 0 {
		w = defaultTwoFactorWindow
	}
	return &TwoFactorLimiter{window: rate.NewWindow(redisClient, "tfa-fail", max, w)}
}

// Reserve counts one code submission for email before the code is compared
// and fails with rate.ErrRateLimited once the budget is spent. Counting
// first keeps concurrent submissions inside the budget.
func (l *TwoFactorLimiter) Reserve(ctx context.Context, email string) error {
	if l == nil {
		return nil
	}
	return l.window.Allow(ctx, email)
}

// Reset clears the count after a successful validation.
func (l *TwoFactorLimiter) Reset(ctx context.Context, email string) error {
	if l == nil {
		return nil
	}
	return l.window.Reset(ctx, email)
}
