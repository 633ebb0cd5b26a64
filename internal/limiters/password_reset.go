package limiters

import (
	"context"
	"time"

	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/redis/go-redis/v9"
)

const (
	defaultResetMaxRequests = 5
	defaultResetWindow      = 15 * time.Minute
)

type PasswordResetConfig struct {
	EnableIPThrottle bool
	MaxRequests      int
	Window           time.Duration
}

// PasswordResetLimiter counts forgot-password requests. Every request is
// counted whether or not the email is registered.
type PasswordResetLimiter struct {
	byEmail *rate.Window
	byIP    *rate.Window
}

func NewPasswordResetLimiter(redisClient redis.UniversalClient, cfg PasswordResetConfig) *PasswordResetLimiter {
	max := cfg.MaxRequests
	if max <= 0 {
		max = defaultResetMaxRequests
	}
	w := cfg.Window
	if w <= 0 {
		w = defaultResetWindow
	}

	l := &PasswordResetLimiter{byEmail: rate.NewWindow(redisClient, "pwr", max, w)}
	if cfg.EnableIPThrottle {
		// One address may front several users.
		l.byIP = rate.NewWindow(redisClient, "pwr-ip", max*4, w)
	}
	return l
}

// CheckRequest counts one request for email and, when enabled, for ip.
func (l *PasswordResetLimiter) CheckRequest(ctx context.Context, email, ip string) error {
	if l == nil {
		return nil
	}
	if err := l.byEmail.Allow(ctx, email); err != nil {
		return err
	}
	if l.byIP != nil && ip != "" {
		if err := l.byIP.Allow(ctx, ip); err != nil {
			return err
		}
	}
	return nil
}
