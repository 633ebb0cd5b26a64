package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is a fixed-window counter. Keys are prefix + ":" + id.
type Window struct {
	redis  redis.UniversalClient
	prefix string
	max    int64
	window time.Duration
}

// NewWindow allows max events per window for each id.
func NewWindow(redisClient redis.UniversalClient, prefix string, max int, window time.Duration) *Window {
	return &Window{
		redis:  redisClient,
		prefix: prefix,
		max:    int64(max),
		window: window,
	}
}

func (w *Window) key(id string) string {
	return w.prefix + ":" + id
}

// Check reports ErrRateLimited once id has used its budget. It does not
// count anything.
func (w *Window) Check(ctx context.Context, id string) error {
	count, err := w.redis.Get(ctx, w.key(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= w.max {
		return ErrRateLimited
	}
	return nil
}

// Hit counts one event and returns the new total. The key gets its TTL in
// the same transaction as the first increment, so a counter never outlives
// its window.
func (w *Window) Hit(ctx context.Context, id string) (int64, error) {
	key := w.key(id)
	var incr *redis.IntCmd
	_, err := w.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, w.window)
		incr = pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return incr.Val(), nil
}

// Allow counts one event and fails with ErrRateLimited when it goes over
// budget. Rejected events are counted too.
func (w *Window) Allow(ctx context.Context, id string) error {
	count, err := w.Hit(ctx, id)
	if err != nil {
		return err
	}
	if count > w.max {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter for id.
func (w *Window) Reset(ctx context.Context, id string) error {
	if err := w.redis.Del(ctx, w.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Remaining is the time left in id's current window, zero when none is open.
func (w *Window) Remaining(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := w.redis.PTTL(ctx, w.key(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
