package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config is a failure budget: at most MaxAttempts failures per Window.
type Config struct {
	Scope       string
	MaxAttempts int
	Window      time.Duration
}

// Limiter counts failures per key.
type Limiter interface {
	// Check returns ErrRateLimited when key has no budget left. It does not
	// consume budget.
	Check(ctx context.Context, key string) error
	// Fail records one failure for key.
	Fail(ctx context.Context, key string) error
	// Reset forgets key, typically after a success.
	Reset(ctx context.Context, key string) error
}

// RedisLimiter enforces a fixed-window budget with Redis counters shared by
// every process using the same prefix.
type RedisLimiter struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

// NewRedis creates a [RedisLimiter] backed by the given Redis client.
func NewRedis(client redis.UniversalClient, prefix string, cfg Config) *RedisLimiter {
	return &RedisLimiter{
		redis:  client,
		prefix: prefix,
		config: cfg,
	}
}

func (l *RedisLimiter) key(k string) string {
	return l.prefix + ":rl:" + l.config.Scope + ":" + k
}

func (l *RedisLimiter) Check(ctx context.Context, key string) error {
	if l.config.MaxAttempts <= 0 {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *RedisLimiter) Fail(ctx context.Context, key string) error {
	if l.config.MaxAttempts <= 0 {
		return nil
	}
	_, err := l.incrementWithTTL(ctx, l.key(key), l.config.Window)
	return err
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the failures recorded for key in the current window.
func (l *RedisLimiter) Attempts(ctx context.Context, key string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *RedisLimiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
