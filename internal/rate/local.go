package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// LocalLimiter gives every key a token bucket holding MaxAttempts tokens
// that refills completely over Window. Each failure spends one token.
type LocalLimiter struct {
	mu      sync.Mutex
	config  Config
	buckets map[string]*bucket
	now     func() time.Time
}

// NewLocal returns a [LocalLimiter]. A nil now uses time.Now.
func NewLocal(cfg Config, now func() time.Time) *LocalLimiter {
	if now == nil {
		now = time.Now
	}
	return &LocalLimiter{
		config:  cfg,
		buckets: make(map[string]*bucket),
		now:     now,
	}
}

func (l *LocalLimiter) limit() rate.Limit {
	if l.config.MaxAttempts <= 0 || l.config.Window <= 0 {
		return rate.Inf
	}
	return rate.Every(l.config.Window / time.Duration(l.config.MaxAttempts))
}

func (l *LocalLimiter) get(key string, now time.Time) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit(), l.config.MaxAttempts)}
		l.buckets[key] = b
	}
	b.seen = now
	return b
}

func (l *LocalLimiter) Check(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.limit() == rate.Inf {
		return nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return nil
	}
	if b.lim.TokensAt(now) < 1 {
		return ErrRateLimited
	}
	return nil
}

func (l *LocalLimiter) Fail(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.limit() == rate.Inf {
		return nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.get(key, now).lim.AllowN(now, 1)
	l.evict(now)
	return nil
}

func (l *LocalLimiter) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
	return nil
}

// evict drops buckets idle for longer than a window; they are full again.
// Caller holds l.mu.
func (l *LocalLimiter) evict(now time.Time) {
	if len(l.buckets) < 1024 {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.config.Window {
			delete(l.buckets, k)
		}
	}
}
