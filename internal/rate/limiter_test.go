package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedis(rdb, "ac", Config{Scope: "login", MaxAttempts: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Check(ctx, "k"))
		require.NoError(t, l.Fail(ctx, "k"))
	}
	assert.ErrorIs(t, l.Check(ctx, "k"), ErrRateLimited)
	assert.NoError(t, l.Check(ctx, "other"))

	n, err := l.Attempts(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, time.Minute, mr.TTL("ac:rl:login:k"))

	mr.FastForward(time.Minute + time.Second)
	assert.NoError(t, l.Check(ctx, "k"))
}

func TestRedisLimiterReset(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewRedis(rdb, "ac", Config{Scope: "login", MaxAttempts: 1, Window: time.Minute})
	ctx := context.Background()

	require.NoError(t, l.Fail(ctx, "k"))
	require.ErrorIs(t, l.Check(ctx, "k"), ErrRateLimited)
	require.NoError(t, l.Reset(ctx, "k"))
	assert.NoError(t, l.Check(ctx, "k"))
}

func TestRedisLimiterBackendDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedis(rdb, "ac", Config{Scope: "login", MaxAttempts: 1, Window: time.Minute})
	mr.Close()

	assert.ErrorIs(t, l.Check(context.Background(), "k"), ErrRedisUnavailable)
	assert.ErrorIs(t, l.Fail(context.Background(), "k"), ErrRedisUnavailable)
}

func TestLocalLimiterRefills(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l := NewLocal(Config{Scope: "login", MaxAttempts: 2, Window: time.Minute}, clock)
	ctx := context.Background()

	require.NoError(t, l.Fail(ctx, "k"))
	require.NoError(t, l.Check(ctx, "k"))
	require.NoError(t, l.Fail(ctx, "k"))
	assert.ErrorIs(t, l.Check(ctx, "k"), ErrRateLimited)

	// one token returns every Window/MaxAttempts
	now = now.Add(30 * time.Second)
	assert.NoError(t, l.Check(ctx, "k"))

	require.NoError(t, l.Fail(ctx, "k"))
	require.ErrorIs(t, l.Check(ctx, "k"), ErrRateLimited)
	require.NoError(t, l.Reset(ctx, "k"))
	assert.NoError(t, l.Check(ctx, "k"))
}

func TestLocalLimiterDisabled(t *testing.T) {
	l := NewLocal(Config{Scope: "login"}, nil)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Fail(context.Background(), "k"))
	}
	assert.NoError(t, l.Check(context.Background(), "k"))
}
