package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_GetError(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	mr.Close()

	_, ok, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}

func TestRateLimiter_WindowIsNotExtended(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())
	ctx := context.Background()

	_, _, err := rl.Allow(ctx, "rl:carrier:aftership:202501011200", 1, time.Minute)
	require.NoError(t, err)
	mr.FastForward(40 * time.Second)

	ok, _, err := rl.Allow(ctx, "rl:carrier:aftership:202501011200", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 20*time.Second, mr.TTL("rl:carrier:aftership:202501011200"))

	mr.FastForward(21 * time.Second)
	ok, n, err := rl.Allow(ctx, "rl:carrier:aftership:202501011200", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}

func TestRateLimiter_RejectsZeroWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())
	_, _, err := rl.Allow(context.Background(), "k", 1, 0)
	require.Error(t, err)
}

func TestLocker_TryLock(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewLocker(mr.Addr())
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "lock:tracking:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "lock:tracking:1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	release()
	require.False(t, mr.Exists("lock:tracking:1"))

	release2, ok, err := l.TryLock(ctx, "lock:tracking:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	release2()
}

func TestLocker_ReleaseDoesNotDropForeignLock(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewLocker(mr.Addr())
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "lock:tracking:2", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// лок истёк и его взял кто-то другой
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("lock:tracking:2", "someone-else"))

	release()
	v, err := mr.Get("lock:tracking:2")
	require.NoError(t, err)
	require.Equal(t, "someone-else", v)
}
