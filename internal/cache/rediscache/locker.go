package rediscache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Снимаем лок только если он всё ещё наш (токен совпадает).
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a per-key advisory lock (SET NX PX). The TTL bounds how long a
// crashed holder can block others.
type Locker struct {
	c *redis.Client
}

func NewLocker(addr string) *Locker {
	return &Locker{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// TryLock returns a release func when the lock was acquired, or ok=false when
// somebody else holds it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.c.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "redis lock")
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// контекст вызывающего может быть уже отменён
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.c, []string{key}, token).Err()
	}
	return release, true, nil
}

func (l *Locker) Close() error {
	return l.c.Close()
}
