package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// TTL ставится только при создании ключа: окно фиксированное и не
// продлевается каждым запросом.
var allowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RateLimiter is a fixed-window counter shared by every reconciler that
// talks to the same carrier account.
type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Allow увеличивает счётчик окна key и сообщает, уложились ли в limit.
// Возвращает (allowed, currentCount).
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	if window <= 0 {
		return false, 0, errors.New("rate limit window must be positive")
	}
	n, err := allowScript.Run(ctx, rl.c, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	return n <= limit, n, nil
}

func (rl *RateLimiter) Close() error {
	return rl.c.Close()
}
