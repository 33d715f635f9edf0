package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindow increments the counter and arms its expiry in one round trip,
// so a crash between INCR and PEXPIRE can never leave an immortal counter.
var fixedWindow = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// IncrWithTTL increments key and makes sure it expires after ttl from the
// first increment of the window.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return rdb.Incr(ctx, key).Result()
	}
	return fixedWindow.Run(ctx, rdb, []string{key}, ttl.Milliseconds()).Int64()
}

// FixedWindowAllow counts one hit against scope and reports whether the
// window still has room.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	count, err := c.IncrWithTTL(ctx, c.RateLimitKey(scope), window)
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}
