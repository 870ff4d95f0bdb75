package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/ports/adapter"
)

var _ adapter.RateLimiter = (*WindowLimiter)(nil)

// luaWindow admits a request when fewer than limit members scored within the
// last window ms remain in the set. It returns 0 on admission, otherwise the
// ms until the oldest member expires. Time comes from the Redis server so
// every worker shares one clock.
var luaWindow = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local member = ARGV[3]
local t = redis.call("TIME")
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
if redis.call("ZCARD", key) < limit then
	redis.call("ZADD", key, now, member)
	redis.call("PEXPIRE", key, window)
	return 0
end
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then
	wait = 1
end
return wait`)

// WindowLimiter is the sliding-window cap shared by every process that uses
// the same key.
type WindowLimiter struct {
	cli    *redis.Client
	key    string
	limit  int
	window time.Duration
}

func NewWindowLimiter(c *redClient, name string, limit int, window time.Duration) (*WindowLimiter, error) {
	if limit <= 0 || window < time.Millisecond {
		return nil, fmt.Errorf("%w: window limit and size must be positive", domain.ErrInvalidArgument)
	}
	return &WindowLimiter{cli: c.cli, key: "genbatch:window:" + name, limit: limit, window: window}, nil
}

func (l *WindowLimiter) Wait(ctx context.Context) error {
	member := uuid.NewString()
	for {
		wait, err := luaWindow.Run(ctx, l.cli, []string{l.key}, l.window.Milliseconds(), l.limit, member).Int64()
		if err != nil {
			return fmt.Errorf("window limiter: %w", err)
		}
		if wait == 0 {
			return nil
		}
		t := time.NewTimer(time.Duration(wait) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// InWindow reports how many requests count against the cap right now, on the
// same server clock admission uses.
func (l *WindowLimiter) InWindow(ctx context.Context) (int64, error) {
	now, err := l.cli.Time(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("window limiter: %w", err)
	}
	from := now.UnixMilli() - l.window.Milliseconds() + 1
	return l.cli.ZCount(ctx, l.key, fmt.Sprint(from), "+inf").Result()
}
