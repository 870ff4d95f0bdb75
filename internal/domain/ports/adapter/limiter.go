package adapter

import (
	"context"
	"time"
)

// RateLimiter blocks until one more request fits in the sliding window.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
