//go:build !integration

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept += d
	c.mu.Unlock()
	return nil
}

func TestSlidingWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("should admit the cap immediately then wait for the oldest to expire", func(t *testing.T) {
		clock := &fakeClock{now: start}
		l, err := NewSlidingWindow(9, 56*time.Second, WithClock(clock))
		require.NoError(t, err)

		for i := 0; i < 9; i++ {
			require.NoError(t, l.Wait(context.Background()))
		}
		assert.Equal(t, time.Duration(0), clock.slept)
		assert.Equal(t, 9, l.InWindow())

		require.NoError(t, l.Wait(context.Background()))
		assert.Equal(t, 56*time.Second, clock.slept)
	})

	t.Run("should never allow more than the cap in any window", func(t *testing.T) {
		clock := &fakeClock{now: start}
		l, _ := NewSlidingWindow(3, 10*time.Second, WithClock(clock))
		var issued []time.Time
		for i := 0; i < 30; i++ {
			require.NoError(t, l.Wait(context.Background()))
			issued = append(issued, clock.Now())
			clock.now = clock.now.Add(time.Duration(i%4) * time.Second)
		}
		for i := 0; i+3 < len(issued); i++ {
			assert.GreaterOrEqual(t, issued[i+3].Sub(issued[i]), 10*time.Second)
		}
	})

	t.Run("should stop waiting when the context ends", func(t *testing.T) {
		clock := &fakeClock{now: start}
		l, _ := NewSlidingWindow(1, time.Minute, WithClock(clock))
		require.NoError(t, l.Wait(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
	})

	t.Run("should reject a zero cap", func(t *testing.T) {
		_, err := NewSlidingWindow(0, time.Second)
		assert.Error(t, err)
	})
}
