// Package ratelimit holds the in-process sliding-window limiter used when the
// worker runs without a shared Redis.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/ports/adapter"
)

var _ adapter.RateLimiter = (*SlidingWindow)(nil)

// Clock lets tests drive the window without real sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SlidingWindow admits at most limit requests in any window-long interval.
// It keeps the issue time of the last limit requests; a request issued at t
// stops counting at t+window.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	issued []time.Time
	clock  Clock
}

type Option func(*SlidingWindow)

func WithClock(c Clock) Option {
	return func(l *SlidingWindow) { l.clock = c }
}

func NewSlidingWindow(limit int, window time.Duration, opts ...Option) (*SlidingWindow, error) {
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("%w: window limit and size must be positive", domain.ErrInvalidArgument)
	}
	l := &SlidingWindow{limit: limit, window: window, issued: make([]time.Time, 0, limit), clock: realClock{}}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

func (l *SlidingWindow) Wait(ctx context.Context) error {
	for {
		wait, ok := l.reserve()
		if ok {
			return nil
		}
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *SlidingWindow) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.window)
	drop := 0
	for drop < len(l.issued) && !l.issued[drop].After(cutoff) {
		drop++
	}
	l.issued = append(l.issued[:0], l.issued[drop:]...)

	if len(l.issued) < l.limit {
		l.issued = append(l.issued, now)
		return 0, true
	}
	return l.issued[0].Add(l.window).Sub(now), false
}

// InWindow reports how many requests currently count against the cap.
func (l *SlidingWindow) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.clock.Now().Add(-l.window)
	n := 0
	for _, t := range l.issued {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
