//go:build !integration

package worker

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestPool(t *testing.T) {
	t.Run("should run submitted tasks", func(t *testing.T) {
		p := NewPool(2, 4, newTestLogger())
		p.Start(context.Background())
		defer p.Stop()

		var n atomic.Int32
		done := make(chan struct{}, 3)
		for i := 0; i < 3; i++ {
			require.NoError(t, p.Submit(func(context.Context) error {
				n.Add(1)
				done <- struct{}{}
				return errors.New("ignored")
			}))
		}
		for i := 0; i < 3; i++ {
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("task did not run")
			}
		}
		assert.EqualValues(t, 3, n.Load())
	})

	t.Run("should refuse work when saturated", func(t *testing.T) {
		p := NewPool(1, 0, newTestLogger())
		release := make(chan struct{})
		started := make(chan struct{})
		p.Start(context.Background())
		defer func() {
			close(release)
			p.Stop()
		}()

		require.Eventually(t, func() bool {
			return p.Submit(func(context.Context) error {
				close(started)
				<-release
				return nil
			}) == nil
		}, time.Second, 5*time.Millisecond)
		<-started

		assert.ErrorIs(t, p.Submit(func(context.Context) error { return nil }), ErrQueueFull)
	})

	t.Run("should reject a nil task", func(t *testing.T) {
		p := NewPool(1, 1, newTestLogger())
		assert.Error(t, p.Submit(nil))
	})

	t.Run("should tolerate a double stop", func(t *testing.T) {
		p := NewPool(1, 1, newTestLogger())
		p.Start(context.Background())
		p.Stop()
		p.Stop()
	})
}
