package besteffort

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoReportsOutcome(t *testing.T) {
	g := New(Config{})

	ok := g.Go("ok", func(ctx context.Context) error { return nil })
	boom := errors.New("boom")
	bad := g.Go("bad", func(ctx context.Context) error { return boom })

	assert.NoError(t, <-ok)
	assert.ErrorIs(t, <-bad, boom)
}

func TestDroppedOutcomeDoesNotBlock(t *testing.T) {
	g := New(Config{})
	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		g.Go("drop", func(ctx context.Context) error {
			ran.Add(1)
			return errors.New("ignored")
		})
	}
	require.NoError(t, g.Wait(context.Background()))
	assert.Equal(t, int32(20), ran.Load())
}

func TestConcurrencyIsBounded(t *testing.T) {
	g := New(Config{MaxConcurrency: 2})
	var running, peak atomic.Int32
	for i := 0; i < 10; i++ {
		g.Go("slow", func(ctx context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	require.NoError(t, g.Wait(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestTaskDeadline(t *testing.T) {
	g := New(Config{Timeout: 10 * time.Millisecond})
	err := <-g.Go("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitHonoursContext(t *testing.T) {
	g := New(Config{Timeout: time.Second})
	release := make(chan struct{})
	g.Go("blocked", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, g.Wait(context.Background()))
}
