// Package besteffort runs follow-up work whose failure must never reach the caller
// that triggered it: archive copies, stream publication, chain anchors.
package besteffort

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Defaults applied when Config fields are zero.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxConcurrency = 8
)

// Config bounds background work.
type Config struct {
	// Timeout is the per-task deadline.
	Timeout time.Duration
	// MaxConcurrency bounds tasks running at once; extra tasks wait for a slot
	// in their own goroutine, never in the caller.
	MaxConcurrency int
}

// Group launches detached tasks and lets shutdown wait for them.
type Group struct {
	cfg Config
	sem chan struct{}
	wg  sync.WaitGroup
}

// New returns a Group. Zero config fields take the defaults.
func New(cfg Config) *Group {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Group{cfg: cfg, sem: make(chan struct{}, cfg.MaxConcurrency)}
}

// Go runs fn in the background with a fresh deadline detached from any request
// context. The returned channel receives fn's error (nil on success) and is
// buffered, so callers may drop it.
func (g *Group) Go(name string, fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.sem <- struct{}{}
		defer func() { <-g.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Timeout)
		defer cancel()

		err := fn(ctx)
		if err != nil {
			log.Warn().Err(err).Str("task", name).Msg("besteffort.Group: task failed")
		}
		done <- err
	}()
	return done
}

// Wait blocks until every task started so far has finished or ctx ends.
func (g *Group) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
