// Package typing drives a channel's "typing..." indicator for the duration
// of a gateway turn, since most chat platform APIs expire the indicator
// after a few seconds and expect it to be refreshed while work is ongoing.
package typing

import (
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// MaxDuration is a hard TTL after which the controller stops itself,
	// guarding against a turn that never calls Stop (backend hang, panic).
	MaxDuration time.Duration
	// KeepaliveInterval is how often StartFn is re-invoked to refresh the
	// platform's typing indicator before it expires.
	KeepaliveInterval time.Duration
	// StartFn sends one "typing" action. Errors are swallowed — a missed
	// keepalive tick is cosmetic, not worth failing the turn over.
	StartFn func() error
}

// Controller drives repeated typing-indicator refreshes on its own goroutine
// until Stop is called or MaxDuration elapses.
type Controller struct {
	stop chan struct{}
	once sync.Once
}

// New creates a Controller and starts refreshing immediately.
func New(opts Options) *Controller {
	c := &Controller{stop: make(chan struct{})}
	c.run(opts)
	return c
}

func (c *Controller) run(opts Options) {
	interval := opts.KeepaliveInterval
	if interval <= 0 {
		interval = 4 * time.Second
	}
	maxDuration := opts.MaxDuration
	if maxDuration <= 0 {
		maxDuration = 60 * time.Second
	}

	go func() {
		deadline := time.NewTimer(maxDuration)
		defer deadline.Stop()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if opts.StartFn != nil {
			_ = opts.StartFn()
		}

		for {
			select {
			case <-c.stop:
				return
			case <-deadline.C:
				return
			case <-ticker.C:
				if opts.StartFn != nil {
					_ = opts.StartFn()
				}
			}
		}
	}()
}

// Start is a no-op retained for call-site symmetry; the refresh loop begins
// inside New so the first indicator fires without an extra round trip.
func (c *Controller) Start() {}

// Stop ends the refresh loop. Safe to call multiple times.
func (c *Controller) Stop() {
	c.once.Do(func() {
		close(c.stop)
	})
}
