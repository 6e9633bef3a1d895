package controller

import (
	"context"
	"log/slog"
)

type request struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// Run serializes every controller operation on the calling goroutine until
// ctx is done: requests submitted through Do, and a liveness Poll every poll
// interval. Run must be called once.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.stopped)
	ticker := c.clock.NewTicker(c.cfg.PollInterval.Std())
	defer ticker.Stop()

	slog.Debug("controller: loop started", "poll", c.cfg.PollInterval.Std())
	for {
		select {
		case <-ctx.Done():
			slog.Debug("controller: loop stopped")
			return ctx.Err()
		case req := <-c.reqs:
			req.fn(ctx)
			close(req.done)
		case <-ticker.C():
			c.Poll(ctx)
		}
	}
}

// Do runs fn on the loop goroutine and waits for it to return. fn receives
// the loop's context and may call any Controller method.
func (c *Controller) Do(ctx context.Context, fn func(ctx context.Context)) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case c.reqs <- req:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
