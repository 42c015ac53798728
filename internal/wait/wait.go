// Package wait holds the bounded suspension points used by the interaction
// engine: fixed pauses, poll loops, one-shot mutation watches, and a race of
// the last two. Every wait has a hard timeout and honors ctx.
package wait

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// Condition is re-evaluated against fresh page state on every call.
type Condition func(ctx context.Context) bool

// Observer is the mutation-watch half of dom.Page.
type Observer interface {
	Observe(ctx context.Context) (<-chan struct{}, func(), error)
}

var errSatisfied = errors.New("condition satisfied")

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poll checks cond immediately and then every step until it holds or
// timeout elapses.
func Poll(ctx context.Context, cond Condition, timeout, step time.Duration) bool {
	if step <= 0 {
		step = 20 * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return false
		}
		if cond(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}

// Watch installs a mutation watch and resolves as soon as cond holds after a
// mutation, or false at timeout. It does not check cond before the first
// mutation. A page that cannot be observed yields false right away.
func Watch(ctx context.Context, obs Observer, cond Condition, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	signals, stop, err := obs.Observe(ctx)
	if err != nil {
		return false
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-signals:
			if cond(ctx) {
				return true
			}
		}
	}
}

// For races Poll against Watch; the first to see cond wins and cancels the
// other. Both goroutines have exited when For returns.
func For(ctx context.Context, obs Observer, cond Condition, timeout, step time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if Poll(gctx, cond, timeout, step) {
			return errSatisfied
		}
		return nil
	})
	g.Go(func() error {
		if Watch(gctx, obs, cond, timeout) {
			return errSatisfied
		}
		return nil
	})
	return errors.Is(g.Wait(), errSatisfied)
}
