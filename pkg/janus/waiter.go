package janus

import (
	"context"
	"time"
)

// eventWaiter converts the asynchronous long-poll transport into a
// request/response call: the first inbound event matching the predicate
// resolves the waiter exactly once.
type eventWaiter struct {
	match    func(*Event) bool
	ch       chan *Event
	resolved bool
}

// addWaiter registers a waiter. Waiters are matched in registration order.
func (c *Client) addWaiter(match func(*Event) bool) *eventWaiter {
	w := &eventWaiter{
		match: match,
		ch:    make(chan *Event, 1),
	}
	c.waiterMu.Lock()
	c.waiters = append(c.waiters, w)
	c.waiterMu.Unlock()
	return w
}

// removeWaiter unregisters a waiter. Reports whether the waiter had
// already been resolved, in which case its event is sitting in the channel.
func (c *Client) removeWaiter(w *eventWaiter) bool {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()
	for i, cand := range c.waiters {
		if cand == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
	return w.resolved
}

// dispatchToWaiter offers an event to the first matching pending waiter.
// Events matching no predicate are dropped without touching any waiter.
func (c *Client) dispatchToWaiter(ev *Event) bool {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()
	for i, w := range c.waiters {
		if w.match(ev) {
			w.resolved = true
			w.ch <- ev
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// waitForEvent blocks until an event matching the predicate arrives, the
// timeout elapses, or the context is cancelled. A waiter that never matches
// rejects exactly once with a TimeoutError and is removed from the pending set.
func (c *Client) waitForEvent(ctx context.Context, op string, timeout time.Duration, match func(*Event) bool) (*Event, error) {
	return c.waitOn(ctx, op, timeout, c.addWaiter(match))
}

// waitOn blocks on an already registered waiter. Callers that must not miss
// an event arriving while a request is still in flight register the waiter
// first, send, then wait here.
func (c *Client) waitOn(ctx context.Context, op string, timeout time.Duration, w *eventWaiter) (*Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-timer.C:
		if c.removeWaiter(w) {
			// Resolved concurrently with the timer firing.
			return <-w.ch, nil
		}
		return nil, &TimeoutError{Op: op, Timeout: timeout}
	case <-ctx.Done():
		if c.removeWaiter(w) {
			return <-w.ch, nil
		}
		return nil, ctx.Err()
	}
}
