// internal/poller/runner.go
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/status"
)

// idleWait bounds a sleep when nothing at all is pending.
const idleWait = time.Minute

// Run is the arbiter loop. It is the only goroutine that touches the bus
// and returns after ctx ends: the in-flight transaction completes, queued
// requests fail with ErrClosed and the connection is closed.
func (a *Arbiter) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return errors.New("poller: arbiter already running")
	}
	defer a.shutdown()

	for {
		if ctx.Err() != nil {
			return nil
		}
		now := time.Now()
		a.applyAttachment(now)
		a.expire(now)

		if a.conn == nil {
			if now.Before(a.redialAt) {
				a.sleep(ctx, a.untilDeadline(now, a.redialAt.Sub(now)))
				continue
			}
			a.connect(ctx, now)
			continue
		}

		t, wait := a.next(now)
		if t == nil {
			a.sleep(ctx, wait)
			continue
		}
		a.dispatch(t)
	}
}

func (a *Arbiter) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-a.wake:
	case <-timer.C:
	}
}

// ---- connection ----

func (a *Arbiter) connect(ctx context.Context, now time.Time) {
	for _, c := range a.ctrls {
		if c.attached && c.state == status.Uninitialized {
			a.setState(c, status.Connecting)
		}
	}

	conn, err := a.dial(ctx)
	a.dials++
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		a.dialFails++
		a.obs.DialFailed(a.dialFails, err)
		a.redialAt = now.Add(a.cfg.ReconnectDelay)

		if a.dialFails >= a.cfg.MaxRetries {
			for _, c := range a.ctrls {
				if !c.attached || c.state == status.Backoff {
					continue
				}
				c.lastErr = err
				if c.errorSince.IsZero() {
					c.errorSince = now
				}
				a.exhaust(c, now)
			}
		}
		return
	}

	a.conn = conn
	a.obs.Connected(a.dials)
	a.dialFails = 0
}

// connectionLost tears the connection down and abandons the current cycle.
// The next loop iteration dials again before anything else is dispatched.
func (a *Arbiter) connectionLost(err error, now time.Time) {
	a.obs.ConnectionLost(err)
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	a.cycle = nil
	a.redialAt = now

	for _, c := range a.ctrls {
		if !c.attached || c.state == status.Backoff {
			continue
		}
		if a.cfg.RereadStaticOnReconnect {
			c.resetStatic()
		}
		a.setState(c, status.Connecting)
	}
}

// ---- scheduling ----

// next picks the task to dispatch: internal verify reads, then on-demand
// requests, then the head of each controller's scheduled work in
// round-robin order. With nothing eligible it returns how long to sleep.
func (a *Arbiter) next(now time.Time) (*task, time.Duration) {
	if len(a.urgent) > 0 {
		t := a.urgent[0]
		a.urgent = a.urgent[1:]
		return t, 0
	}
	if t := a.queue.pop(); t != nil {
		return t, 0
	}

	if len(a.cycle) == 0 && !now.Before(a.nextCycle) {
		a.buildCycle(now)
	}

	wait := idleWait
	seen := map[*ctrl]bool{}
	for i, t := range a.cycle {
		if seen[t.ctrl] {
			continue
		}
		seen[t.ctrl] = true

		at := t.notBefore
		if t.ctrl.nextAllowed.After(at) {
			at = t.ctrl.nextAllowed
		}
		if !at.After(now) {
			a.cycle = append(a.cycle[:i], a.cycle[i+1:]...)
			return t, 0
		}
		if d := at.Sub(now); d < wait {
			wait = d
		}
	}

	if len(a.cycle) == 0 {
		if d := a.nextCycle.Sub(now); d < wait {
			wait = d
		}
	}
	return nil, a.untilDeadline(now, wait)
}

// untilDeadline shortens wait so a queued request expires on time.
func (a *Arbiter) untilDeadline(now time.Time, wait time.Duration) time.Duration {
	if dl := a.queue.earliestDeadline(); !dl.IsZero() {
		if d := dl.Sub(now) + time.Millisecond; d < wait {
			return d
		}
	}
	return wait
}

// buildCycle lays out one round-robin sweep: controllers in configured
// order, each with its unread static groups first, then its dynamic groups.
func (a *Arbiter) buildCycle(now time.Time) {
	a.nextCycle = now.Add(a.cfg.MinPollPeriod)

	for _, c := range a.ctrls {
		if !c.attached {
			continue
		}
		if c.state == status.Backoff {
			if now.Before(c.backoffUntil) {
				continue
			}
			a.reconnecting(c)
		}
		for i, g := range c.static {
			if !c.staticDone[i] {
				a.cycle = append(a.cycle, &task{kind: taskPoll, ctrl: c, group: g})
			}
		}
		for _, g := range c.dynamic {
			a.cycle = append(a.cycle, &task{kind: taskPoll, ctrl: c, group: g})
		}
	}
}

func (a *Arbiter) dropScheduled(c *ctrl) {
	kept := a.cycle[:0]
	for _, t := range a.cycle {
		if t.ctrl != c {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(a.cycle); i++ {
		a.cycle[i] = nil
	}
	a.cycle = kept
}

func (a *Arbiter) expire(now time.Time) {
	for _, t := range a.queue.expire(now) {
		res := Result{RequestID: t.req.ID, Register: t.reg.Name, Err: ErrExpired, At: now}
		t.fut.resolve(res)
		a.obs.RequestDone(t.req, res, now.Sub(t.enqueued))
	}
}

func (a *Arbiter) shutdown() {
	now := time.Now()
	for _, t := range a.queue.close() {
		res := Result{RequestID: t.req.ID, Register: t.reg.Name, Err: ErrClosed, At: now}
		t.fut.resolve(res)
		a.obs.RequestDone(t.req, res, now.Sub(t.enqueued))
	}
	a.urgent = nil
	a.cycle = nil
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	a.setArbiterState(status.Idle)
	close(a.done)
}
