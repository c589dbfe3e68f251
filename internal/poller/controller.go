// internal/poller/controller.go
package poller

import (
	"sync/atomic"
	"time"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/status"
)

// ctrl is the arbiter's private record of one controller.
// Every field except kind is owned by the arbiter goroutine.
type ctrl struct {
	cfg  Controller
	kind atomic.Pointer[registermap.ControllerKind]

	static     []*Group
	dynamic    []*Group
	staticDone []bool

	state        status.ControllerState
	attached     bool
	failures     int
	backoffUntil time.Time
	nextAllowed  time.Time
	revisionSeen bool

	lastErr     error
	errorSince  time.Time
	lastSuccess time.Time
}

func newCtrl(cfg Controller, kind *registermap.ControllerKind, attached bool) *ctrl {
	c := &ctrl{cfg: cfg, attached: attached, revisionSeen: cfg.Revision != 0}
	c.rebind(kind)
	return c
}

// rebind switches the controller to another resolved register map.
// Static groups are read again under the new map.
func (c *ctrl) rebind(kind *registermap.ControllerKind) {
	c.kind.Store(kind)
	c.static, c.dynamic = buildGroups(kind)
	c.staticDone = make([]bool, len(c.static))
}

func (c *ctrl) staticPending() bool {
	for _, done := range c.staticDone {
		if !done {
			return true
		}
	}
	return false
}

func (c *ctrl) markStaticDone(g *Group) {
	for i, s := range c.static {
		if s == g {
			c.staticDone[i] = true
		}
	}
}

func (c *ctrl) resetStatic() {
	for i := range c.staticDone {
		c.staticDone[i] = false
	}
}

func (c *ctrl) snapshot() status.Snapshot {
	s := status.Snapshot{
		Controller:          c.cfg.ID,
		State:               c.state,
		Attached:            c.attached,
		Revision:            c.kind.Load().Revision,
		ConsecutiveFailures: c.failures,
		ErrorSince:          c.errorSince,
		LastSuccess:         c.lastSuccess,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// ---- transitions ----

func (a *Arbiter) setState(c *ctrl, to status.ControllerState) {
	if c.state == to {
		a.publishStatus(c)
		return
	}
	from := c.state
	c.state = to
	a.obs.StateChanged(c.cfg.ID, from, to)
	a.publishStatus(c)
}

func (a *Arbiter) publishStatus(c *ctrl) {
	_ = a.store.SetStatus(c.cfg.ID, c.snapshot())
}

func (a *Arbiter) succeeded(c *ctrl, now time.Time) {
	c.failures = 0
	c.lastErr = nil
	c.errorSince = time.Time{}
	c.lastSuccess = now
	if c.staticPending() {
		a.setState(c, status.ReadingStatic)
		return
	}
	a.setState(c, status.Polling)
}

// failed records one failed scheduled attempt and reports whether the
// controller has exhausted its retries.
func (a *Arbiter) failed(c *ctrl, err error, now time.Time) bool {
	c.failures++
	c.lastErr = err
	if c.errorSince.IsZero() {
		c.errorSince = now
	}
	if c.failures < a.cfg.MaxRetries {
		a.setState(c, status.Error)
		return false
	}
	a.exhaust(c, now)
	return true
}

// exhaust marks the controller STALE and parks it for ReconnectDelay.
func (a *Arbiter) exhaust(c *ctrl, now time.Time) {
	_ = a.store.MarkStale(c.cfg.ID, now)
	c.backoffUntil = now.Add(a.cfg.ReconnectDelay)
	a.dropScheduled(c)
	a.setState(c, status.Backoff)
}

// reconnecting moves a controller back to CONNECTING for a fresh round of attempts.
func (a *Arbiter) reconnecting(c *ctrl) {
	c.failures = 0
	c.backoffUntil = time.Time{}
	if a.cfg.RereadStaticOnReconnect {
		c.resetStatic()
	}
	a.setState(c, status.Connecting)
}
