// internal/poller/attach.go
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/store"
)

// SetAttached marks a controller as physically present (or not).
// Detached controllers get no scheduled polls and their dynamic values go
// STALE; explicit requests still reach them.
func (a *Arbiter) SetAttached(controller string, on bool) error {
	if _, ok := a.byID[controller]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownController, controller)
	}
	a.attachMu.Lock()
	a.attachTo[controller] = on
	a.attachMu.Unlock()
	a.signal()
	return nil
}

// SetAttachedPorts derives attachment from hub port power: a controller
// fed from port n is attached while powered[n-1] is true. Controllers
// without a port keep their current setting.
func (a *Arbiter) SetAttachedPorts(powered []bool) {
	a.attachMu.Lock()
	for _, c := range a.ctrls {
		p := c.cfg.Port
		if p < 1 || p > len(powered) {
			continue
		}
		a.attachTo[c.cfg.ID] = powered[p-1]
	}
	a.attachMu.Unlock()
	a.signal()
}

// Attached reports the requested attachment of a controller.
func (a *Arbiter) Attached(controller string) (bool, error) {
	if _, ok := a.byID[controller]; !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownController, controller)
	}
	a.attachMu.Lock()
	defer a.attachMu.Unlock()
	return a.attachTo[controller], nil
}

// applyAttachment brings the arbiter's view in line with the requested table.
func (a *Arbiter) applyAttachment(now time.Time) {
	a.attachMu.Lock()
	want := make(map[string]bool, len(a.attachTo))
	for id, on := range a.attachTo {
		want[id] = on
	}
	a.attachMu.Unlock()

	for _, c := range a.ctrls {
		on := want[c.cfg.ID]
		if on == c.attached {
			continue
		}
		c.attached = on
		if !on {
			a.dropScheduled(c)
			_ = a.store.MarkStale(c.cfg.ID, now)
			a.publishStatus(c)
			continue
		}
		a.reconnecting(c)
	}
}

// FollowPortPower keeps attachment in step with a hub's per-port power
// register until ctx ends.
func FollowPortPower(ctx context.Context, a *Arbiter, hub, register string) error {
	sub, err := a.Subscribe(hub, register)
	if err != nil {
		return err
	}
	defer sub.Close()

	if view, err := a.Snapshot(hub); err == nil {
		if e, ok := view.Get(sub.Register()); ok && e.Quality == store.Valid {
			if powered, ok := e.Value.([]bool); ok {
				a.SetAttachedPorts(powered)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if ev.Value.Quality != store.Valid {
				continue
			}
			if powered, ok := ev.Value.Value.([]bool); ok {
				a.SetAttachedPorts(powered)
			}
		}
	}
}
