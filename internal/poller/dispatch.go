// internal/poller/dispatch.go
package poller

import (
	"errors"
	"time"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/codec"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/status"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/store"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/transport"
)

const revisionRegister = "modbus_register_map_revision"

// dispatch performs exactly one bus transaction and applies its outcome.
func (a *Arbiter) dispatch(t *task) {
	a.setArbiterState(status.Dispatching)
	c := t.ctrl

	if t.kind == taskPoll {
		c.nextAllowed = time.Now().Add(a.cfg.MinControllerInterval)
		if t.group.Static && (c.state == status.Connecting || c.state == status.Uninitialized) {
			a.setState(c, status.ReadingStatic)
		}
	}

	a.setArbiterState(status.AwaitingResult)
	start := time.Now()
	var (
		words []uint16
		err   error
	)
	if t.kind == taskOnDemand && t.req.Op == OpWrite {
		err = a.conn.Write(c.cfg.Station, t.reg.Address, t.words)
	} else {
		words, err = a.conn.Read(c.cfg.Station, t.group.Start, t.group.Count)
	}
	took := time.Since(start)
	a.setArbiterState(status.Idle)

	now := time.Now()
	switch t.kind {
	case taskOnDemand:
		a.finishRequest(t, words, err, took, now)
	default:
		a.finishPoll(t, words, err, took, now)
	}

	if errors.Is(err, transport.ErrConnectionLost) {
		a.connectionLost(err, now)
	}
}

// ---- scheduled and verify reads ----

func (a *Arbiter) finishPoll(t *task, words []uint16, err error, took time.Duration, now time.Time) {
	c := t.ctrl
	if err != nil {
		a.obs.PollFailed(&PollFailedError{
			Controller: c.cfg.ID,
			Group:      t.group.String(),
			Attempt:    t.attempt + 1,
			Err:        err,
		})
		if t.kind == taskVerify {
			return
		}
		// unclassified failures wait for the next cycle
		if a.failed(c, err, now) || !transport.Retryable(err) || errors.Is(err, transport.ErrConnectionLost) {
			return
		}
		retry := &task{
			kind:      taskPoll,
			ctrl:      c,
			group:     t.group,
			attempt:   t.attempt + 1,
			notBefore: now.Add(a.cfg.RetryDelay),
		}
		a.cycle = append([]*task{retry}, a.cycle...)
		return
	}

	a.apply(c, t.group, words, now)
	if t.kind == taskPoll {
		a.succeeded(c, now)
	}
	a.obs.PollSucceeded(c.cfg.ID, t.group, took)
}

// apply decodes a read block into the store. Registers that fail to
// decode are stored INVALID; the rest of the block is unaffected.
func (a *Arbiter) apply(c *ctrl, g *Group, words []uint16, now time.Time) codec.Decoded {
	d := codec.Decode(g.Start, g.Registers, words)

	var invalid []string
	for _, r := range g.Registers {
		if err, bad := d.Errors[r.Name]; bad {
			invalid = append(invalid, r.Name)
			a.obs.RegisterInvalid(c.cfg.ID, r.Name, err)
		}
	}
	_ = a.store.ApplyPoll(c.cfg.ID, d.Values, invalid, now)
	c.markStaticDone(g)

	if !c.revisionSeen {
		if v, ok := d.Values[revisionRegister].(int64); ok {
			a.resolveRevision(c, int(v))
		}
	}
	return d
}

// resolveRevision switches a controller to the register map matching the
// revision its firmware reports. Unknown revisions keep the configured map.
func (a *Arbiter) resolveRevision(c *ctrl, reported int) {
	c.revisionSeen = true
	cur := c.kind.Load()

	kind, err := a.catalog.Resolve(cur.Kind, reported)
	if err != nil {
		a.obs.RevisionResolved(c.cfg.ID, reported, cur.Revision, err)
		return
	}
	if kind.Revision == cur.Revision {
		a.obs.RevisionResolved(c.cfg.ID, reported, cur.Revision, nil)
		return
	}

	c.rebind(kind)
	a.store.Register(c.cfg.ID, kind)
	a.dropScheduled(c)

	// static groups already read under the previous map need no second read
	if view, err := a.store.Snapshot(c.cfg.ID); err == nil {
		for i, g := range c.static {
			done := true
			for _, r := range g.Registers {
				if e, ok := view.Get(r.Name); !ok || e.Quality != store.Valid {
					done = false
					break
				}
			}
			c.staticDone[i] = done
		}
	}
	a.obs.RevisionResolved(c.cfg.ID, reported, kind.Revision, nil)
	a.publishStatus(c)
}

// ---- on-demand requests ----

func (a *Arbiter) finishRequest(t *task, words []uint16, err error, took time.Duration, now time.Time) {
	c := t.ctrl
	res := Result{RequestID: t.req.ID, Register: t.reg.Name, At: now}

	switch {
	case err != nil:
		res.Err = err

	case t.req.Op == OpWrite:
		v, derr := codec.DecodeRegister(t.reg, t.words)
		if derr != nil {
			v = t.req.Value
		}
		_ = a.store.ApplyWriteAck(c.cfg.ID, t.reg.Name, v, now)
		res.Value = v
		a.urgent = append(a.urgent, &task{kind: taskVerify, ctrl: c, group: rangeGroup(c.kind.Load(), t.reg)})

	default:
		d := a.apply(c, t.group, words, now)
		if derr, bad := d.Errors[t.reg.Name]; bad {
			res.Err = derr
		} else {
			res.Value = d.Values[t.reg.Name]
		}
	}

	t.fut.resolve(res)
	a.obs.RequestDone(t.req, res, took)
	a.obs.QueueDepth(a.queue.len())
}
