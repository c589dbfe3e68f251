// internal/poller/arbiter.go
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/codec"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/status"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/store"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/transport"
)

type taskKind int

const (
	taskPoll     taskKind = iota // scheduled group read
	taskVerify                   // read-back after a write
	taskOnDemand                 // external Request
)

// task is one bus transaction waiting for dispatch.
type task struct {
	kind      taskKind
	ctrl      *ctrl
	group     *Group
	attempt   int
	notBefore time.Time

	// on-demand only
	req      Request
	reg      *registermap.Register
	words    []uint16
	fut      *Future
	enqueued time.Time
}

// Arbiter owns the bus. A single goroutine (Run) performs every transport
// call; everything else talks to it through the request queue and the
// attachment table.
type Arbiter struct {
	cfg     Config
	catalog *registermap.Catalog
	dial    transport.Dial
	store   *store.Store
	obs     Observer

	ctrls []*ctrl
	byID  map[string]*ctrl

	wake  chan struct{}
	queue *queue

	attachMu sync.Mutex
	attachTo map[string]bool // desired attachment, applied by the arbiter goroutine

	state   atomic.Uint32
	running atomic.Bool
	done    chan struct{}

	// arbiter goroutine only
	conn      transport.Conn
	dials     int
	dialFails int
	redialAt  time.Time
	urgent    []*task
	cycle     []*task
	nextCycle time.Time
}

// New creates an arbiter with immutable config. Every controller is
// registered in st with all registers INVALID.
func New(cfg Config, cat *registermap.Catalog, dial transport.Dial, st *store.Store, obs Observer) (*Arbiter, error) {
	if cat == nil || dial == nil || st == nil {
		return nil, errors.New("poller: catalog, dial and store required")
	}
	if len(cfg.Controllers) == 0 {
		return nil, errors.New("poller: at least one controller required")
	}
	if cfg.MaxRetries < 1 {
		return nil, errors.New("poller: max retries must be >= 1")
	}
	if cfg.QueueSize < 1 {
		return nil, errors.New("poller: queue size must be >= 1")
	}
	if cfg.MinPollPeriod <= 0 {
		return nil, errors.New("poller: min poll period must be > 0")
	}
	if cfg.MinControllerInterval < 0 || cfg.RetryDelay < 0 || cfg.ReconnectDelay < 0 {
		return nil, errors.New("poller: timings must be >= 0")
	}
	if obs == nil {
		obs = NopObserver{}
	}

	a := &Arbiter{
		cfg:      cfg,
		catalog:  cat,
		dial:     dial,
		store:    st,
		obs:      obs,
		byID:     map[string]*ctrl{},
		wake:     make(chan struct{}, 1),
		attachTo: map[string]bool{},
		done:     make(chan struct{}),
	}
	a.queue = newQueue(cfg.QueueSize, a.wake)

	stations := map[uint8]string{}
	attached := map[string]bool{}
	for _, id := range cfg.Attached {
		attached[id] = true
	}

	for _, cc := range cfg.Controllers {
		if cc.ID == "" {
			return nil, errors.New("poller: controller id required")
		}
		if _, dup := a.byID[cc.ID]; dup {
			return nil, fmt.Errorf("poller: duplicate controller id %q", cc.ID)
		}
		kind, err := cat.Resolve(cc.Kind, cc.Revision)
		if err != nil {
			return nil, fmt.Errorf("poller: controller %q: %w", cc.ID, err)
		}
		if cc.Station == 0 {
			cc.Station = kind.Station
		}
		if prev, dup := stations[cc.Station]; dup {
			return nil, fmt.Errorf("poller: controller %q: station %d already used by %q", cc.ID, cc.Station, prev)
		}
		stations[cc.Station] = cc.ID
		on := cfg.Attached == nil || attached[cc.ID]
		c := newCtrl(cc, kind, on)
		a.ctrls = append(a.ctrls, c)
		a.byID[cc.ID] = c
		a.attachTo[cc.ID] = on
		st.Register(cc.ID, kind)
		a.publishStatus(c)
	}
	for id := range attached {
		if _, ok := a.byID[id]; !ok {
			return nil, fmt.Errorf("%w: attached id %q", ErrUnknownController, id)
		}
	}

	return a, nil
}

// Submit validates req and queues it for dispatch.
// Programming errors (unknown controller or register, read-only target,
// unencodable value) are rejected here; bus failures arrive on the Future.
func (a *Arbiter) Submit(ctx context.Context, req Request) (*Future, error) {
	select {
	case <-a.done:
		return nil, ErrClosed
	default:
	}

	c, ok := a.byID[req.Controller]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownController, req.Controller)
	}
	kind := c.kind.Load()
	reg, ok := kind.Lookup(req.Register)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownRegister, req.Controller, req.Register)
	}

	t := &task{kind: taskOnDemand, ctrl: c, reg: reg, fut: newFuture(), enqueued: time.Now()}

	switch req.Op {
	case OpRead:
		t.group = rangeGroup(kind, reg)
	case OpWrite:
		if !reg.Writable {
			return nil, fmt.Errorf("%w: %s.%s", ErrNotWritable, req.Controller, reg.Name)
		}
		words, err := codec.Encode(reg, req.Value)
		if err != nil {
			return nil, err
		}
		t.words = words
	default:
		return nil, fmt.Errorf("poller: unknown op %d", req.Op)
	}

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Deadline.IsZero() {
		if d, ok := ctx.Deadline(); ok {
			req.Deadline = d
		}
	}
	t.req = req

	if err := a.queue.push(ctx, t, a.cfg.FailFast); err != nil {
		return nil, err
	}
	a.obs.QueueDepth(a.queue.len())
	return t.fut, nil
}

// State reports the global dispatch state.
func (a *Arbiter) State() status.ArbiterState {
	return status.ArbiterState(a.state.Load())
}

func (a *Arbiter) setArbiterState(s status.ArbiterState) {
	a.state.Store(uint32(s))
}

// Snapshot returns the current state view of a controller.
func (a *Arbiter) Snapshot(controller string) (*store.View, error) {
	return a.store.Snapshot(controller)
}

// Subscribe opens a change stream on a controller register ("" for all).
// Aliases resolve to the canonical register.
func (a *Arbiter) Subscribe(controller, register string) (*store.Subscription, error) {
	if register != "" {
		c, ok := a.byID[controller]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownController, controller)
		}
		r, ok := c.kind.Load().Lookup(register)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownRegister, controller, register)
		}
		register = r.Name
	}
	return a.store.Subscribe(controller, register)
}

// Controllers lists controller ids in polling order.
func (a *Arbiter) Controllers() []string {
	out := make([]string, len(a.ctrls))
	for i, c := range a.ctrls {
		out[i] = c.cfg.ID
	}
	return out
}

// Kind returns the register map a controller is currently polled with.
func (a *Arbiter) Kind(controller string) (*registermap.ControllerKind, error) {
	c, ok := a.byID[controller]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownController, controller)
	}
	return c.kind.Load(), nil
}

// Done is closed once Run has returned and the connection is closed.
func (a *Arbiter) Done() <-chan struct{} { return a.done }

func (a *Arbiter) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}
