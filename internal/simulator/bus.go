// internal/simulator/bus.go
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/transport"
)

// Op is one transaction seen by the bus.
type Op struct {
	Write   bool
	Station uint8
	Addr    uint16
	Count   uint16
	Words   []uint16 // written words, or words returned by a read
	Err     error
	At      time.Time
}

type fault struct {
	err error
	n   int
}

// Bus is an in-memory PaSD bus: one register bank per station behind a
// single shared connection. It records every transaction and flags any
// two that overlap in time.
type Bus struct {
	mu       sync.Mutex
	banks    map[uint8]map[uint16]uint16
	ports    map[uint8]portBlock
	faults   map[uint8]*fault
	dialErrs []error
	ops      []Op
	gen      uint64
	dials    int
	latency  time.Duration
	onOp     func(Op)

	inflight atomic.Int32
	overlap  atomic.Bool
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		banks:  map[uint8]map[uint16]uint16{},
		ports:  map[uint8]portBlock{},
		faults: map[uint8]*fault{},
	}
}

// ---- fixture control ----

// Set stores words at addr on station.
func (b *Bus) Set(station uint8, addr uint16, words ...uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bank := b.bank(station)
	for i, w := range words {
		bank[addr+uint16(i)] = w
	}
}

// Get returns count words from station starting at addr.
func (b *Bus) Get(station uint8, addr, count uint16) []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(station, addr, count)
}

// SetLatency delays every transaction by d.
func (b *Bus) SetLatency(d time.Duration) {
	b.mu.Lock()
	b.latency = d
	b.mu.Unlock()
}

// FailNext makes the next n transactions addressed to station fail with err.
// A ConnectionLost failure also kills the current connection.
func (b *Bus) FailNext(station uint8, err error, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[station] = &fault{err: err, n: n}
}

// FailDial makes the next dial attempts fail, one error per attempt.
func (b *Bus) FailDial(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErrs = append(b.dialErrs, errs...)
}

// DropConnection kills the current connection. Its next call fails with
// ConnectionLost and every later call needs a fresh Dial.
func (b *Bus) DropConnection() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
}

// OnOp registers a hook called after every completed transaction.
func (b *Bus) OnOp(f func(Op)) {
	b.mu.Lock()
	b.onOp = f
	b.mu.Unlock()
}

// Ops returns a copy of the transaction log.
func (b *Bus) Ops() []Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Op, len(b.ops))
	copy(out, b.ops)
	return out
}

// Dials reports how many connections were opened.
func (b *Bus) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Overlapped reports whether two transactions were ever in flight together.
func (b *Bus) Overlapped() bool { return b.overlap.Load() }

// ---- transport ----

// Dial satisfies transport.Dial.
func (b *Bus) Dial(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.dialErrs) > 0 {
		err := b.dialErrs[0]
		b.dialErrs = b.dialErrs[1:]
		return nil, transport.Wrap("connect", 0, 0, err, nil)
	}
	b.gen++
	b.dials++
	return &conn{bus: b, gen: b.gen}, nil
}

type conn struct {
	bus    *Bus
	gen    uint64
	closed atomic.Bool
}

func (c *conn) Read(station uint8, addr, count uint16) ([]uint16, error) {
	op := Op{Station: station, Addr: addr, Count: count}
	err := c.bus.do(c, &op, func() {
		op.Words = c.bus.get(station, addr, count)
	})
	if err != nil {
		return nil, err
	}
	return op.Words, nil
}

func (c *conn) Write(station uint8, addr uint16, words []uint16) error {
	op := Op{Write: true, Station: station, Addr: addr, Count: uint16(len(words)), Words: append([]uint16(nil), words...)}
	return c.bus.do(c, &op, func() {
		c.bus.write(station, addr, words)
	})
}

func (c *conn) Close() error {
	c.closed.Store(true)
	return nil
}

func (b *Bus) do(c *conn, op *Op, apply func()) error {
	if b.inflight.Add(1) > 1 {
		b.overlap.Store(true)
	}
	defer b.inflight.Add(-1)

	b.mu.Lock()
	latency := b.latency
	b.mu.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}

	b.mu.Lock()
	op.At = time.Now()
	op.Err = b.check(c, op)
	if op.Err == nil {
		apply()
	}
	b.ops = append(b.ops, *op)
	hook := b.onOp
	b.mu.Unlock()

	if hook != nil {
		hook(*op)
	}
	return op.Err
}

func (b *Bus) check(c *conn, op *Op) error {
	name := "read"
	if op.Write {
		name = "write"
	}
	if c.closed.Load() || c.gen != b.gen {
		return &transport.Error{Kind: transport.ErrConnectionLost, Op: name, Station: op.Station, Addr: op.Addr,
			Err: errors.New("simulator: connection dropped")}
	}
	if f, ok := b.faults[op.Station]; ok && f.n > 0 {
		f.n--
		if errors.Is(f.err, transport.ErrConnectionLost) {
			b.gen++
		}
		return transport.Wrap(name, op.Station, op.Addr, f.err, nil)
	}
	if _, ok := b.banks[op.Station]; !ok {
		return &transport.Error{Kind: transport.ErrTimeout, Op: name, Station: op.Station, Addr: op.Addr,
			Err: fmt.Errorf("simulator: no station %d", op.Station)}
	}
	return nil
}

func (b *Bus) bank(station uint8) map[uint16]uint16 {
	bank, ok := b.banks[station]
	if !ok {
		bank = map[uint16]uint16{}
		b.banks[station] = bank
	}
	return bank
}

func (b *Bus) get(station uint8, addr, count uint16) []uint16 {
	bank := b.bank(station)
	out := make([]uint16, count)
	for i := range out {
		out[i] = bank[addr+uint16(i)]
	}
	return out
}

func (b *Bus) write(station uint8, addr uint16, words []uint16) {
	bank := b.bank(station)
	pb, hasPorts := b.ports[station]
	for i, w := range words {
		a := addr + uint16(i)
		if hasPorts && pb.contains(a) {
			bank[a] = mergePortWord(bank[a], w)
			continue
		}
		bank[a] = w
	}
}
