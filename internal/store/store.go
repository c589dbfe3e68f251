// internal/store/store.go
package store

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/codec"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/status"
)

var ErrUnknownController = errors.New("store: unknown controller")

// Quality tags how far a stored value can be trusted.
type Quality uint8

const (
	Invalid Quality = iota // never read, or last decode failed
	Valid
	Stale // controller unreachable or detached
)

func (q Quality) String() string {
	switch q {
	case Valid:
		return "VALID"
	case Stale:
		return "STALE"
	default:
		return "INVALID"
	}
}

func (q Quality) MarshalText() ([]byte, error) { return []byte(q.String()), nil }

// Value is one register entry.
type Value struct {
	Value   any       `json:"value"`
	Quality Quality   `json:"quality"`
	Updated time.Time `json:"updated"`
}

// View is an immutable snapshot of one controller.
// A View never observes part of a bulk update.
type View struct {
	Controller string
	Version    uint64
	entries    map[string]Value
}

// Get returns the entry for a canonical register name.
func (v *View) Get(name string) (Value, bool) {
	e, ok := v.entries[name]
	return e, ok
}

// Names lists the registers in the view, sorted.
func (v *View) Names() []string {
	out := make([]string, 0, len(v.entries))
	for n := range v.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (v *View) Len() int { return len(v.entries) }

// Map copies the view into a plain map.
func (v *View) Map() map[string]Value {
	out := make(map[string]Value, len(v.entries))
	for k, e := range v.entries {
		out[k] = e
	}
	return out
}

// ------------------------------------------------------------
// STORE
// ------------------------------------------------------------

type controller struct {
	id string

	// writer side; readers only touch the atomics
	wmu  sync.Mutex
	kind *registermap.ControllerKind

	view   atomic.Pointer[View]
	status atomic.Pointer[status.Snapshot]

	subMu sync.Mutex
	subs  map[*Subscription]struct{}
}

// Store holds the latest decoded state of every controller.
// Mutations are published copy-on-write; readers never block the writer.
type Store struct {
	mu          sync.RWMutex
	controllers map[string]*controller
}

// New returns an empty store.
func New() *Store {
	return &Store{controllers: map[string]*controller{}}
}

// Register adds a controller with every register INVALID.
// Registering an existing id rebinds it to kind: registers new to kind
// start INVALID, registers kind no longer has are dropped, the rest keep
// their value and quality.
func (s *Store) Register(id string, kind *registermap.ControllerKind) {
	s.mu.Lock()
	c, ok := s.controllers[id]
	if !ok {
		c = &controller{id: id, subs: map[*Subscription]struct{}{}}
		c.view.Store(&View{Controller: id, entries: map[string]Value{}})
		c.status.Store(&status.Snapshot{Controller: id, Attached: true})
		s.controllers[id] = c
	}
	s.mu.Unlock()

	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.kind = kind
	prev := c.view.Load()
	next := make(map[string]Value, len(kind.Registers))
	for _, r := range kind.Registers {
		if e, ok := prev.entries[r.Name]; ok {
			next[r.Name] = e
			continue
		}
		next[r.Name] = Value{Quality: Invalid}
	}
	c.publish(prev, next, time.Now())
}

// Controllers lists registered controller ids, sorted.
func (s *Store) Controllers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.controllers))
	for id := range s.controllers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) lookup(id string) (*controller, error) {
	s.mu.RLock()
	c, ok := s.controllers[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownController, id)
	}
	return c, nil
}

// Snapshot returns the current view of a controller.
func (s *Store) Snapshot(id string) (*View, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return c.view.Load(), nil
}

// ---- writer operations ----

// ApplyPoll upserts one decoded poll group atomically. Decoded values
// become VALID; names in invalid become INVALID and keep their last value.
func (s *Store) ApplyPoll(id string, values map[string]any, invalid []string, at time.Time) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()

	prev := c.view.Load()
	next := prev.Map()
	for name, v := range values {
		next[name] = Value{Value: v, Quality: Valid, Updated: at}
	}
	for _, name := range invalid {
		e := next[name]
		next[name] = Value{Value: e.Value, Quality: Invalid, Updated: at}
	}
	c.publish(prev, next, at)
	return nil
}

// MarkStale downgrades every VALID dynamic register of the controller.
// Static registers and INVALID registers are left alone.
func (s *Store) MarkStale(id string, at time.Time) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()

	prev := c.view.Load()
	next := prev.Map()
	for _, r := range c.kind.Dynamic() {
		e, ok := next[r.Name]
		if !ok || e.Quality != Valid {
			continue
		}
		e.Quality = Stale
		next[r.Name] = e
	}
	c.publish(prev, next, at)
	return nil
}

// ApplyWriteAck records an accepted write before the verify read confirms it.
// Quality is unchanged. Tri-state entries left Unset keep the previous element.
func (s *Store) ApplyWriteAck(id, register string, value any, at time.Time) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()

	prev := c.view.Load()
	e, ok := prev.entries[register]
	if !ok {
		return fmt.Errorf("store: %s has no register %q", id, register)
	}

	next := prev.Map()
	next[register] = Value{Value: mergeOptimistic(e.Value, value), Quality: e.Quality, Updated: at}
	c.publish(prev, next, at)
	return nil
}

func mergeOptimistic(prev, written any) any {
	states, ok := written.([]codec.TriState)
	if !ok {
		return written
	}
	old, _ := prev.([]codec.TriState)
	out := make([]codec.TriState, len(states))
	for i, s := range states {
		if s == codec.Unset && i < len(old) {
			out[i] = old[i]
			continue
		}
		out[i] = s
	}
	return out
}

// Kind returns the register map a controller is currently bound to.
func (s *Store) Kind(id string) (*registermap.ControllerKind, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.kind, nil
}

// ---- controller status ----

// SetStatus publishes the bus-side status of a controller.
func (s *Store) SetStatus(id string, st status.Snapshot) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	st.Controller = id
	c.status.Store(&st)
	return nil
}

// Status returns the last published status of a controller.
func (s *Store) Status(id string) (status.Snapshot, error) {
	c, err := s.lookup(id)
	if err != nil {
		return status.Snapshot{}, err
	}
	return *c.status.Load(), nil
}

// ---- publication ----

// publish swaps in the new view and fans out one event per changed register.
// Caller holds c.wmu.
func (c *controller) publish(prev *View, next map[string]Value, at time.Time) {
	view := &View{Controller: c.id, Version: prev.Version + 1, entries: next}
	c.view.Store(view)

	var changed []string
	for name, e := range next {
		old, ok := prev.entries[name]
		if !ok || old.Quality != e.Quality || !reflect.DeepEqual(old.Value, e.Value) {
			changed = append(changed, name)
		}
	}
	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for sub := range c.subs {
		for _, name := range changed {
			if sub.register != "" && sub.register != name {
				continue
			}
			sub.push(Event{
				Controller: c.id,
				Register:   name,
				Value:      next[name],
				Version:    view.Version,
				At:         at,
			})
		}
	}
}
