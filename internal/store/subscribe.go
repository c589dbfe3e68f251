// internal/store/subscribe.go
package store

import (
	"fmt"
	"sync"
	"time"
)

// Event reports one register whose value or quality changed.
type Event struct {
	Controller string
	Register   string
	Value      Value
	Version    uint64
	At         time.Time
}

// Subscription is a change stream for one controller.
// Events arrive in detection order; the stream ends only when closed.
// A slow reader never stalls the writer: pending events queue up.
type Subscription struct {
	C <-chan Event

	register string
	out      chan Event
	ctrl     *controller

	mu      sync.Mutex
	pending []Event
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Subscribe opens a change stream for one register of a controller, or for
// every register when register is empty. The current snapshot is the
// baseline: no event is emitted for it.
func (s *Store) Subscribe(id, register string) (*Subscription, error) {
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if register != "" {
		if _, ok := c.view.Load().entries[register]; !ok {
			return nil, fmt.Errorf("store: %s has no register %q", id, register)
		}
	}

	out := make(chan Event)
	sub := &Subscription{
		C:        out,
		register: register,
		out:      out,
		ctrl:     c,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	c.subMu.Lock()
	c.subs[sub] = struct{}{}
	c.subMu.Unlock()

	go sub.pump()
	return sub, nil
}

// Close ends the stream. C is closed once the pump exits.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.ctrl.subMu.Lock()
		delete(sub.ctrl.subs, sub)
		sub.ctrl.subMu.Unlock()
		close(sub.done)
	})
}

// Register is the canonical register the stream follows, "" for all.
func (sub *Subscription) Register() string { return sub.register }

func (sub *Subscription) push(e Event) {
	sub.mu.Lock()
	sub.pending = append(sub.pending, e)
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *Subscription) pump() {
	defer close(sub.out)
	for {
		sub.mu.Lock()
		var next *Event
		if len(sub.pending) > 0 {
			e := sub.pending[0]
			sub.pending = sub.pending[1:]
			next = &e
		}
		sub.mu.Unlock()

		if next == nil {
			select {
			case <-sub.wake:
				continue
			case <-sub.done:
				return
			}
		}

		select {
		case sub.out <- *next:
		case <-sub.done:
			return
		}
	}
}
