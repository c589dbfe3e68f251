// internal/poller/types.go
package poller

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
)

// Config is the runtime config the arbiter needs.
type Config struct {
	MinPollPeriod         time.Duration // full round-robin sweep restarts no sooner than this
	MinControllerInterval time.Duration // gap between two scheduled polls of one controller
	MaxRetries            int           // consecutive failed attempts before STALE
	RetryDelay            time.Duration
	ReconnectDelay        time.Duration
	QueueSize             int
	FailFast              bool // full queue: ErrBusy instead of blocking

	RereadStaticOnReconnect bool

	Controllers []Controller
	Attached    []string // nil: every controller
}

// Controller is one physical unit on the bus.
type Controller struct {
	ID       string
	Kind     registermap.Kind
	Station  uint8
	Port     int // hub port feeding this controller, 0 if none
	Revision int // 0: read modbus_register_map_revision and resolve
}

// Op is the bus operation a Request performs.
type Op int

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

// Request is a unit of on-demand bus work.
type Request struct {
	ID         uuid.UUID // assigned by Submit when zero
	Controller string
	Op         Op
	Register   string // canonical name or alias
	Value      any    // write payload
	Deadline   time.Time
}

// Result is the outcome of one executed Request.
type Result struct {
	RequestID uuid.UUID
	Register  string // canonical name
	Value     any    // decoded value for reads, accepted value for writes
	Err       error
	At        time.Time
}

// Future resolves exactly once with the Request's Result.
type Future struct {
	done chan struct{}
	res  Result
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func (f *Future) resolve(r Result) {
	f.res = r
	close(f.done)
}

// Done is closed when the Result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the Result is available or ctx ends.
// The returned error is the Result's error.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, f.res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
