// internal/transport/transport.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
)

// Conn is one open bus connection.
// It does not serialize callers: exactly one Read or Write may be
// outstanding at a time, and a second concurrent call fails with
// ErrConcurrentUse instead of interleaving frames.
type Conn interface {
	Read(station uint8, addr, count uint16) ([]uint16, error)
	Write(station uint8, addr uint16, words []uint16) error
	Close() error
}

// Dial opens a fresh Conn. The arbiter calls it on start-up and after
// every ConnectionLost.
type Dial func(ctx context.Context) (Conn, error)

var (
	ErrTimeout           = errors.New("transport: timeout")
	ErrMalformedResponse = errors.New("transport: malformed response")
	ErrConnectionLost    = errors.New("transport: connection lost")
	ErrConcurrentUse     = errors.New("transport: concurrent use of connection")
)

// Error is a classified transport failure.
type Error struct {
	Kind    error // one of the sentinels above
	Op      string
	Station uint8
	Addr    uint16
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s station=%d addr=%d", e.Kind, e.Op, e.Station, e.Addr)
	}
	return fmt.Sprintf("%v: %s station=%d addr=%d: %v", e.Kind, e.Op, e.Station, e.Addr, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether err is one of the transport failures the
// arbiter retries.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrConnectionLost)
}

// Wrap classifies err into the transport taxonomy.
// Already-classified errors pass through unchanged.
func Wrap(op string, station uint8, addr uint16, err error, malformed func(error) bool) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Kind: Classify(err, malformed), Op: op, Station: station, Addr: addr, Err: err}
}

// Classify maps a raw error onto Timeout, MalformedResponse or ConnectionLost.
// malformed lets a protocol implementation recognise its own framing errors.
func Classify(err error, malformed func(error) bool) error {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, ErrMalformedResponse):
		return ErrMalformedResponse
	case errors.Is(err, ErrConnectionLost):
		return ErrConnectionLost
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	if malformed != nil && malformed(err) {
		return ErrMalformedResponse
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
		return ErrConnectionLost
	}
	if ne != nil {
		return ErrConnectionLost
	}
	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return ErrTimeout
	}
	return ErrConnectionLost
}

// Guard detects overlapping calls on a Conn.
type Guard struct {
	busy atomic.Bool
}

// Enter marks a call in flight. It fails when another call already is.
func (g *Guard) Enter() error {
	if !g.busy.CompareAndSwap(false, true) {
		return ErrConcurrentUse
	}
	return nil
}

func (g *Guard) Leave() { g.busy.Store(false) }
