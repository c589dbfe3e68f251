// internal/poller/observer.go
package poller

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/status"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/transport"
)

// Observer receives non-fatal arbiter events. Calls are made from the
// arbiter goroutine and must not block.
type Observer interface {
	PollSucceeded(controller string, g *Group, took time.Duration)
	PollFailed(err *PollFailedError)
	RegisterInvalid(controller, register string, err error)
	StateChanged(controller string, from, to status.ControllerState)
	ConnectionLost(err error)
	DialFailed(attempt int, err error)
	Connected(attempt int)
	RequestDone(req Request, res Result, took time.Duration)
	QueueDepth(n int)
	RevisionResolved(controller string, reported, used int, err error)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) PollSucceeded(string, *Group, time.Duration)                         {}
func (NopObserver) PollFailed(*PollFailedError)                                         {}
func (NopObserver) RegisterInvalid(string, string, error)                               {}
func (NopObserver) StateChanged(string, status.ControllerState, status.ControllerState) {}
func (NopObserver) ConnectionLost(error)                                                {}
func (NopObserver) DialFailed(int, error)                                               {}
func (NopObserver) Connected(int)                                                       {}
func (NopObserver) RequestDone(Request, Result, time.Duration)                          {}
func (NopObserver) QueueDepth(int)                                                      {}
func (NopObserver) RevisionResolved(string, int, int, error)                            {}

// Observers fans every event out to each member in order.
type Observers []Observer

func (o Observers) PollSucceeded(c string, g *Group, d time.Duration) {
	for _, x := range o {
		x.PollSucceeded(c, g, d)
	}
}

func (o Observers) PollFailed(err *PollFailedError) {
	for _, x := range o {
		x.PollFailed(err)
	}
}

func (o Observers) RegisterInvalid(c, r string, err error) {
	for _, x := range o {
		x.RegisterInvalid(c, r, err)
	}
}

func (o Observers) StateChanged(c string, from, to status.ControllerState) {
	for _, x := range o {
		x.StateChanged(c, from, to)
	}
}

func (o Observers) ConnectionLost(err error) {
	for _, x := range o {
		x.ConnectionLost(err)
	}
}

func (o Observers) DialFailed(n int, err error) {
	for _, x := range o {
		x.DialFailed(n, err)
	}
}

func (o Observers) Connected(n int) {
	for _, x := range o {
		x.Connected(n)
	}
}

func (o Observers) RequestDone(req Request, res Result, d time.Duration) {
	for _, x := range o {
		x.RequestDone(req, res, d)
	}
}

func (o Observers) QueueDepth(n int) {
	for _, x := range o {
		x.QueueDepth(n)
	}
}

func (o Observers) RevisionResolved(c string, reported, used int, err error) {
	for _, x := range o {
		x.RevisionResolved(c, reported, used, err)
	}
}

// ------------------------------------------------------------
// LOG OBSERVER
// ------------------------------------------------------------

// LogObserver writes arbiter events to a zerolog logger.
type LogObserver struct {
	NopObserver
	Log zerolog.Logger
}

// NewLogObserver derives a component logger for the arbiter.
func NewLogObserver(l zerolog.Logger) *LogObserver {
	return &LogObserver{Log: l.With().Str("component", "arbiter").Logger()}
}

func (o *LogObserver) PollSucceeded(c string, g *Group, d time.Duration) {
	o.Log.Trace().Str("controller", c).Stringer("group", g).Dur("took", d).Msg("poll ok")
}

func (o *LogObserver) PollFailed(err *PollFailedError) {
	o.Log.Warn().
		Str("controller", err.Controller).
		Str("group", err.Group).
		Int("attempt", err.Attempt).
		Bool("retryable", transport.Retryable(err.Err)).
		Err(err.Err).
		Msg("poll failed")
}

func (o *LogObserver) RegisterInvalid(c, r string, err error) {
	o.Log.Warn().Str("controller", c).Str("register", r).Err(err).Msg("register decode failed")
}

func (o *LogObserver) StateChanged(c string, from, to status.ControllerState) {
	o.Log.Info().Str("controller", c).Stringer("from", from).Stringer("to", to).Msg("controller state")
}

func (o *LogObserver) ConnectionLost(err error) {
	o.Log.Warn().Err(err).Msg("bus connection lost")
}

func (o *LogObserver) DialFailed(n int, err error) {
	o.Log.Warn().Int("attempt", n).Err(err).Msg("bus connect failed")
}

func (o *LogObserver) Connected(n int) {
	o.Log.Info().Int("attempt", n).Msg("bus connected")
}

func (o *LogObserver) RequestDone(req Request, res Result, d time.Duration) {
	ev := o.Log.Debug()
	if res.Err != nil {
		ev = o.Log.Warn().Err(res.Err)
	}
	ev.Stringer("request", req.ID).
		Str("controller", req.Controller).
		Stringer("op", req.Op).
		Str("register", req.Register).
		Dur("took", d).
		Msg("request done")
}

func (o *LogObserver) RevisionResolved(c string, reported, used int, err error) {
	if err != nil {
		o.Log.Warn().Str("controller", c).Int("reported", reported).Int("using", used).Err(err).
			Msg("unknown register map revision, using base map")
		return
	}
	o.Log.Info().Str("controller", c).Int("revision", used).Msg("register map revision resolved")
}
