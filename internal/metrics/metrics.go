// internal/metrics/metrics.go
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/poller"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/status"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/transport"
)

const namespace = "pasd"

// Observer exports arbiter events as Prometheus metrics.
type Observer struct {
	poller.NopObserver

	polls        *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	invalid      *prometheus.CounterVec
	state        *prometheus.GaugeVec
	connects     prometheus.Counter
	lost         prometheus.Counter
	dialFailures prometheus.Counter
	requests     *prometheus.CounterVec
	reqDuration  *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Observer {
	o := &Observer{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Scheduled poll transactions by outcome.",
		}, []string{"controller", "result"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Bus time of successful scheduled polls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"controller"}),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "register_decode_failures_total",
			Help:      "Registers stored INVALID after a decode failure.",
		}, []string{"controller", "register"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_state",
			Help:      "Controller lifecycle state (0 uninitialized, 1 connecting, 2 reading static, 3 polling, 4 error, 5 backoff).",
		}, []string{"controller"}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_connects_total",
			Help:      "Successful bus connections.",
		}),
		lost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_connection_lost_total",
			Help:      "Bus connections torn down after a transport failure.",
		}),
		dialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dial_failures_total",
			Help:      "Failed bus connection attempts.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "On-demand requests by operation and outcome.",
		}, []string{"op", "result"}),
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Bus time of on-demand requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"op"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "request_queue_depth",
			Help:      "On-demand requests waiting for the bus.",
		}),
	}

	reg.MustRegister(
		o.polls, o.pollDuration, o.invalid, o.state,
		o.connects, o.lost, o.dialFailures,
		o.requests, o.reqDuration, o.queueDepth,
	)
	return o
}

func (o *Observer) PollSucceeded(c string, _ *poller.Group, d time.Duration) {
	o.polls.WithLabelValues(c, "ok").Inc()
	o.pollDuration.WithLabelValues(c).Observe(d.Seconds())
}

func (o *Observer) PollFailed(err *poller.PollFailedError) {
	o.polls.WithLabelValues(err.Controller, failureLabel(err.Err)).Inc()
}

func (o *Observer) RegisterInvalid(c, r string, _ error) {
	o.invalid.WithLabelValues(c, r).Inc()
}

func (o *Observer) StateChanged(c string, _, to status.ControllerState) {
	o.state.WithLabelValues(c).Set(float64(to))
}

func (o *Observer) ConnectionLost(error) { o.lost.Inc() }

func (o *Observer) DialFailed(int, error) { o.dialFailures.Inc() }

func (o *Observer) Connected(int) { o.connects.Inc() }

func (o *Observer) RequestDone(req poller.Request, res poller.Result, d time.Duration) {
	result := "ok"
	if res.Err != nil {
		result = failureLabel(res.Err)
	}
	o.requests.WithLabelValues(req.Op.String(), result).Inc()
	if res.Err == nil {
		o.reqDuration.WithLabelValues(req.Op.String()).Observe(d.Seconds())
	}
}

func (o *Observer) QueueDepth(n int) { o.queueDepth.Set(float64(n)) }

// failureLabel keeps the result label set small and fixed.
func failureLabel(err error) string {
	switch {
	case errors.Is(err, transport.ErrTimeout):
		return "timeout"
	case errors.Is(err, transport.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, transport.ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, poller.ErrExpired):
		return "expired"
	case errors.Is(err, poller.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}
