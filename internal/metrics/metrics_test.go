// internal/metrics/metrics_test.go
package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/poller"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/status"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/transport"
)

func TestObserver_Polls(t *testing.T) {
	o := New(prometheus.NewRegistry())

	g := &poller.Group{Start: 13, Count: 2}
	o.PollSucceeded("fndh", g, 3*time.Millisecond)
	o.PollSucceeded("fndh", g, 4*time.Millisecond)
	o.PollFailed(&poller.PollFailedError{Controller: "fndh", Err: &transport.Error{Kind: transport.ErrTimeout}})

	assert.Equal(t, 2.0, testutil.ToFloat64(o.polls.WithLabelValues("fndh", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.polls.WithLabelValues("fndh", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(o.pollDuration))
}

func TestObserver_StateAndConnection(t *testing.T) {
	o := New(prometheus.NewRegistry())

	o.StateChanged("sb01", status.Polling, status.Backoff)
	o.Connected(1)
	o.ConnectionLost(transport.ErrConnectionLost)
	o.DialFailed(1, errors.New("refused"))
	o.QueueDepth(4)

	assert.Equal(t, float64(status.Backoff), testutil.ToFloat64(o.state.WithLabelValues("sb01")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.connects))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.lost))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.dialFailures))
	assert.Equal(t, 4.0, testutil.ToFloat64(o.queueDepth))
}

func TestObserver_Requests(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg)

	o.RequestDone(poller.Request{Op: poller.OpWrite}, poller.Result{}, time.Millisecond)
	o.RequestDone(poller.Request{Op: poller.OpRead}, poller.Result{Err: poller.ErrExpired}, 0)

	expected := `
# HELP pasd_requests_total On-demand requests by operation and outcome.
# TYPE pasd_requests_total counter
pasd_requests_total{op="read",result="expired"} 1
pasd_requests_total{op="write",result="ok"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pasd_requests_total"))
}

func TestObserver_SatisfiesPollerObserver(t *testing.T) {
	var _ poller.Observer = New(prometheus.NewRegistry())
}
