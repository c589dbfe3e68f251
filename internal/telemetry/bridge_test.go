// internal/telemetry/bridge_test.go
package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/poller"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/simulator"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/status"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/store"
)

// ---- fake broker ----

type token struct{ err error }

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Error() error                   { return t.err }

func (t *token) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return 0 }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type broker struct {
	mu       sync.Mutex
	pubs     []published
	handlers map[string]mqtt.MessageHandler
}

func newBroker() *broker { return &broker{handlers: map[string]mqtt.MessageHandler{}} }

func (b *broker) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubs = append(b.pubs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &token{}
}

func (b *broker) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = cb
	return &token{}
}

func (b *broker) deliver(topic string, payload string) bool {
	b.mu.Lock()
	cb, ok := b.handlers[topic]
	b.mu.Unlock()
	if ok {
		cb(nil, &message{topic: topic, payload: []byte(payload)})
	}
	return ok
}

// last returns the most recent payload on topic.
func (b *broker) last(topic string) (published, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.pubs) - 1; i >= 0; i-- {
		if b.pubs[i].topic == topic {
			return b.pubs[i], true
		}
	}
	return published{}, false
}

// ---- rig ----

type rig struct {
	bus *simulator.Bus
	st  *store.Store
	arb *poller.Arbiter
	br  *broker

	ctx    context.Context
	cancel context.CancelFunc
}

// startArbiter runs an arbiter over a populated hub; the bridge is not started.
func startArbiter(t *testing.T) *rig {
	t.Helper()
	cat, err := registermap.Default()
	require.NoError(t, err)
	ck, err := cat.Resolve(registermap.KindHub, 1)
	require.NoError(t, err)

	r := &rig{bus: simulator.New(), st: store.New(), br: newBroker()}
	r.bus.Populate(101, ck)

	r.arb, err = poller.New(poller.Config{
		MinPollPeriod:  10 * time.Millisecond,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
		QueueSize:      4,
		Controllers:    []poller.Controller{{ID: "fndh", Kind: registermap.KindHub, Revision: 1}},
	}, cat, r.bus.Dial, r.st, nil)
	require.NoError(t, err)

	r.ctx, r.cancel = context.WithCancel(context.Background())
	go func() { _ = r.arb.Run(r.ctx) }()
	t.Cleanup(func() {
		r.cancel()
		<-r.arb.Done()
	})
	return r
}

// startBridge runs the bridge and waits for its command subscription.
func (r *rig) startBridge(t *testing.T) {
	t.Helper()
	bridge := New(Config{Prefix: "pasd/", StatusInterval: 10 * time.Millisecond}, r.br, r.st, r.arb, r.arb.Controllers(), zerolog.Nop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bridge.Run(r.ctx)
	}()
	t.Cleanup(func() {
		r.cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		r.br.mu.Lock()
		defer r.br.mu.Unlock()
		_, ok := r.br.handlers["pasd/fndh/cmd"]
		return ok
	}, 2*time.Second, time.Millisecond)
}

func start(t *testing.T) (*broker, *simulator.Bus) {
	t.Helper()
	r := startArbiter(t)
	r.startBridge(t)
	return r.br, r.bus
}

// register decodes the latest retained payload on a register topic.
func (b *broker) register(t *testing.T, topic string) (map[string]any, bool) {
	t.Helper()
	p, ok := b.last(topic)
	if !ok || !p.retained {
		return nil, false
	}
	var raw map[string]any
	require.NoError(t, json.Unmarshal(p.payload, &raw))
	return raw, true
}

// ---- tests ----

func TestBridge_PublishesRegisterChanges(t *testing.T) {
	br, _ := start(t)

	var raw map[string]any
	require.Eventually(t, func() bool {
		p, ok := br.last("pasd/fndh/uptime")
		if !ok {
			return false
		}
		require.NoError(t, json.Unmarshal(p.payload, &raw))
		return p.retained && raw["quality"] == "VALID"
	}, 2*time.Second, time.Millisecond)

	assert.NotZero(t, raw["version"])
	assert.Contains(t, raw, "updated")
	assert.EqualValues(t, 1, raw["value"])
}

func TestBridge_PublishesStateBeforeStart(t *testing.T) {
	r := startArbiter(t)
	require.Eventually(t, func() bool {
		snap, err := r.st.Status("fndh")
		return err == nil && snap.State == status.Polling
	}, 2*time.Second, time.Millisecond)

	r.startBridge(t)

	// static registers never change again, so only the baseline carries them
	for _, name := range []string{"cpu_id", "firmware_version", "modbus_register_map_revision"} {
		raw, ok := r.br.register(t, "pasd/fndh/"+name)
		require.True(t, ok, name)
		assert.Equal(t, "VALID", raw["quality"], name)
	}
	raw, _ := r.br.register(t, "pasd/fndh/modbus_register_map_revision")
	assert.EqualValues(t, 1, raw["value"])
}

func TestBridge_ThresholdBand(t *testing.T) {
	br, bus := start(t)
	const topic = "pasd/fndh/psu48v_voltage_1"

	require.Eventually(t, func() bool {
		raw, ok := br.register(t, topic)
		return ok && raw["band"] == "OK"
	}, 2*time.Second, time.Millisecond)

	bus.Set(101, 16, 4950)
	require.Eventually(t, func() bool {
		raw, ok := br.register(t, topic)
		return ok && raw["band"] == "WARNING"
	}, 2*time.Second, time.Millisecond)

	raw, _ := br.register(t, "pasd/fndh/uptime")
	assert.NotContains(t, raw, "band")
}

func TestBridge_PublishesStatus(t *testing.T) {
	br, _ := start(t)

	require.Eventually(t, func() bool {
		p, ok := br.last("pasd/fndh/status")
		if !ok {
			return false
		}
		var raw map[string]any
		require.NoError(t, json.Unmarshal(p.payload, &raw))
		return p.retained && raw["state"] == "POLLING"
	}, 2*time.Second, time.Millisecond)
}

func TestBridge_WriteCommand(t *testing.T) {
	br, bus := start(t)
	id := uuid.NewString()

	require.True(t, br.deliver("pasd/fndh/cmd", `{"id":"`+id+`","register":"led_pattern","value":5}`))

	var res CommandResult
	require.Eventually(t, func() bool {
		p, ok := br.last("pasd/fndh/cmd/result")
		if !ok {
			return false
		}
		require.NoError(t, json.Unmarshal(p.payload, &res))
		return true
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, id, res.ID)
	assert.Empty(t, res.Error)
	assert.Equal(t, "led_pattern", res.Register)
	assert.EqualValues(t, 5, res.Value)
	assert.Equal(t, []uint16{5}, bus.Get(101, 25, 1))
}

func TestBridge_ReadCommandWithAlias(t *testing.T) {
	br, _ := start(t)

	require.True(t, br.deliver("pasd/fndh/cmd", `{"op":"read","register":"port_powers_online"}`))

	var res CommandResult
	require.Eventually(t, func() bool {
		p, ok := br.last("pasd/fndh/cmd/result")
		if !ok {
			return false
		}
		require.NoError(t, json.Unmarshal(p.payload, &res))
		return true
	}, 2*time.Second, time.Millisecond)

	assert.Empty(t, res.Error)
	assert.Equal(t, "ports_desired_power_when_online", res.Register)
	assert.Len(t, res.Value, 28)
	_, err := uuid.Parse(res.ID)
	assert.NoError(t, err)
}

func TestBridge_RejectedCommands(t *testing.T) {
	cases := []struct {
		payload string
		want    string
	}{
		{`not json`, "bad command"},
		{`{"id":"nope","register":"led_pattern","value":1}`, "bad id"},
		{`{"op":"toggle","register":"led_pattern"}`, "unknown op"},
		{`{"register":"uptime","value":1}`, "not writable"},
		{`{"register":"no_such_register","value":1}`, "unknown register"},
		{`{"register":"status","value":"EXPLODED"}`, "EXPLODED"},
	}

	br, _ := start(t)
	for _, tc := range cases {
		br.mu.Lock()
		br.pubs = nil
		br.mu.Unlock()

		require.True(t, br.deliver("pasd/fndh/cmd", tc.payload))
		require.Eventually(t, func() bool {
			p, ok := br.last("pasd/fndh/cmd/result")
			if !ok {
				return false
			}
			var res CommandResult
			require.NoError(t, json.Unmarshal(p.payload, &res))
			assert.False(t, p.retained)
			assert.Contains(t, res.Error, tc.want, tc.payload)
			return true
		}, 2*time.Second, time.Millisecond, tc.payload)
	}
}

func TestBridge_Topic(t *testing.T) {
	b := New(Config{Prefix: "site/pasd/"}, newBroker(), nil, nil, nil, zerolog.Nop())
	assert.Equal(t, "site/pasd/sb01/cmd/result", b.Topic("sb01", "cmd", "result"))
}
