// internal/telemetry/bridge.go
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/poller"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/status"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/store"
)

// Broker is the part of mqtt.Client the bridge uses.
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Source supplies register state, changes and controller status.
type Source interface {
	Subscribe(controller, register string) (*store.Subscription, error)
	Snapshot(controller string) (*store.View, error)
	Kind(controller string) (*registermap.ControllerKind, error)
	Status(controller string) (status.Snapshot, error)
}

// Submitter accepts on-demand bus requests.
type Submitter interface {
	Submit(ctx context.Context, req poller.Request) (*poller.Future, error)
}

type Config struct {
	Prefix         string
	QoS            byte
	StatusInterval time.Duration // default 1s
	Timeout        time.Duration // broker acks and command execution, default 5s
}

// Bridge mirrors the state store onto MQTT and turns command messages into
// bus requests.
//
// Topics:
//
//	<prefix>/<controller>/<register>    retained register value
//	<prefix>/<controller>/status        retained controller status
//	<prefix>/<controller>/cmd           command input
//	<prefix>/<controller>/cmd/result    command outcome
type Bridge struct {
	cfg         Config
	broker      Broker
	src         Source
	bus         Submitter
	controllers []string
	log         zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(cfg Config, broker Broker, src Source, bus Submitter, controllers []string, log zerolog.Logger) *Bridge {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cfg.Prefix = strings.TrimSuffix(cfg.Prefix, "/")
	return &Bridge{
		cfg:         cfg,
		broker:      broker,
		src:         src,
		bus:         bus,
		controllers: controllers,
		log:         log.With().Str("component", "mqtt").Logger(),
	}
}

// Topic joins the prefix with the given path elements.
func (b *Bridge) Topic(parts ...string) string {
	return b.cfg.Prefix + "/" + strings.Join(parts, "/")
}

// Run publishes until ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	var subs []*store.Subscription
	defer func() {
		for _, s := range subs {
			s.Close()
		}
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		b.wg.Wait()
	}()

	for _, id := range b.controllers {
		sub, err := b.src.Subscribe(id, "")
		if err != nil {
			return err
		}
		subs = append(subs, sub)

		// the snapshot is the baseline; events it already covers are skipped
		view, err := b.src.Snapshot(id)
		if err != nil {
			return err
		}
		for _, name := range view.Names() {
			e, _ := view.Get(name)
			b.publish(b.Topic(id, name), true, b.message(id, name, e, view.Version))
		}

		b.wg.Add(1)
		go func(sub *store.Subscription, since uint64) {
			defer b.wg.Done()
			b.forward(ctx, sub, since)
		}(sub, view.Version)

		id := id
		tok := b.broker.Subscribe(b.Topic(id, "cmd"), b.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.closed {
				return
			}
			b.wg.Add(1)
			go func(payload []byte) {
				defer b.wg.Done()
				b.command(ctx, id, payload)
			}(msg.Payload())
		})
		if err := b.wait(tok); err != nil {
			return fmt.Errorf("telemetry: subscribe %s: %w", b.Topic(id, "cmd"), err)
		}
	}

	ticker := time.NewTicker(b.cfg.StatusInterval)
	defer ticker.Stop()
	b.publishStatus()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.publishStatus()
		}
	}
}

// ---- outbound ----

type registerMsg struct {
	Value   any           `json:"value"`
	Quality store.Quality `json:"quality"`
	Updated time.Time     `json:"updated"`
	Version uint64        `json:"version"`
	Band    string        `json:"band,omitempty"` // OK | WARNING | ALARM for thresholded readings
}

func (b *Bridge) forward(ctx context.Context, sub *store.Subscription, since uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if ev.Version <= since {
				continue
			}
			b.publish(b.Topic(ev.Controller, ev.Register), true, b.message(ev.Controller, ev.Register, ev.Value, ev.Version))
		}
	}
}

func (b *Bridge) message(controller, register string, v store.Value, version uint64) registerMsg {
	m := registerMsg{Value: v.Value, Quality: v.Quality, Updated: v.Updated, Version: version}
	f, ok := v.Value.(float64)
	if !ok || v.Quality != store.Valid {
		return m
	}
	kind, err := b.src.Kind(controller)
	if err != nil {
		return m
	}
	if r, ok := kind.Lookup(register); ok && r.Thresholds != nil {
		m.Band = r.Thresholds.Classify(f).String()
	}
	return m
}

func (b *Bridge) publishStatus() {
	now := time.Now()
	for _, id := range b.controllers {
		snap, err := b.src.Status(id)
		if err != nil {
			b.log.Warn().Str("controller", id).Err(err).Msg("status unavailable")
			continue
		}
		payload, err := status.Encode(snap, now)
		if err != nil {
			b.log.Warn().Str("controller", id).Err(err).Msg("status encode failed")
			continue
		}
		b.send(b.Topic(id, "status"), true, payload)
	}
}

func (b *Bridge) publish(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log.Warn().Str("topic", topic).Err(err).Msg("encode failed")
		return
	}
	b.send(topic, retained, payload)
}

func (b *Bridge) send(topic string, retained bool, payload []byte) {
	if err := b.wait(b.broker.Publish(topic, b.cfg.QoS, retained, payload)); err != nil {
		b.log.Warn().Str("topic", topic).Err(err).Msg("publish failed")
	}
}

func (b *Bridge) wait(tok mqtt.Token) error {
	if !tok.WaitTimeout(b.cfg.Timeout) {
		return errors.New("telemetry: broker did not acknowledge in time")
	}
	return tok.Error()
}

// ---- inbound ----

// Command is the payload accepted on <prefix>/<controller>/cmd.
type Command struct {
	ID       string `json:"id,omitempty"`
	Op       string `json:"op,omitempty"` // read | write, default write
	Register string `json:"register"`
	Value    any    `json:"value,omitempty"`
}

// CommandResult is published on <prefix>/<controller>/cmd/result.
type CommandResult struct {
	ID       string `json:"id"`
	Register string `json:"register"`
	Value    any    `json:"value,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (b *Bridge) command(ctx context.Context, controller string, payload []byte) {
	res := b.execute(ctx, controller, payload)
	if res.Error != "" {
		b.log.Warn().Str("controller", controller).Str("register", res.Register).Str("error", res.Error).Msg("command failed")
	}
	b.publish(b.Topic(controller, "cmd", "result"), false, res)
}

func (b *Bridge) execute(ctx context.Context, controller string, payload []byte) CommandResult {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var cmd Command
	if err := dec.Decode(&cmd); err != nil {
		return CommandResult{ID: uuid.NewString(), Error: fmt.Sprintf("bad command: %v", err)}
	}

	id := uuid.New()
	if cmd.ID != "" {
		parsed, err := uuid.Parse(cmd.ID)
		if err != nil {
			return CommandResult{ID: cmd.ID, Register: cmd.Register, Error: fmt.Sprintf("bad id: %v", err)}
		}
		id = parsed
	}
	res := CommandResult{ID: id.String(), Register: cmd.Register}

	req := poller.Request{ID: id, Controller: controller, Register: cmd.Register, Value: cmd.Value}
	switch cmd.Op {
	case "", "write":
		req.Op = poller.OpWrite
	case "read":
		req.Op = poller.OpRead
	default:
		res.Error = fmt.Sprintf("unknown op %q", cmd.Op)
		return res
	}

	cctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	fut, err := b.bus.Submit(cctx, req)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	out, err := fut.Wait(cctx)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Register = out.Register
	res.Value = out.Value
	return res
}
