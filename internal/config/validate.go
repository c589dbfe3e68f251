// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: empty")
	}

	// ------------------------------------------------------------
	// BUS
	// ------------------------------------------------------------

	switch cfg.Bus.Transport {
	case "", "tcp", "rtu", "ascii":
	default:
		return fmt.Errorf("bus: unknown transport %q", cfg.Bus.Transport)
	}
	if cfg.Bus.Endpoint == "" {
		return fmt.Errorf("bus: endpoint required")
	}
	switch cfg.Bus.Parity {
	case "", "N", "E", "O":
	default:
		return fmt.Errorf("bus: parity must be N, E or O, got %q", cfg.Bus.Parity)
	}

	// ------------------------------------------------------------
	// TIMINGS
	// ------------------------------------------------------------

	timings := []struct {
		name string
		v    int
	}{
		{"bus.timeout_ms", cfg.Bus.TimeoutMs},
		{"poll.min_period_ms", cfg.Poll.MinPeriodMs},
		{"poll.min_controller_interval_ms", Ms(cfg.Poll.MinControllerIntervalMs)},
		{"poll.max_retries", cfg.Poll.MaxRetries},
		{"poll.retry_delay_ms", Ms(cfg.Poll.RetryDelayMs)},
		{"poll.reconnect_delay_ms", Ms(cfg.Poll.ReconnectDelayMs)},
		{"queue.size", cfg.Queue.Size},
	}
	for _, t := range timings {
		if t.v < 0 {
			return fmt.Errorf("%s must be >= 0, got %d", t.name, t.v)
		}
	}

	// ------------------------------------------------------------
	// CONTROLLERS
	// ------------------------------------------------------------

	if len(cfg.Controllers) == 0 {
		return fmt.Errorf("controllers: at least one required")
	}

	ids := make(map[string]registermap.Kind)
	stations := make(map[uint8]string)
	ports := make(map[int]string)

	for _, c := range cfg.Controllers {
		if c.ID == "" {
			return fmt.Errorf("controllers: id required")
		}
		if _, dup := ids[c.ID]; dup {
			return fmt.Errorf("controller %q: duplicate id", c.ID)
		}
		kind, err := registermap.ParseKind(c.Kind)
		if err != nil {
			return fmt.Errorf("controller %q: %w", c.ID, err)
		}
		ids[c.ID] = kind

		// station 0 takes the kind's default from the register map;
		// several secondaries cannot share it
		if c.Station == 0 && kind == registermap.KindSecondary {
			return fmt.Errorf("controller %q: station required for %s", c.ID, kind)
		}
		if c.Station != 0 {
			if prev, dup := stations[c.Station]; dup {
				return fmt.Errorf("controller %q: station %d already used by %q", c.ID, c.Station, prev)
			}
			stations[c.Station] = c.ID
		}

		if c.Port < 0 {
			return fmt.Errorf("controller %q: port must be >= 0", c.ID)
		}
		if c.Port > 0 {
			if prev, dup := ports[c.Port]; dup {
				return fmt.Errorf("controller %q: port %d already feeds %q", c.ID, c.Port, prev)
			}
			ports[c.Port] = c.ID
		}
		if c.Revision < 0 {
			return fmt.Errorf("controller %q: revision must be >= 0", c.ID)
		}
	}

	for _, id := range cfg.Attached {
		if _, ok := ids[id]; !ok {
			return fmt.Errorf("attached: unknown controller %q", id)
		}
	}

	if cfg.FollowPortPower != "" {
		kind, ok := ids[cfg.FollowPortPower]
		if !ok {
			return fmt.Errorf("follow_port_power: unknown controller %q", cfg.FollowPortPower)
		}
		if kind != registermap.KindHub {
			return fmt.Errorf("follow_port_power: %q is a %s, not a hub", cfg.FollowPortPower, kind)
		}
	}

	for _, f := range cfg.Filters {
		if _, ok := ids[f.Controller]; !ok {
			return fmt.Errorf("filter %s.%s: unknown controller", f.Controller, f.Register)
		}
		if f.Register == "" {
			return fmt.Errorf("filter on %q: register required", f.Controller)
		}
		if f.Value < 0 || f.Value > 0xFFFF {
			return fmt.Errorf("filter %s.%s: value %d outside 0..65535", f.Controller, f.Register, f.Value)
		}
	}

	// ------------------------------------------------------------
	// BRIDGES
	// ------------------------------------------------------------

	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt: qos must be 0, 1 or 2")
	}
	switch cfg.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log: unknown format %q", cfg.Log.Format)
	}

	return nil
}
