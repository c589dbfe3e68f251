// internal/poller/builder.go
package poller

import (
	"log"
	"time"

	cfg "github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/config"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/store"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/transport"
	tmodbus "github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/transport/modbus"
)

// Dialer builds the bus connection factory for the configured framing.
// frames receives raw frame dumps when non-nil.
func Dialer(b cfg.BusConfig, frames *log.Logger) (transport.Dial, error) {
	return tmodbus.Dialer(tmodbus.Config{
		Mode:     b.Transport,
		Endpoint: b.Endpoint,
		Timeout:  ms(b.TimeoutMs),
		BaudRate: b.BaudRate,
		DataBits: b.DataBits,
		StopBits: b.StopBits,
		Parity:   b.Parity,
		Logger:   frames,
	})
}

// Build constructs an Arbiter from a validated, normalized config.
// The connection is not opened here: Run dials on start and after every
// connection loss.
func Build(c *cfg.Config, cat *registermap.Catalog, st *store.Store, obs Observer, dial transport.Dial) (*Arbiter, error) {
	ctrls := make([]Controller, 0, len(c.Controllers))
	for _, cc := range c.Controllers {
		kind, err := registermap.ParseKind(cc.Kind)
		if err != nil {
			return nil, err
		}
		ctrls = append(ctrls, Controller{
			ID:       cc.ID,
			Kind:     kind,
			Station:  cc.Station,
			Port:     cc.Port,
			Revision: cc.Revision,
		})
	}

	return New(
		Config{
			MinPollPeriod:           ms(c.Poll.MinPeriodMs),
			MinControllerInterval:   ms(cfg.Ms(c.Poll.MinControllerIntervalMs)),
			MaxRetries:              c.Poll.MaxRetries,
			RetryDelay:              ms(cfg.Ms(c.Poll.RetryDelayMs)),
			ReconnectDelay:          ms(cfg.Ms(c.Poll.ReconnectDelayMs)),
			QueueSize:               c.Queue.Size,
			FailFast:                c.Queue.FailFast,
			RereadStaticOnReconnect: c.Poll.RereadStaticOnReconnect,
			Controllers:             ctrls,
			Attached:                c.Attached,
		},
		cat,
		dial,
		st,
		obs,
	)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
