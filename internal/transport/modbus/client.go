// internal/transport/modbus/client.go
package modbus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/transport"
)

// Config selects the framing and the physical endpoint.
type Config struct {
	Mode     string // tcp | rtu | ascii
	Endpoint string // host:port or serial device
	Timeout  time.Duration

	BaudRate int
	DataBits int
	StopBits int
	Parity   string

	// Logger receives raw frame dumps when set.
	Logger *log.Logger
}

type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Conn is a single bus connection backed by goburrow/modbus.
// Station is set per call, so one Conn reaches every controller on the bus.
type Conn struct {
	guard   transport.Guard
	handler handler
	slave   *byte
	client  modbus.Client
}

// Dialer returns a transport.Dial bound to cfg.
func Dialer(cfg Config) (transport.Dial, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus transport: endpoint required")
	}
	switch cfg.Mode {
	case "", "tcp", "rtu", "ascii":
	default:
		return nil, fmt.Errorf("modbus transport: unknown mode %q", cfg.Mode)
	}
	return func(ctx context.Context) (transport.Conn, error) {
		return Open(ctx, cfg)
	}, nil
}

// Open connects a new Conn.
func Open(ctx context.Context, cfg Config) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &Conn{}
	switch cfg.Mode {
	case "", "tcp":
		h := modbus.NewTCPClientHandler(cfg.Endpoint)
		h.Timeout = cfg.Timeout
		h.Logger = cfg.Logger
		c.handler, c.slave = h, &h.SlaveId

	case "rtu":
		h := modbus.NewRTUClientHandler(cfg.Endpoint)
		h.Timeout = cfg.Timeout
		h.Logger = cfg.Logger
		applySerial(&h.BaudRate, &h.DataBits, &h.StopBits, &h.Parity, cfg)
		c.handler, c.slave = h, &h.SlaveId

	case "ascii":
		h := modbus.NewASCIIClientHandler(cfg.Endpoint)
		h.Timeout = cfg.Timeout
		h.Logger = cfg.Logger
		applySerial(&h.BaudRate, &h.DataBits, &h.StopBits, &h.Parity, cfg)
		c.handler, c.slave = h, &h.SlaveId

	default:
		return nil, fmt.Errorf("modbus transport: unknown mode %q", cfg.Mode)
	}

	if err := c.handler.Connect(); err != nil {
		return nil, transport.Wrap("connect", 0, 0, err, isMalformed)
	}
	c.client = modbus.NewClient(c.handler)
	return c, nil
}

func applySerial(baud, data, stop *int, parity *string, cfg Config) {
	if cfg.BaudRate != 0 {
		*baud = cfg.BaudRate
	}
	if cfg.DataBits != 0 {
		*data = cfg.DataBits
	}
	if cfg.StopBits != 0 {
		*stop = cfg.StopBits
	}
	if cfg.Parity != "" {
		*parity = cfg.Parity
	}
}

// Close closes the underlying socket or serial port.
func (c *Conn) Close() error {
	if c == nil || c.handler == nil {
		return nil
	}
	return c.handler.Close()
}

// ---- transport.Conn ----

func (c *Conn) Read(station uint8, addr, count uint16) ([]uint16, error) {
	if err := c.guard.Enter(); err != nil {
		return nil, err
	}
	defer c.guard.Leave()

	*c.slave = station

	raw, err := c.client.ReadHoldingRegisters(addr, count)
	if err != nil {
		return nil, transport.Wrap("read", station, addr, err, isMalformed)
	}
	if len(raw) != 2*int(count) {
		return nil, &transport.Error{
			Kind: transport.ErrMalformedResponse, Op: "read", Station: station, Addr: addr,
			Err: fmt.Errorf("got %d bytes for %d registers", len(raw), count),
		}
	}
	return unpackRegisters(raw), nil
}

func (c *Conn) Write(station uint8, addr uint16, words []uint16) error {
	if err := c.guard.Enter(); err != nil {
		return err
	}
	defer c.guard.Leave()

	*c.slave = station

	qty := uint16(len(words))
	payload := packRegisters(words)

	if _, err := c.client.WriteMultipleRegisters(addr, qty, payload); err != nil {
		return transport.Wrap("write", station, addr, err, isMalformed)
	}
	return nil
}

// isMalformed recognises exception responses and framing/CRC failures.
func isMalformed(err error) bool {
	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return true
	}
	if errors.Is(err, serial.ErrTimeout) {
		return false
	}
	return strings.HasPrefix(err.Error(), "modbus:")
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}

func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}
