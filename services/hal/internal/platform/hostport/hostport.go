//go:build !tinygo

// Package hostport opens an OS serial device for the stream engine.
package hostport

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"

	"usarthal-go/errcode"
	"usarthal-go/types"
)

// PollInterval bounds each blocking read so ReadContext notices
// cancellation.
const PollInterval = 50 * time.Millisecond

type Port struct {
	name string
	p    serial.Port
}

// Open opens name at 115200 8N1. Configure sets the real line format.
func Open(name string) (*Port, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: 115200, DataBits: 8})
	if err != nil {
		return nil, fmt.Errorf("hostport: open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(PollInterval); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("hostport: %s: %w", name, err)
	}
	return &Port{name: name, p: p}, nil
}

// List returns the serial devices present on the host.
func List() ([]string, error) { return serial.GetPortsList() }

// Mode translates a line configuration. CTS flow control needs kernel
// support the library does not expose.
func Mode(cfg types.SerialConfig, baud uint32) (*serial.Mode, error) {
	if cfg.Flow.CTS() {
		return nil, errcode.Wrap(errcode.Unsupported, "hostport", "cts flow control")
	}
	m := &serial.Mode{BaudRate: int(baud), DataBits: int(cfg.Bits())}
	switch cfg.Parity {
	case types.ParityEven:
		m.Parity = serial.EvenParity
	case types.ParityOdd:
		m.Parity = serial.OddParity
	default:
		m.Parity = serial.NoParity
	}
	switch cfg.StopBits {
	case types.StopBits1_5:
		m.StopBits = serial.OnePointFiveStopBits
	case types.StopBits2:
		m.StopBits = serial.TwoStopBits
	default:
		m.StopBits = serial.OneStopBit
	}
	return m, nil
}

func (p *Port) Name() string { return p.name }

// Configure applies the line format and drops anything the kernel
// buffered under the old one.
func (p *Port) Configure(cfg types.SerialConfig, baud uint32) error {
	m, err := Mode(cfg, baud)
	if err != nil {
		return err
	}
	if err := p.p.SetMode(m); err != nil {
		return fmt.Errorf("hostport: %s: %w", p.name, err)
	}
	return p.p.ResetInputBuffer()
}

func (p *Port) Write(b []byte) (int, error) { return p.p.Write(b) }

func (p *Port) ReadContext(ctx context.Context, b []byte) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := p.p.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (p *Port) SetRTS(asserted bool) error { return p.p.SetRTS(asserted) }

// Drain waits until the kernel has sent everything written.
func (p *Port) Drain() error { return p.p.Drain() }

func (p *Port) Close() error { return p.p.Close() }
