package bridge

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/atomic"

	"usarthal-go/drivers/usart"
	"usarthal-go/errcode"
	"usarthal-go/services/hal"
	"usarthal-go/types"
)

const defaultPing = 5 * time.Second

// UARTConfig names a port the bridge owns outright, outside the HAL
// service, and the line settings to open it with.
type UARTConfig struct {
	Port types.SerialPortSpec `json:"port"`
	// Line is applied with Begin. Zero baud means 115200.
	Line   types.SerialConfig `json:"line"`
	PingMS int                `json:"ping_ms,omitempty"`
}

// UARTDial opens the byte stream for a uart transport. Tests replace it.
var UARTDial = dialPort

type uartTransport struct {
	cfg UARTConfig
}

func newUARTTransport(cfg TransportConfig) (Transport, error) {
	if cfg.UART == nil {
		return nil, errors.New("uart transport requires uart config")
	}
	if cfg.UART.Port.ID == "" {
		return nil, errors.New("uart transport requires a port id")
	}
	return &uartTransport{cfg: *cfg.UART}, nil
}

func (u *uartTransport) Open(ctx context.Context) (Link, error) {
	rwc, err := UARTDial(ctx, u.cfg)
	if err != nil {
		return nil, err
	}
	ping := defaultPing
	if u.cfg.PingMS > 0 {
		ping = time.Duration(u.cfg.PingMS) * time.Millisecond
	}
	return newFramedLink(rwc, ping), nil
}

func (u *uartTransport) String() string { return "uart:" + u.cfg.Port.ID }

// portConn adapts a serial port to a stream: reads wait across idle
// timeouts until the conn is closed.
type portConn struct {
	port   *usart.SerialPort
	ports  *hal.Ports
	closed atomic.Bool
}

func dialPort(_ context.Context, u UARTConfig) (io.ReadWriteCloser, error) {
	spec := u.Port
	spec.Default = nil
	ports, err := hal.NewPorts(hal.HALConfig{Ports: []types.SerialPortSpec{spec}})
	if err != nil {
		return nil, err
	}
	port, err := ports.Port(spec.ID)
	if err != nil {
		ports.Close()
		return nil, err
	}
	line := u.Line
	if line.Baud == 0 {
		line.Baud = 115200
	}
	if err := port.Begin(line); err != nil {
		ports.Close()
		return nil, err
	}
	return &portConn{port: port, ports: ports}, nil
}

func (c *portConn) Read(b []byte) (int, error) {
	for {
		if c.closed.Load() {
			return 0, io.EOF
		}
		n, err := c.port.Read(b)
		if n == 0 && errors.Is(err, errcode.Timeout) {
			continue
		}
		return n, err
	}
}

func (c *portConn) Write(b []byte) (int, error) {
	if c.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return c.port.Write(b)
}

func (c *portConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.ports.Close()
}
