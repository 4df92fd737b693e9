// Package halcore holds the contracts between the HAL service, its port
// builders and its per-port workers.
package halcore

import (
	"context"
	"time"

	"usarthal-go/drivers/usart"
	"usarthal-go/types"
)

// Port is the serial port surface the service drives. *usart.SerialPort
// implements it.
type Port interface {
	Name() string
	Begin(cfg types.SerialConfig) error
	End() error
	Suspend() error
	Restore() error
	State() types.SerialState
	Config() types.SerialConfig
	Stats() *usart.Stats

	TryWrite(p []byte) (int, error)
	WriteAll(ctx context.Context, p []byte) (int, error)
	Flush() error

	TryRead(p []byte) (int, error)
	WaitEventContext(ctx context.Context, flags types.EventFlags) (types.EventFlags, error)
}

// Built is a constructed port and its teardown.
type Built struct {
	Port  Port
	Close func() error
}

// PortBuilder turns a port spec into a port ready for Begin.
type PortBuilder interface {
	Build(spec types.SerialPortSpec) (Built, error)
}

// WorkerConfig centralises per-port worker timings and limits.
type WorkerConfig struct {
	// WriteTimeout bounds a blocking write.
	WriteTimeout   time.Duration
	InputQueueSize int
}

// Op is a port operation that may wait on the line.
type Op uint8

const (
	OpWrite Op = iota + 1
	OpFlush
	OpSuspend
)

func (o Op) String() string {
	switch o {
	case OpWrite:
		return "write"
	case OpFlush:
		return "flush"
	case OpSuspend:
		return "suspend"
	default:
		return "unknown"
	}
}

// PortReq asks a port worker to run one operation.
type PortReq struct {
	PortID string
	Port   Port
	Op     Op
	Data   []byte
	Block  bool
	// Tag is returned untouched in the Result, e.g. the request message.
	Tag any
}

// Result emitted by a worker.
type Result struct {
	Req PortReq
	N   int
	Err error
}
