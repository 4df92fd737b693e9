package usart

import (
	"usarthal-go/types"
)

type EventKind uint8

const (
	// EventRxDone ends the armed receive; N is the total landed in it.
	EventRxDone EventKind = iota + 1
	// EventRxReady reports bytes landed in the armed receive. Only sent
	// while the Readable event interrupt is enabled.
	EventRxReady
	// EventRxByte carries one received byte on a byte engine.
	EventRxByte
	// EventTxDone ends a DMA send; N is the number of bytes shifted out.
	EventTxDone
	// EventTxReady asks a byte engine's driver for the next byte.
	EventTxReady
	// EventError reports a line error. It never ends a transfer.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventRxDone:
		return "rx_done"
	case EventRxReady:
		return "rx_ready"
	case EventRxByte:
		return "rx_byte"
	case EventTxDone:
		return "tx_done"
	case EventTxReady:
		return "tx_ready"
	case EventError:
		return "error"
	}
	return "unknown"
}

// LineError is a set of receiver error conditions.
type LineError uint8

const (
	ErrOverrun LineError = 1 << iota
	ErrFraming
	ErrParity
	ErrBreak
)

// Error lets a stream link return the conditions seen alongside data.
func (e LineError) Error() string {
	s := ""
	for _, c := range []struct {
		bit  LineError
		name string
	}{{ErrOverrun, "overrun"}, {ErrFraming, "framing"}, {ErrParity, "parity"}, {ErrBreak, "break"}} {
		if e&c.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += c.name
		}
	}
	if s == "" {
		return "line error"
	}
	return s
}

// Event is what an engine hands to its attached handler. Handlers may run
// on any goroutine; the port serialises them per direction.
type Event struct {
	Kind EventKind
	N    int
	B    byte
	Err  LineError
}

// Engine is the per-chip register shim behind a SerialPort. A port binds
// it exclusively between Begin and End.
type Engine interface {
	// Attach binds the engine to handler. It fails with errcode.Busy while
	// another handler is attached.
	Attach(handler func(Event)) error
	Detach()
	// Configure programs the frame format and the baud divisor returned by
	// the port's BaudTable.
	Configure(cfg types.SerialConfig, divisor uint32) error
	Start() error
	Stop()
	// TxIdle reports that nothing is left in the transmitter.
	TxIdle() bool
	// SetEventInterrupts enables the byte-level readiness interrupts in f
	// and disables the rest.
	SetEventInterrupts(f types.EventFlags)
	SetRTS(asserted bool)
}

// DMAEngine moves whole regions between the line and memory.
type DMAEngine interface {
	Engine
	// MaxChunk bounds a single StartTx/StartRx length.
	MaxChunk() int
	StartTx(p []byte) error
	// StartRx arms a receive into p. The engine writes p from the front
	// and reports the landed count through RxProgress.
	StartRx(p []byte) error
	RxProgress() int
	// StopRx aborts the armed receive and returns the landed count.
	StopRx() int
}

// ByteEngine moves one byte per interrupt.
type ByteEngine interface {
	Engine
	// TxByte loads b into the transmitter. It is called from the
	// EventTxReady handler.
	TxByte(b byte)
	// EnableTxReady turns the EventTxReady interrupt on or off.
	EnableTxReady(on bool)
}

// transferMode selects the data path chosen at Begin.
type transferMode interface{ modeName() string }

type dmaPath struct{ eng DMAEngine }

type irqPath struct{ eng ByteEngine }

func (dmaPath) modeName() string { return "dma" }
func (irqPath) modeName() string { return "irq" }

func modeFor(e Engine) (transferMode, bool) {
	switch x := e.(type) {
	case DMAEngine:
		return dmaPath{eng: x}, true
	case ByteEngine:
		return irqPath{eng: x}, true
	}
	return nil, false
}
