package usartsim

import (
	"usarthal-go/drivers/usart"
	"usarthal-go/types"
)

const readable = types.EventReadable

// Bytes simulates a byte-per-interrupt engine. While the TX-ready
// interrupt is on and the line is not held, each written byte immediately
// requests the next one.
type Bytes struct {
	core
	txReady  bool
	hold     bool
	loopback bool
	sent     []byte
}

var _ usart.ByteEngine = (*Bytes)(nil)

func NewBytes() *Bytes { return &Bytes{} }

func (b *Bytes) SetLoopback(on bool) {
	b.mu.Lock()
	b.loopback = on
	b.mu.Unlock()
}

func (b *Bytes) Start() error {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	return nil
}

func (b *Bytes) Stop() {
	b.mu.Lock()
	b.started, b.txReady = false, false
	b.mu.Unlock()
}

func (b *Bytes) TxIdle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.txReady
}

// Hold stalls the transmitter, as a deasserted CTS would.
func (b *Bytes) Hold(on bool) {
	b.mu.Lock()
	b.hold = on
	kick := !on && b.txReady && b.started
	h := b.handler
	b.mu.Unlock()
	if kick {
		deliver(h, usart.Event{Kind: usart.EventTxReady})
	}
}

func (b *Bytes) EnableTxReady(on bool) {
	b.mu.Lock()
	b.txReady = on
	kick := on && !b.hold && b.started
	h := b.handler
	b.mu.Unlock()
	if kick {
		deliver(h, usart.Event{Kind: usart.EventTxReady})
	}
}

func (b *Bytes) TxByte(c byte) {
	b.mu.Lock()
	b.sent = append(b.sent, c)
	kick := b.txReady && !b.hold && b.started
	loop := b.loopback
	h := b.handler
	b.mu.Unlock()
	if loop {
		deliver(h, usart.Event{Kind: usart.EventRxByte, B: c})
	}
	if kick {
		deliver(h, usart.Event{Kind: usart.EventTxReady})
	}
}

func (b *Bytes) Sent() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.sent...)
}

// Feed puts bytes on the line, one receive interrupt each.
func (b *Bytes) Feed(p []byte) {
	b.mu.Lock()
	started, h := b.started, b.handler
	b.mu.Unlock()
	if !started {
		return
	}
	for _, c := range p {
		deliver(h, usart.Event{Kind: usart.EventRxByte, B: c})
	}
}
