package usartsim

import (
	"usarthal-go/drivers/usart"
	"usarthal-go/errcode"
)

// DMA simulates a region-based engine. Received bytes land in the armed
// region one Feed at a time; a full region completes the receive. Sends
// complete when the test calls CompleteTx, or at once with AutoComplete.
type DMA struct {
	core
	maxChunk int
	fifo     int

	auto     bool
	loopback bool

	rx      []byte
	rxN     int
	rxArmed bool
	backlog []byte

	tx     []byte
	txBusy bool
	sent   []byte
}

var _ usart.DMAEngine = (*DMA)(nil)

func NewDMA(maxChunk int) *DMA {
	return &DMA{maxChunk: maxChunk, fifo: DefaultFIFO}
}

// SetAutoComplete makes every send finish as soon as it starts.
func (d *DMA) SetAutoComplete(on bool) {
	d.mu.Lock()
	d.auto = on
	d.mu.Unlock()
}

// SetLoopback feeds every completed send back into the receiver.
func (d *DMA) SetLoopback(on bool) {
	d.mu.Lock()
	d.loopback = on
	d.mu.Unlock()
}

func (d *DMA) MaxChunk() int { return d.maxChunk }

func (d *DMA) Start() error {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	return nil
}

func (d *DMA) Stop() {
	d.mu.Lock()
	d.started = false
	d.txBusy, d.tx = false, nil
	d.rxArmed, d.rx, d.rxN = false, nil, 0
	d.mu.Unlock()
}

func (d *DMA) TxIdle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.txBusy
}

func (d *DMA) StartTx(p []byte) error {
	d.mu.Lock()
	switch {
	case !d.started:
		d.mu.Unlock()
		return errcode.Wrap(errcode.InvalidState, "start_tx", "stopped")
	case d.txBusy:
		d.mu.Unlock()
		return errcode.Wrap(errcode.Busy, "start_tx", "in flight")
	case len(p) > d.maxChunk:
		d.mu.Unlock()
		return errcode.Wrap(errcode.TooLarge, "start_tx", "chunk")
	}
	d.tx = append(d.tx[:0], p...)
	d.txBusy = true
	auto := d.auto
	d.mu.Unlock()
	if auto {
		d.CompleteTx()
	}
	return nil
}

// InFlight returns a copy of the chunk being sent.
func (d *DMA) InFlight() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.txBusy {
		return nil
	}
	return append([]byte(nil), d.tx...)
}

// CompleteTx finishes the in-flight send and returns its length.
func (d *DMA) CompleteTx() int { return d.completeTx(-1) }

// CompleteTxN finishes the in-flight send reporting only n bytes sent.
func (d *DMA) CompleteTxN(n int) int { return d.completeTx(n) }

func (d *DMA) completeTx(n int) int {
	d.mu.Lock()
	if !d.txBusy {
		d.mu.Unlock()
		return 0
	}
	if n < 0 || n > len(d.tx) {
		n = len(d.tx)
	}
	chunk := append([]byte(nil), d.tx[:n]...)
	d.sent = append(d.sent, chunk...)
	d.txBusy = false
	h, loop := d.handler, d.loopback
	d.mu.Unlock()

	deliver(h, usart.Event{Kind: usart.EventTxDone, N: n})
	if loop {
		d.Feed(chunk)
	}
	return n
}

// Sent returns everything shifted out so far.
func (d *DMA) Sent() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.sent...)
}

func (d *DMA) StartRx(p []byte) error {
	d.mu.Lock()
	switch {
	case !d.started:
		d.mu.Unlock()
		return errcode.Wrap(errcode.InvalidState, "start_rx", "stopped")
	case d.rxArmed:
		d.mu.Unlock()
		return errcode.Wrap(errcode.Busy, "start_rx", "armed")
	}
	d.rx, d.rxN, d.rxArmed = p, 0, true
	evs := d.pumpLocked()
	h := d.handler
	d.mu.Unlock()
	deliver(h, evs...)
	return nil
}

func (d *DMA) RxProgress() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.rxArmed {
		return 0
	}
	return d.rxN
}

func (d *DMA) StopRx() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	if d.rxArmed {
		n = d.rxN
	}
	d.rxArmed, d.rx, d.rxN = false, nil, 0
	return n
}

// RxArmed reports the length of the armed receive, or 0.
func (d *DMA) RxArmed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.rxArmed {
		return 0
	}
	return len(d.rx)
}

// Feed puts bytes on the line. They land in the armed region; the excess
// waits in the FIFO, and what does not fit there is lost as an overrun.
func (d *DMA) Feed(b []byte) {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.backlog = append(d.backlog, b...)
	evs := d.pumpLocked()
	if !d.rxArmed && len(d.backlog) > d.fifo {
		d.backlog = d.backlog[:d.fifo]
		evs = append(evs, usart.Event{Kind: usart.EventError, Err: usart.ErrOverrun})
	}
	h := d.handler
	d.mu.Unlock()
	deliver(h, evs...)
}

// CompleteRx closes the armed receive early, as a line-idle timeout does.
func (d *DMA) CompleteRx() {
	d.mu.Lock()
	if !d.rxArmed {
		d.mu.Unlock()
		return
	}
	n := d.rxN
	d.rxArmed, d.rx, d.rxN = false, nil, 0
	h := d.handler
	d.mu.Unlock()
	deliver(h, usart.Event{Kind: usart.EventRxDone, N: n})
}

func (d *DMA) pumpLocked() []usart.Event {
	if !d.rxArmed || len(d.backlog) == 0 {
		return nil
	}
	var evs []usart.Event
	k := copy(d.rx[d.rxN:], d.backlog)
	d.backlog = d.backlog[k:]
	d.rxN += k
	if k > 0 && d.irqs&readable != 0 {
		evs = append(evs, usart.Event{Kind: usart.EventRxReady, N: d.rxN})
	}
	if d.rxN == len(d.rx) {
		evs = append(evs, usart.Event{Kind: usart.EventRxDone, N: d.rxN})
		d.rxArmed, d.rx, d.rxN = false, nil, 0
	}
	return evs
}
