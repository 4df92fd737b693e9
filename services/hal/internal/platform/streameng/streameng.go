// Package streameng adapts a blocking byte stream, such as an OS tty or a
// buffered MCU UART driver, to usart.DMAEngine. A reader goroutine plays
// the receive DMA and a writer goroutine plays the transmit DMA.
package streameng

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"

	"usarthal-go/drivers/usart"
	"usarthal-go/errcode"
	"usarthal-go/types"
)

const (
	DefaultMaxChunk = 64
	// DefaultFIFO bounds bytes read from the link while no receive is
	// armed. Excess is dropped and reported as an overrun.
	DefaultFIFO = 256

	errorBackoff = 100 * time.Millisecond
)

// Link is a blocking serial stream. ReadContext may return a
// usart.LineError together with the bytes read.
type Link interface {
	Configure(cfg types.SerialConfig, baud uint32) error
	Write(p []byte) (int, error)
	// ReadContext blocks until at least one byte arrives or ctx ends.
	ReadContext(ctx context.Context, p []byte) (int, error)
	SetRTS(asserted bool) error
}

type Engine struct {
	name     string
	link     Link
	maxChunk int
	fifoCap  int

	mu      sync.Mutex
	handler func(usart.Event)
	irqs    types.EventFlags
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	txq     chan []byte
	txBusy  bool

	rx      []byte
	rxN     int
	rxArmed bool
	fifo    []byte
}

var _ usart.DMAEngine = (*Engine)(nil)

func New(name string, link Link, maxChunk int) *Engine {
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunk
	}
	return &Engine{name: name, link: link, maxChunk: maxChunk, fifoCap: DefaultFIFO}
}

func (e *Engine) Attach(h func(usart.Event)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handler != nil {
		return errcode.Wrap(errcode.Busy, "attach", e.name+" in use")
	}
	e.handler = h
	return nil
}

func (e *Engine) Detach() {
	e.mu.Lock()
	e.handler = nil
	e.mu.Unlock()
}

func (e *Engine) Configure(cfg types.SerialConfig, divisor uint32) error {
	return e.link.Configure(cfg, divisor)
}

func (e *Engine) SetEventInterrupts(f types.EventFlags) {
	e.mu.Lock()
	e.irqs = f
	e.mu.Unlock()
}

func (e *Engine) SetRTS(asserted bool) {
	if err := e.link.SetRTS(asserted); err != nil {
		glog.Warningf("%s: set rts: %v", e.name, err)
	}
}

func (e *Engine) MaxChunk() int { return e.maxChunk }

func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true
	e.txq = make(chan []byte, 1)
	e.wg.Add(2)
	go e.readLoop(ctx)
	go e.writeLoop(ctx, e.txq)
	return nil
}

// Stop ends both goroutines and waits for them. A send in progress on the
// link is allowed to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.txBusy = false
	e.rxArmed, e.rx, e.rxN = false, nil, 0
	e.fifo = nil
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
}

func (e *Engine) TxIdle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.txBusy
}

// StartTx hands p to the writer. p stays owned by the engine until the
// EventTxDone that ends the send.
func (e *Engine) StartTx(p []byte) error {
	e.mu.Lock()
	switch {
	case !e.running:
		e.mu.Unlock()
		return errcode.Wrap(errcode.InvalidState, "start_tx", "stopped")
	case e.txBusy:
		e.mu.Unlock()
		return errcode.Wrap(errcode.Busy, "start_tx", "in flight")
	case len(p) > e.maxChunk:
		e.mu.Unlock()
		return errcode.Wrap(errcode.TooLarge, "start_tx", "chunk")
	}
	e.txBusy = true
	q := e.txq
	e.mu.Unlock()
	q <- p
	return nil
}

func (e *Engine) StartRx(p []byte) error {
	e.mu.Lock()
	switch {
	case !e.running:
		e.mu.Unlock()
		return errcode.Wrap(errcode.InvalidState, "start_rx", "stopped")
	case e.rxArmed:
		e.mu.Unlock()
		return errcode.Wrap(errcode.Busy, "start_rx", "armed")
	}
	e.rx, e.rxN, e.rxArmed = p, 0, true
	evs := e.pumpLocked()
	h := e.handler
	e.mu.Unlock()
	deliver(h, evs)
	return nil
}

func (e *Engine) RxProgress() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.rxArmed {
		return 0
	}
	return e.rxN
}

func (e *Engine) StopRx() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	if e.rxArmed {
		n = e.rxN
	}
	e.rxArmed, e.rx, e.rxN = false, nil, 0
	return n
}

func (e *Engine) readLoop(ctx context.Context) {
	defer e.wg.Done()
	buf := make([]byte, e.maxChunk)
	for {
		n, err := e.link.ReadContext(ctx, buf)
		if ctx.Err() != nil {
			return
		}
		var lerr usart.LineError
		if errors.As(err, &lerr) {
			err = nil
		}
		if err != nil {
			glog.Warningf("%s: read: %v", e.name, err)
			if !sleep(ctx, errorBackoff) {
				return
			}
			continue
		}
		if n == 0 && lerr == 0 {
			continue
		}

		e.mu.Lock()
		e.fifo = append(e.fifo, buf[:n]...)
		evs := e.pumpLocked()
		if lerr != 0 {
			evs = append(evs, usart.Event{Kind: usart.EventError, Err: lerr})
		}
		if len(e.fifo) > e.fifoCap {
			e.fifo = e.fifo[:e.fifoCap]
			evs = append(evs, usart.Event{Kind: usart.EventError, Err: usart.ErrOverrun})
		}
		h := e.handler
		e.mu.Unlock()
		deliver(h, evs)
	}
}

func (e *Engine) writeLoop(ctx context.Context, q <-chan []byte) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-q:
			n, err := e.link.Write(p)
			if err != nil {
				glog.Warningf("%s: write: %v", e.name, err)
				if !sleep(ctx, errorBackoff) {
					return
				}
			}
			e.mu.Lock()
			if !e.txBusy {
				e.mu.Unlock()
				continue
			}
			e.txBusy = false
			h := e.handler
			e.mu.Unlock()
			deliver(h, []usart.Event{{Kind: usart.EventTxDone, N: n}})
		}
	}
}

// pumpLocked moves FIFO bytes into the armed region.
func (e *Engine) pumpLocked() []usart.Event {
	if !e.rxArmed || len(e.fifo) == 0 {
		return nil
	}
	var evs []usart.Event
	k := copy(e.rx[e.rxN:], e.fifo)
	e.fifo = e.fifo[k:]
	e.rxN += k
	if k > 0 && e.irqs&types.EventReadable != 0 {
		evs = append(evs, usart.Event{Kind: usart.EventRxReady, N: e.rxN})
	}
	if e.rxN == len(e.rx) {
		evs = append(evs, usart.Event{Kind: usart.EventRxDone, N: e.rxN})
		e.rxArmed, e.rx, e.rxN = false, nil, 0
	}
	return evs
}

func deliver(h func(usart.Event), evs []usart.Event) {
	if h == nil {
		return
	}
	for _, ev := range evs {
		h(ev)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
