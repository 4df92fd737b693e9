// Package usart is an interrupt/DMA driven serial port over a per-chip
// engine. Data moves through two ring buffers: the TX ring is drained by
// the engine in chunks and the RX ring is kept armed as a receive target.
//
// Ring state for each direction lives behind an x/irq line, so thread code
// and completion handlers never touch cursors concurrently.
package usart

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"usarthal-go/errcode"
	"usarthal-go/types"
	"usarthal-go/x/evgroup"
	"usarthal-go/x/irq"
	"usarthal-go/x/ringbuf"
)

const (
	// MaxScheduledReceivals bounds receives armed at once.
	MaxScheduledReceivals = 1
	// ReservedRxSize is kept back from each receive grant, and is the
	// smallest grant worth arming.
	ReservedRxSize = 5

	DefaultFlushTimeout = 2 * time.Second
	DefaultReadTimeout  = time.Second
	DefaultWriteTimeout = time.Second
)

// NoPin marks an unconnected signal.
const NoPin = -1

type Pins struct {
	TX, RX, CTS, RTS int
}

type PinFunc uint8

const (
	PinNone PinFunc = iota
	PinUART
)

// PinService sets the electrical function of a pin.
type PinService interface {
	SetFunction(pin int, f PinFunc) error
}

type Options struct {
	Name   string
	Engine Engine
	Baud   BaudTable
	Pins   Pins
	PinSvc PinService

	FlushTimeout time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type rxState struct {
	ring      ringbuf.RingBuffer[byte]
	active    bool
	receiving int
	// committed counts bytes of the armed grant already committed by
	// reconciliation.
	committed int
}

type txState struct {
	ring         ringbuf.RingBuffer[byte]
	active       bool
	transmitting bool
}

type SerialPort struct {
	name   string
	eng    Engine
	baud   BaudTable
	pins   Pins
	pinSvc PinService

	flushTimeout time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	ctl    irq.Controller
	rx     *irq.Guarded[rxState]
	tx     *irq.Guarded[txState]
	events *evgroup.Group
	stats  Stats

	irqMu   sync.Mutex
	irqRefs [2]int

	// mu serialises lifecycle calls. I/O paths read state without it.
	mu         sync.Mutex
	configured bool
	state      types.SerialState
	cfg        types.SerialConfig
	divisor    uint32

	// mode is fixed by the engine at New; nil when it has no transfer path.
	mode transferMode
}

// New returns a port bound to opts.Engine. Storage is supplied by Init.
func New(opts Options) *SerialPort {
	p := &SerialPort{
		name:         opts.Name,
		eng:          opts.Engine,
		baud:         opts.Baud,
		pins:         opts.Pins,
		pinSvc:       opts.PinSvc,
		flushTimeout: orDefault(opts.FlushTimeout, DefaultFlushTimeout),
		readTimeout:  orDefault(opts.ReadTimeout, DefaultReadTimeout),
		writeTimeout: orDefault(opts.WriteTimeout, DefaultWriteTimeout),
		events:       evgroup.New(),
	}
	p.mode, _ = modeFor(opts.Engine)
	if p.baud == nil {
		p.baud = AnyBaud{}
	}
	p.rx = irq.NewGuarded(p.ctl.NewLine(p.name+"/rx"), rxState{})
	p.tx = irq.NewGuarded(p.ctl.NewLine(p.name+"/tx"), txState{})
	return p
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func (p *SerialPort) Name() string { return p.name }

func (p *SerialPort) Stats() *Stats { return &p.stats }

// Init binds caller-owned storage. The port owns rx and tx until End. An
// enabled port is ended first.
func (p *SerialPort) Init(rx, tx []byte) error {
	if len(rx) == 0 || len(tx) == 0 {
		return errcode.Wrap(errcode.InvalidArgument, "init", "empty buffer")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != types.SerialDisabled {
		if err := p.endLocked(); err != nil {
			return err
		}
	}
	irq.With2(p.rx, p.tx, func(r *rxState, t *txState) {
		r.ring.Init(rx)
		t.ring.Init(tx)
	})
	p.configured = true
	return nil
}

func (p *SerialPort) State() types.SerialState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *SerialPort) IsEnabled() bool { return p.State() == types.SerialEnabled }

func (p *SerialPort) Config() types.SerialConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Validate checks the frame format without touching hardware.
func Validate(cfg types.SerialConfig) error {
	switch {
	case cfg.DataBits != 0 && cfg.DataBits != 7 && cfg.DataBits != 8:
		return errcode.Wrap(errcode.InvalidArgument, "begin", "data bits")
	case cfg.StopBits > types.StopBits2:
		return errcode.Wrap(errcode.InvalidArgument, "begin", "stop bits")
	case cfg.Parity > types.ParityOdd:
		return errcode.Wrap(errcode.InvalidArgument, "begin", "parity")
	case cfg.Flow > types.FlowRTSCTS:
		return errcode.Wrap(errcode.InvalidArgument, "begin", "flow control")
	}
	return nil
}

// Begin configures the line and starts receiving. Both rings are cleared.
// Beginning an enabled or suspended port ends it first.
func (p *SerialPort) Begin(cfg types.SerialConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.configured {
		return errcode.Wrap(errcode.InvalidState, "begin", "not initialised")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if cfg.Flow.CTS() && p.pins.CTS == NoPin || cfg.Flow.RTS() && p.pins.RTS == NoPin {
		return errcode.Wrap(errcode.InvalidArgument, "begin", "flow control pin not connected")
	}
	div, err := p.baud.Divisor(cfg.Baud)
	if err != nil {
		return err
	}
	if p.state != types.SerialDisabled {
		if err := p.endLocked(); err != nil {
			return err
		}
	}
	if err := p.startLocked(cfg, div, true); err != nil {
		return err
	}
	glog.V(1).Infof("usart %s: begin %d %d%s%s flow=%s mode=%s", p.name, cfg.Baud,
		cfg.Bits(), cfg.Parity.String()[:1], cfg.StopBits, cfg.Flow, p.mode.modeName())
	return nil
}

// startLocked runs the begin sequence. reset clears both rings; Restore
// keeps them.
func (p *SerialPort) startLocked(cfg types.SerialConfig, div uint32, reset bool) error {
	if p.mode == nil {
		return errcode.Wrap(errcode.Unsupported, "begin", "engine has no transfer path")
	}
	if err := p.eng.Attach(p.onEvent); err != nil {
		return err
	}
	var err error
	p.ctl.Atomic(func() { err = p.eng.Configure(cfg, div) })
	if err != nil {
		p.eng.Detach()
		return err
	}
	if err := p.claimPins(cfg.Flow); err != nil {
		p.releasePins(cfg.Flow)
		p.eng.Detach()
		return err
	}

	irq.With2(p.rx, p.tx, func(r *rxState, t *txState) {
		if reset {
			r.ring.Reset()
			t.ring.Reset()
		}
		r.receiving, r.committed = 0, 0
		t.transmitting = false
		r.active, t.active = true, true
	})
	p.cfg, p.divisor = cfg, div

	if err := p.eng.Start(); err != nil {
		p.stopLocked()
		return err
	}
	p.state = types.SerialEnabled
	// Waiters parked across a suspend keep their interrupt enables.
	p.irqMu.Lock()
	p.setRefsLocked(0, 0)
	p.irqMu.Unlock()
	if cfg.Flow.RTS() {
		p.eng.SetRTS(true)
	}
	p.rx.With(p.startReceiver)
	p.tx.With(p.startTransmission)
	return nil
}

// End stops the engine, releases pins and clears both rings.
func (p *SerialPort) End() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endLocked()
}

func (p *SerialPort) endLocked() error {
	switch p.state {
	case types.SerialDisabled:
		return errcode.Wrap(errcode.InvalidState, "end", "not enabled")
	case types.SerialEnabled:
		if d, ok := p.mode.(dmaPath); ok {
			p.rx.With(func(st *rxState) {
				if st.receiving > 0 {
					d.eng.StopRx()
				}
			})
		}
		p.stopLocked()
	}
	irq.With2(p.rx, p.tx, func(r *rxState, t *txState) {
		r.ring.Reset()
		t.ring.Reset()
	})
	p.events.Clear(evgroup.Flags(types.EventReadable | types.EventWritable))
	p.cfg = types.SerialConfig{}
	p.state = types.SerialDisabled
	glog.V(1).Infof("usart %s: end", p.name)
	return nil
}

// stopLocked shuts the hardware down and marks both directions inactive.
// Late completions are dropped by the inactive check.
func (p *SerialPort) stopLocked() {
	irq.With2(p.rx, p.tx, func(r *rxState, t *txState) {
		r.active, t.active = false, false
		r.receiving, r.committed = 0, 0
		t.transmitting = false
	})
	p.eng.SetEventInterrupts(0)
	p.eng.Stop()
	p.eng.Detach()
	p.releasePins(p.cfg.Flow)
}

func (p *SerialPort) claimPins(flow types.FlowControl) error {
	if p.pinSvc == nil {
		return nil
	}
	pins := []int{p.pins.TX, p.pins.RX}
	if flow.CTS() {
		pins = append(pins, p.pins.CTS)
	}
	if flow.RTS() {
		pins = append(pins, p.pins.RTS)
	}
	for _, pin := range pins {
		if pin == NoPin {
			continue
		}
		if err := p.pinSvc.SetFunction(pin, PinUART); err != nil {
			return err
		}
	}
	return nil
}

// releasePins undoes claimPins for the same flow setting. Flow pins the
// configuration never claimed are left alone.
func (p *SerialPort) releasePins(flow types.FlowControl) {
	if p.pinSvc == nil {
		return
	}
	pins := []int{p.pins.TX, p.pins.RX}
	if flow.CTS() {
		pins = append(pins, p.pins.CTS)
	}
	if flow.RTS() {
		pins = append(pins, p.pins.RTS)
	}
	for _, pin := range pins {
		if pin != NoPin {
			_ = p.pinSvc.SetFunction(pin, PinNone)
		}
	}
}

// onEvent is the engine's handler. It routes each event to the line that
// owns the affected ring.
func (p *SerialPort) onEvent(ev Event) {
	switch ev.Kind {
	case EventRxDone, EventRxReady, EventRxByte:
		p.rx.Raise(func(st *rxState) { p.handleRx(st, ev) })
	case EventTxDone, EventTxReady:
		p.tx.Raise(func(st *txState) { p.handleTx(st, ev) })
	case EventError:
		p.stats.recordLineError(ev.Err)
		glog.Warningf("usart %s: line error: %v", p.name, ev.Err)
	}
}

func (p *SerialPort) requireEnabled(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != types.SerialEnabled {
		return errcode.Wrap(errcode.InvalidState, op, "port not enabled")
	}
	return nil
}

// requireActive admits Enabled and Suspended ports. Buffered data stays
// readable while suspended.
func (p *SerialPort) requireActive(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == types.SerialDisabled {
		return errcode.Wrap(errcode.InvalidState, op, "port not enabled")
	}
	return nil
}

func (p *SerialPort) signal(f types.EventFlags) { p.events.Set(evgroup.Flags(f)) }
