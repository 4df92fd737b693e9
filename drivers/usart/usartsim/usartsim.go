// Package usartsim provides in-memory serial engines that stand in for
// chip peripherals. Completions are delivered synchronously on the
// goroutine that causes them, so tests step the hardware explicitly.
package usartsim

import (
	"sync"

	"usarthal-go/drivers/usart"
	"usarthal-go/errcode"
	"usarthal-go/types"
)

// DefaultFIFO is the receive FIFO depth used while no receive is armed.
const DefaultFIFO = 32

// core is the state shared by both engine flavours.
type core struct {
	mu      sync.Mutex
	handler func(usart.Event)
	cfg     types.SerialConfig
	divisor uint32
	started bool
	rts     bool
	irqs    types.EventFlags
}

func (c *core) Attach(h func(usart.Event)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		return errcode.Wrap(errcode.Busy, "attach", "engine in use")
	}
	c.handler = h
	return nil
}

func (c *core) Detach() {
	c.mu.Lock()
	c.handler = nil
	c.mu.Unlock()
}

func (c *core) Configure(cfg types.SerialConfig, divisor uint32) error {
	c.mu.Lock()
	c.cfg, c.divisor = cfg, divisor
	c.mu.Unlock()
	return nil
}

func (c *core) SetEventInterrupts(f types.EventFlags) {
	c.mu.Lock()
	c.irqs = f
	c.mu.Unlock()
}

func (c *core) SetRTS(asserted bool) {
	c.mu.Lock()
	c.rts = asserted
	c.mu.Unlock()
}

// Attached reports whether a port holds the engine.
func (c *core) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

func (c *core) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *core) RTS() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rts
}

func (c *core) Divisor() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.divisor
}

func (c *core) LineConfig() types.SerialConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// InjectError reports a receiver error to the attached port.
func (c *core) InjectError(e usart.LineError) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	deliver(h, usart.Event{Kind: usart.EventError, Err: e})
}

// deliver runs h for each event. Callers must not hold any engine lock.
func deliver(h func(usart.Event), evs ...usart.Event) {
	if h == nil {
		return
	}
	for _, ev := range evs {
		h(ev)
	}
}
