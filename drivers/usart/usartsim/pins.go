package usartsim

import (
	"sync"

	"usarthal-go/drivers/usart"
)

// Pins records pin functions set by a port.
type Pins struct {
	mu  sync.Mutex
	fns map[int]usart.PinFunc
}

func NewPins() *Pins { return &Pins{fns: map[int]usart.PinFunc{}} }

func (p *Pins) SetFunction(pin int, f usart.PinFunc) error {
	p.mu.Lock()
	p.fns[pin] = f
	p.mu.Unlock()
	return nil
}

func (p *Pins) Function(pin int) usart.PinFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fns[pin]
}
