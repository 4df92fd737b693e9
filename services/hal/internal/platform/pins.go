package platform

import (
	"fmt"
	"sync"

	"usarthal-go/drivers/usart"
	"usarthal-go/services/hal/internal/halerr"
)

// PinRegistry tracks which port owns each GPIO and the function it last
// set. On MCUs the UART driver routes the pins itself; the registry keeps
// two ports from claiming the same one.
type PinRegistry struct {
	mu       sync.Mutex
	min, max int
	used     map[int]string // pin -> owner
	fn       map[int]usart.PinFunc
}

func NewPinRegistry(min, max int) *PinRegistry {
	return &PinRegistry{
		min:  min,
		max:  max,
		used: make(map[int]string),
		fn:   make(map[int]usart.PinFunc),
	}
}

// Claim reserves pins for owner. NoPin entries are skipped. Nothing is
// claimed when any pin is invalid or taken.
func (r *PinRegistry) Claim(owner string, pins ...int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range pins {
		if n == usart.NoPin {
			continue
		}
		if n < r.min || n > r.max {
			return fmt.Errorf("pin %d: %w", n, halerr.ErrUnknownPin)
		}
		if o, ok := r.used[n]; ok && o != owner {
			return fmt.Errorf("pin %d held by %s: %w", n, o, halerr.ErrPinInUse)
		}
	}
	for _, n := range pins {
		if n != usart.NoPin {
			r.used[n] = owner
		}
	}
	return nil
}

// Release frees every pin held by owner.
func (r *PinRegistry) Release(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n, o := range r.used {
		if o == owner {
			delete(r.used, n)
			delete(r.fn, n)
		}
	}
}

func (r *PinRegistry) Owner(pin int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.used[pin]
	return o, ok
}

func (r *PinRegistry) Function(pin int) usart.PinFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fn[pin]
}

// For returns the pin service a port uses to switch its claimed pins.
func (r *PinRegistry) For(owner string) usart.PinService { return ownerPins{r: r, owner: owner} }

type ownerPins struct {
	r     *PinRegistry
	owner string
}

func (o ownerPins) SetFunction(pin int, f usart.PinFunc) error {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	if got := o.r.used[pin]; got != o.owner {
		return fmt.Errorf("pin %d not held by %s: %w", pin, o.owner, halerr.ErrPinInUse)
	}
	o.r.fn[pin] = f
	return nil
}
