package hal

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"usarthal-go/drivers/usart"
	"usarthal-go/services/hal/internal/halerr"
	"usarthal-go/services/hal/internal/platform"
	"usarthal-go/types"
)

type HALConfig = types.HALConfig

var (
	ErrUnknownPort   = halerr.ErrUnknownPort
	ErrDuplicatePort = halerr.ErrDuplicatePort
)

// Ports gives direct access to ports without the bus, for programs that
// drive a UART themselves.
type Ports struct {
	mu    sync.Mutex
	built map[string]*platform.Built
}

// NewPorts builds every port in cfg and begins those with a default
// configuration. Nothing is left claimed on failure.
func NewPorts(cfg HALConfig) (*Ports, error) {
	f := platform.NewFactory()
	p := &Ports{built: map[string]*platform.Built{}}
	for _, spec := range cfg.Ports {
		if _, dup := p.built[spec.ID]; dup {
			p.Close()
			return nil, fmt.Errorf("port %s: %w", spec.ID, ErrDuplicatePort)
		}
		b, err := f.Build(spec)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.built[spec.ID] = b
		if spec.Default != nil {
			if err := b.Port.Begin(*spec.Default); err != nil {
				p.Close()
				return nil, fmt.Errorf("port %s: %w", spec.ID, err)
			}
		}
	}
	return p, nil
}

// Port returns the shared port for id.
func (p *Ports) Port(id string) (*usart.SerialPort, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.built[id]
	if !ok {
		return nil, fmt.Errorf("port %s: %w", id, ErrUnknownPort)
	}
	return b.Port, nil
}

func (p *Ports) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.built))
	for id := range p.built {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close ends every port and releases its resources.
func (p *Ports) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for id, b := range p.built {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("port %s: %w", id, err))
		}
		delete(p.built, id)
	}
	return errors.Join(errs...)
}
