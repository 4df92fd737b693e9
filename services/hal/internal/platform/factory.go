package platform

import (
	"fmt"
	"io"

	"github.com/golang/glog"
	"tinygo.org/x/drivers"

	"usarthal-go/drivers/usart"
	"usarthal-go/drivers/usart/usartsim"
	"usarthal-go/services/hal/internal/halcore"
	"usarthal-go/services/hal/internal/halerr"
	"usarthal-go/services/hal/internal/platform/i2cuart"
	"usarthal-go/services/hal/internal/platform/streameng"
	"usarthal-go/types"
)

const (
	DefaultRxBuffer = 256
	DefaultTxBuffer = 256

	// GPIO numbers accepted by the pin registry.
	MinPin = 0
	MaxPin = 63
)

// Built is a port ready for Begin, with everything needed to tear it down.
type Built struct {
	Spec   types.SerialPortSpec
	Chip   Chip
	Port   *usart.SerialPort
	Engine usart.Engine

	pins   *PinRegistry
	closer io.Closer
}

// Close ends the port, frees its pins and closes the underlying link.
func (b *Built) Close() error {
	if b.Port.State() != types.SerialDisabled {
		if err := b.Port.End(); err != nil {
			glog.Warningf("platform: end %s: %v", b.Spec.ID, err)
		}
	}
	b.pins.Release(b.Spec.ID)
	if b.closer != nil {
		return b.closer.Close()
	}
	return nil
}

// Factory builds ports from config against one pin registry.
type Factory struct {
	Pins *PinRegistry
	// I2C carries bridge chips. Nil selects the board's default bus.
	I2C drivers.I2C
}

func NewFactory() *Factory { return &Factory{Pins: NewPinRegistry(MinPin, MaxPin)} }

func (f *Factory) i2c() (drivers.I2C, error) {
	if f.I2C == nil {
		bus, err := defaultI2C()
		if err != nil {
			return nil, err
		}
		f.I2C = bus
	}
	return f.I2C, nil
}

func pinOr(p *int) int {
	if p == nil {
		return usart.NoPin
	}
	return *p
}

// Build creates the engine and port for spec and binds its storage.
func (f *Factory) Build(spec types.SerialPortSpec) (*Built, error) {
	chip, err := LookupChip(spec.Chip)
	if err != nil {
		return nil, err
	}
	pins := usart.Pins{
		TX:  pinOr(spec.Pins.TX),
		RX:  pinOr(spec.Pins.RX),
		CTS: pinOr(spec.Pins.CTS),
		RTS: pinOr(spec.Pins.RTS),
	}
	if err := f.Pins.Claim(spec.ID, pins.TX, pins.RX, pins.CTS, pins.RTS); err != nil {
		return nil, fmt.Errorf("build %s: %w", spec.ID, err)
	}
	chunk := spec.MaxChunk
	if chunk <= 0 {
		chunk = chip.MaxChunk
	}

	var eng usart.Engine
	var closer io.Closer
	switch chip.Engine {
	case EngineSimDMA:
		d := usartsim.NewDMA(chunk)
		d.SetAutoComplete(true)
		d.SetLoopback(spec.Loopback)
		eng = d
	case EngineSimBytes:
		b := usartsim.NewBytes()
		b.SetLoopback(spec.Loopback)
		eng = b
	case EngineTTY:
		l, err := openTTY(spec.Device)
		if err != nil {
			f.Pins.Release(spec.ID)
			return nil, fmt.Errorf("build %s: %w", spec.ID, err)
		}
		eng, closer = streameng.New(spec.ID, l, chunk), l
	case EngineUARTX:
		l, err := openUARTX(spec.Device, pins)
		if err != nil {
			f.Pins.Release(spec.ID)
			return nil, fmt.Errorf("build %s: %w", spec.ID, err)
		}
		eng = streameng.New(spec.ID, l, chunk)
	case EngineI2CBridge:
		bus, err := f.i2c()
		if err != nil {
			f.Pins.Release(spec.ID)
			return nil, fmt.Errorf("build %s: %w", spec.ID, err)
		}
		var at types.BridgeSpec
		if spec.Bridge != nil {
			at = *spec.Bridge
		}
		if at.Channel > 1 {
			f.Pins.Release(spec.ID)
			return nil, fmt.Errorf("build %s: bridge channel %d: %w", spec.ID, at.Channel, halerr.ErrInvalidPayload)
		}
		eng = streameng.New(spec.ID, i2cuart.New(bus, at.Address, at.Channel), chunk)
	}

	port := usart.New(usart.Options{
		Name:   spec.ID,
		Engine: eng,
		Baud:   chip.Baud,
		Pins:   pins,
		PinSvc: f.Pins.For(spec.ID),
	})
	rx, tx := spec.RxBuffer, spec.TxBuffer
	if rx <= 0 {
		rx = DefaultRxBuffer
	}
	if tx <= 0 {
		tx = DefaultTxBuffer
	}
	if err := port.Init(make([]byte, rx), make([]byte, tx)); err != nil {
		f.Pins.Release(spec.ID)
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	glog.V(1).Infof("platform: built %s chip=%s rx=%d tx=%d", spec.ID, chip.Name, rx, tx)
	return &Built{Spec: spec, Chip: chip, Port: port, Engine: eng, pins: f.Pins, closer: closer}, nil
}

// ForService adapts the factory to the service's builder contract.
func (f *Factory) ForService() halcore.PortBuilder { return serviceBuilder{f} }

type serviceBuilder struct{ f *Factory }

func (b serviceBuilder) Build(spec types.SerialPortSpec) (halcore.Built, error) {
	bt, err := b.f.Build(spec)
	if err != nil {
		return halcore.Built{}, err
	}
	return halcore.Built{Port: bt.Port, Close: bt.Close}, nil
}
