//go:build rp2040 || rp2350

package platform

import (
	"context"
	"fmt"
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers"

	"usarthal-go/drivers/usart"
	"usarthal-go/services/hal/internal/halerr"
	"usarthal-go/types"
)

// uartxLink adapts an rp2 UART to a blocking stream.
type uartxLink struct {
	u    *uartx.UART
	tx   machine.Pin
	rx   machine.Pin
	init bool
}

func openUARTX(dev string, pins usart.Pins) (streamLink, error) {
	var hw *uartx.UART
	switch dev {
	case "uart0":
		hw = uartx.UART0
	case "uart1":
		hw = uartx.UART1
	default:
		return nil, fmt.Errorf("uartx %q: %w", dev, halerr.ErrUnknownPort)
	}
	return &uartxLink{u: hw, tx: machine.Pin(pins.TX), rx: machine.Pin(pins.RX)}, nil
}

func (l *uartxLink) Configure(cfg types.SerialConfig, baud uint32) error {
	if cfg.Flow != types.FlowNone {
		return fmt.Errorf("uartx flow control: %w", halerr.ErrUnsupported)
	}
	if !l.init {
		if err := l.u.Configure(uartx.UARTConfig{BaudRate: baud, TX: l.tx, RX: l.rx}); err != nil {
			return err
		}
		l.init = true
	} else {
		l.u.SetBaudRate(baud)
	}
	var stop uint8 = 1
	if cfg.StopBits == types.StopBits2 {
		stop = 2
	}
	var par uartx.UARTParity
	switch cfg.Parity {
	case types.ParityEven:
		par = uartx.ParityEven
	case types.ParityOdd:
		par = uartx.ParityOdd
	default:
		par = uartx.ParityNone
	}
	return l.u.SetFormat(cfg.Bits(), stop, par)
}

func (l *uartxLink) Write(p []byte) (int, error) { return l.u.Write(p) }

func (l *uartxLink) ReadContext(ctx context.Context, p []byte) (int, error) {
	return l.u.RecvSomeContext(ctx, p)
}

func (l *uartxLink) SetRTS(bool) error { return halerr.ErrUnsupported }

const DefaultSetup = "pico"

func openTTY(string) (closeLink, error) {
	return nil, fmt.Errorf("tty on mcu: %w", halerr.ErrUnsupported)
}

func SerialDevices() ([]string, error) { return []string{"uart0", "uart1"}, nil }

// defaultI2C brings up I2C0 on GP4/GP5 at 400 kHz.
func defaultI2C() (drivers.I2C, error) {
	bus := machine.I2C0
	if err := bus.Configure(machine.I2CConfig{
		SCL:       machine.GPIO5,
		SDA:       machine.GPIO4,
		Frequency: 400 * machine.KHz,
	}); err != nil {
		return nil, err
	}
	return bus, nil
}
