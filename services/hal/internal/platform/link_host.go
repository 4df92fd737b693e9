//go:build !tinygo

package platform

import (
	"fmt"

	"tinygo.org/x/drivers"

	"usarthal-go/drivers/usart"
	"usarthal-go/services/hal/internal/halerr"
	"usarthal-go/services/hal/internal/platform/hostport"
)

// DefaultSetup names the configuration used when none is given.
const DefaultSetup = "loopback"

func openTTY(dev string) (closeLink, error) {
	if dev == "" {
		return nil, fmt.Errorf("tty: no device: %w", halerr.ErrUnknownPort)
	}
	p, err := hostport.Open(dev)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func openUARTX(string, usart.Pins) (streamLink, error) {
	return nil, fmt.Errorf("uartx on host: %w", halerr.ErrUnsupported)
}

// SerialDevices lists the host's serial devices.
func SerialDevices() ([]string, error) { return hostport.List() }

func defaultI2C() (drivers.I2C, error) {
	return nil, fmt.Errorf("no i2c bus on host: %w", halerr.ErrUnsupported)
}
