//go:build tinygo && !rp2040 && !rp2350

package platform

import (
	"fmt"

	"tinygo.org/x/drivers"

	"usarthal-go/drivers/usart"
	"usarthal-go/services/hal/internal/halerr"
)

// DefaultSetup names the configuration used when none is given.
const DefaultSetup = "loopback"

func openTTY(string) (closeLink, error) {
	return nil, fmt.Errorf("tty: %w", halerr.ErrUnsupported)
}

func openUARTX(string, usart.Pins) (streamLink, error) {
	return nil, fmt.Errorf("uartx: %w", halerr.ErrUnsupported)
}

func SerialDevices() ([]string, error) { return nil, nil }

func defaultI2C() (drivers.I2C, error) {
	return nil, fmt.Errorf("i2c: %w", halerr.ErrUnsupported)
}
