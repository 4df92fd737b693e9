// Package hal owns the serial ports of a device and serves them on the bus.
package hal

import (
	"context"
	"time"

	"tinygo.org/x/drivers"

	"usarthal-go/bus"
	"usarthal-go/services/hal/internal/halcore"
	"usarthal-go/services/hal/internal/platform"
	"usarthal-go/services/hal/internal/service"
)

type Options struct {
	// WriteTimeout bounds a blocking write control. Zero means one second.
	WriteTimeout time.Duration
	// I2C carries bridge chips. Nil selects the board's default bus.
	I2C drivers.I2C
}

// Run serves hal/serial/... on conn until ctx ends. Ports are built from
// the retained config/hal document.
func Run(ctx context.Context, conn *bus.Connection, opts Options) {
	f := platform.NewFactory()
	f.I2C = opts.I2C
	service.New(conn, f.ForService(), halcore.WorkerConfig{WriteTimeout: opts.WriteTimeout}).Run(ctx)
}

// Setup returns a built-in board configuration.
func Setup(name string) (HALConfig, error) { return platform.Setup(name) }

// DefaultSetup is the configuration used on this build when none is named.
const DefaultSetup = platform.DefaultSetup

func SetupNames() []string { return platform.SetupNames() }

// SerialDevices lists serial devices visible to this build.
func SerialDevices() ([]string, error) { return platform.SerialDevices() }
