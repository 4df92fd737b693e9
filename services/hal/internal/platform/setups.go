package platform

import (
	"fmt"
	"sort"

	"usarthal-go/errcode"
	"usarthal-go/types"
)

func pin(n int) *int { return &n }

var line115200 = &types.SerialConfig{Baud: 115200}

// setups are the built-in board configurations, selectable by name when no
// config/hal document is supplied.
var setups = map[string]types.HALConfig{
	"loopback": {
		StatsEveryMS: 5000,
		Ports: []types.SerialPortSpec{
			{ID: "uart0", Chip: "sim", Loopback: true, Default: line115200},
			{ID: "uart1", Chip: "sim_bytes", Loopback: true, Default: line115200,
				Reader: types.ReaderSpec{Mode: "lines", IdleFlushMS: 50}},
		},
	},
	"pico": {
		StatsEveryMS: 10000,
		Ports: []types.SerialPortSpec{
			{ID: "uart0", Chip: "rp2", Device: "uart0",
				Pins: types.SerialPins{TX: pin(0), RX: pin(1)}, Default: line115200},
			{ID: "uart1", Chip: "rp2", Device: "uart1",
				Pins: types.SerialPins{TX: pin(8), RX: pin(9)}, Default: line115200},
		},
	},
	"nrf52840": {
		Ports: []types.SerialPortSpec{
			{ID: "uarte0", Chip: "nrf52840", Loopback: true,
				Pins:    types.SerialPins{TX: pin(6), RX: pin(8), CTS: pin(7), RTS: pin(5)},
				Default: line115200},
		},
	},
	"pico-bridge": {
		Ports: []types.SerialPortSpec{
			{ID: "uart0", Chip: "rp2", Device: "uart0",
				Pins: types.SerialPins{TX: pin(0), RX: pin(1)}, Default: line115200},
			{ID: "ext0", Chip: "sc16is7xx", Bridge: &types.BridgeSpec{Channel: 0}, Default: line115200},
			{ID: "ext1", Chip: "sc16is7xx", Bridge: &types.BridgeSpec{Channel: 1}, Default: line115200},
		},
	},
}

// Setup returns a copy of the named configuration.
func Setup(name string) (types.HALConfig, error) {
	s, ok := setups[name]
	if !ok {
		return types.HALConfig{}, fmt.Errorf("setup %q: %w", name, errcode.NotFound)
	}
	out := s
	out.Ports = append([]types.SerialPortSpec(nil), s.Ports...)
	return out, nil
}

func SetupNames() []string {
	out := make([]string, 0, len(setups))
	for k := range setups {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
