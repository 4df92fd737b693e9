package platform

import (
	"fmt"

	"usarthal-go/drivers/usart"
	"usarthal-go/services/hal/internal/halerr"
)

// EngineKind selects how a chip's engine is realised on this build.
type EngineKind uint8

const (
	EngineSimDMA EngineKind = iota
	EngineSimBytes
	EngineTTY
	EngineUARTX
	EngineI2CBridge
)

// Chip describes a serial controller family.
type Chip struct {
	Name     string
	Engine   EngineKind
	Baud     usart.BaudTable
	MaxChunk int
}

// nRF52840 UARTE BAUDRATE register values.
var nrf52840Baud = usart.ExactTable{
	1200:    0x0004F000,
	2400:    0x0009D000,
	4800:    0x0013B000,
	9600:    0x00275000,
	14400:   0x003AF000,
	19200:   0x004EA000,
	28800:   0x0075C000,
	38400:   0x009D0000,
	57600:   0x00EB0000,
	76800:   0x013A9000,
	115200:  0x01D60000,
	230400:  0x03B00000,
	250000:  0x04000000,
	460800:  0x07400000,
	921600:  0x0F000000,
	1000000: 0x10000000,
}

// STM32F2 USART on APB2 at 60 MHz with 16x oversampling. BRR holds
// mantissa and fraction, so the divisor is PCLK/baud rounded.
var stm32f2xxBaud = usart.OversampleTable{
	Clock:       60_000_000,
	Oversample:  1,
	MinDivisor:  16,
	MaxDivisor:  0xFFFF,
	TolPermille: 30,
}

// SC16IS7xx with a 14.7456 MHz crystal and the prescaler at 1.
var sc16is7xxBaud = usart.OversampleTable{
	Clock:       14_745_600,
	Oversample:  16,
	MinDivisor:  1,
	MaxDivisor:  0xFFFF,
	TolPermille: 20,
}

var chips = map[string]Chip{
	"sim":       {Name: "sim", Engine: EngineSimDMA, Baud: usart.AnyBaud{Min: 50, Max: 4_000_000}, MaxChunk: 64},
	"sim_bytes": {Name: "sim_bytes", Engine: EngineSimBytes, Baud: usart.AnyBaud{Min: 50, Max: 4_000_000}},
	"nrf52840":  {Name: "nrf52840", Engine: EngineSimDMA, Baud: nrf52840Baud, MaxChunk: 255},
	"stm32f2xx": {Name: "stm32f2xx", Engine: EngineSimBytes, Baud: stm32f2xxBaud},
	"tty":       {Name: "tty", Engine: EngineTTY, Baud: usart.AnyBaud{Min: 50, Max: 4_000_000}, MaxChunk: 256},
	"rp2":       {Name: "rp2", Engine: EngineUARTX, Baud: usart.AnyBaud{Min: 300, Max: 921_600}, MaxChunk: 32},
	"sc16is7xx": {Name: "sc16is7xx", Engine: EngineI2CBridge, Baud: sc16is7xxBaud, MaxChunk: 64},
}

func LookupChip(name string) (Chip, error) {
	c, ok := chips[name]
	if !ok {
		return Chip{}, fmt.Errorf("chip %q: %w", name, halerr.ErrUnknownChip)
	}
	return c, nil
}
