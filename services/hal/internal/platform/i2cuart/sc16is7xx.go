// Package i2cuart drives one channel of an SC16IS7xx I2C-to-UART bridge as
// a blocking stream for streameng.
package i2cuart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"usarthal-go/drivers/usart"
	"usarthal-go/errcode"
	"usarthal-go/types"
)

const DefaultAddress = 0x48

// Registers. DLL and DLH alias RHR and IER while LCR bit 7 is set.
const (
	regRHR   = 0x00
	regTHR   = 0x00
	regDLL   = 0x00
	regIER   = 0x01
	regDLH   = 0x01
	regFCR   = 0x02
	regLCR   = 0x03
	regMCR   = 0x04
	regLSR   = 0x05
	regTXLVL = 0x08
	regRXLVL = 0x09
)

const (
	lcrParityEn   = 1 << 3
	lcrParityEven = 1 << 4
	lcrStop2      = 1 << 2
	lcrLatch      = 1 << 7

	fcrEnable  = 1 << 0
	fcrResetRx = 1 << 1
	fcrResetTx = 1 << 2

	mcrRTS = 1 << 1

	lsrData    = 1 << 0
	lsrOverrun = 1 << 1
	lsrParity  = 1 << 2
	lsrFraming = 1 << 3
	lsrBreak   = 1 << 4
)

// PollInterval is how often ReadContext samples RXLVL while idle.
var PollInterval = 2 * time.Millisecond

// Bridge is one UART channel behind the I2C bus.
type Bridge struct {
	mu   sync.Mutex
	bus  drivers.I2C
	addr uint16
	ch   uint8
	mcr  byte
}

func New(bus drivers.I2C, addr uint16, channel uint8) *Bridge {
	if addr == 0 {
		addr = DefaultAddress
	}
	return &Bridge{bus: bus, addr: addr, ch: channel & 1}
}

func (b *Bridge) sub(reg byte) byte { return reg<<3 | b.ch<<1 }

func (b *Bridge) writeReg(reg byte, v ...byte) error {
	w := make([]byte, 1+len(v))
	w[0] = b.sub(reg)
	copy(w[1:], v)
	return b.bus.Tx(b.addr, w, nil)
}

func (b *Bridge) readReg(reg byte, r []byte) error {
	return b.bus.Tx(b.addr, []byte{b.sub(reg)}, r)
}

func (b *Bridge) reg(reg byte) (byte, error) {
	var v [1]byte
	err := b.readReg(reg, v[:])
	return v[0], err
}

// LCR encodes the frame format.
func LCR(cfg types.SerialConfig) (byte, error) {
	bits := cfg.Bits()
	if bits < 5 || bits > 8 {
		return 0, errcode.Wrap(errcode.InvalidArgument, "sc16is7xx", fmt.Sprintf("data bits %d", bits))
	}
	v := bits - 5
	switch cfg.StopBits {
	case types.StopBits2:
		v |= lcrStop2
	case types.StopBits1_5:
		if bits != 5 {
			return 0, errcode.Wrap(errcode.Unsupported, "sc16is7xx", "1.5 stop bits need 5 data bits")
		}
		v |= lcrStop2
	}
	switch cfg.Parity {
	case types.ParityEven:
		v |= lcrParityEn | lcrParityEven
	case types.ParityOdd:
		v |= lcrParityEn
	}
	return v, nil
}

// Configure programs the divisor latch and frame, then resets both FIFOs.
func (b *Bridge) Configure(cfg types.SerialConfig, divisor uint32) error {
	if cfg.Flow.CTS() {
		return errcode.Wrap(errcode.Unsupported, "sc16is7xx", "auto cts")
	}
	lcr, err := LCR(cfg)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	steps := []struct {
		reg byte
		v   byte
	}{
		{regIER, 0},
		{regLCR, lcrLatch},
		{regDLL, byte(divisor)},
		{regDLH, byte(divisor >> 8)},
		{regLCR, lcr},
		{regFCR, fcrEnable | fcrResetRx | fcrResetTx},
	}
	for _, s := range steps {
		if err := b.writeReg(s.reg, s.v); err != nil {
			return fmt.Errorf("sc16is7xx: configure: %w", err)
		}
	}
	return nil
}

// Write blocks until p has been loaded into the transmit FIFO.
func (b *Bridge) Write(p []byte) (int, error) {
	done := 0
	for done < len(p) {
		b.mu.Lock()
		room, err := b.reg(regTXLVL)
		if err == nil && room > 0 {
			k := int(room)
			if k > len(p)-done {
				k = len(p) - done
			}
			if err = b.writeReg(regTHR, p[done:done+k]...); err == nil {
				done += k
			}
		}
		b.mu.Unlock()
		if err != nil {
			return done, err
		}
		if room == 0 {
			time.Sleep(PollInterval)
		}
	}
	return done, nil
}

// ReadContext polls until the receive FIFO holds data. Receiver errors
// are returned as a usart.LineError with the bytes read.
func (b *Bridge) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := b.readSome(p)
		if n > 0 || err != nil {
			return n, err
		}
		t := time.NewTimer(PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-t.C:
		}
	}
}

func (b *Bridge) readSome(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lsr, err := b.reg(regLSR)
	if err != nil {
		return 0, err
	}
	lerr := lineError(lsr)
	if lsr&lsrData == 0 {
		if lerr != 0 {
			return 0, lerr
		}
		return 0, nil
	}
	lvl, err := b.reg(regRXLVL)
	if err != nil {
		return 0, err
	}
	n := int(lvl)
	if n > len(p) {
		n = len(p)
	}
	if n == 0 {
		n = 1
	}
	if err := b.readReg(regRHR, p[:n]); err != nil {
		return 0, err
	}
	if lerr != 0 {
		return n, lerr
	}
	return n, nil
}

func lineError(lsr byte) usart.LineError {
	var e usart.LineError
	if lsr&lsrOverrun != 0 {
		e |= usart.ErrOverrun
	}
	if lsr&lsrParity != 0 {
		e |= usart.ErrParity
	}
	if lsr&lsrFraming != 0 {
		e |= usart.ErrFraming
	}
	if lsr&lsrBreak != 0 {
		e |= usart.ErrBreak
	}
	return e
}

func (b *Bridge) SetRTS(asserted bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if asserted {
		b.mcr |= mcrRTS
	} else {
		b.mcr &^= mcrRTS
	}
	return b.writeReg(regMCR, b.mcr)
}
