package usart_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"usarthal-go/drivers/usart"
	"usarthal-go/drivers/usart/usartsim"
	"usarthal-go/errcode"
	"usarthal-go/types"
)

var cfg115200 = types.SerialConfig{Baud: 115200}

func newPort(t *testing.T, eng usart.Engine, rx, tx int, mod ...func(*usart.Options)) *usart.SerialPort {
	t.Helper()
	opts := usart.Options{
		Name:         "uart0",
		Engine:       eng,
		Pins:         usart.Pins{TX: 0, RX: 1, CTS: usart.NoPin, RTS: usart.NoPin},
		FlushTimeout: 100 * time.Millisecond,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
	}
	for _, m := range mod {
		m(&opts)
	}
	p := usart.New(opts)
	require.NoError(t, p.Init(make([]byte, rx), make([]byte, tx)))
	return p
}

func seq(from, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(from + i)
	}
	return b
}

func TestInitAndBeginValidation(t *testing.T) {
	eng := usartsim.NewDMA(64)
	p := usart.New(usart.Options{
		Name:   "uart0",
		Engine: eng,
		Pins:   usart.Pins{TX: 0, RX: 1, CTS: usart.NoPin, RTS: usart.NoPin},
	})
	require.ErrorIs(t, p.Begin(cfg115200), errcode.InvalidState)
	require.ErrorIs(t, p.Init(nil, make([]byte, 8)), errcode.InvalidArgument)
	require.NoError(t, p.Init(make([]byte, 64), make([]byte, 8)))

	require.ErrorIs(t, p.Begin(types.SerialConfig{Baud: 9600, DataBits: 9}), errcode.InvalidArgument)
	require.ErrorIs(t, p.Begin(types.SerialConfig{Baud: 9600, Parity: types.Parity(7)}), errcode.InvalidArgument)
	require.ErrorIs(t, p.Begin(types.SerialConfig{Baud: 9600, Flow: types.FlowRTS}), errcode.InvalidArgument)
	require.Equal(t, types.SerialDisabled, p.State())
	require.False(t, eng.Attached())
}

func TestBeginRejectsUnsupportedBaud(t *testing.T) {
	eng := usartsim.NewDMA(64)
	table := usart.ExactTable{9600: 0x00275000, 115200: 0x01D7E000}
	p := newPort(t, eng, 64, 8, func(o *usart.Options) { o.Baud = table })

	require.ErrorIs(t, p.Begin(types.SerialConfig{Baud: 300}), errcode.NotFound)
	require.Equal(t, types.SerialDisabled, p.State())

	require.NoError(t, p.Begin(cfg115200))
	require.Equal(t, uint32(0x01D7E000), eng.Divisor())
	require.True(t, p.IsEnabled())
	require.Equal(t, cfg115200, p.Config())
}

func TestDisabledPortRejectsOperations(t *testing.T) {
	p := newPort(t, usartsim.NewDMA(64), 64, 8)
	_, err := p.TryWrite([]byte{1})
	require.ErrorIs(t, err, errcode.InvalidState)
	_, err = p.TryRead(make([]byte, 1))
	require.ErrorIs(t, err, errcode.InvalidState)
	_, err = p.Data()
	require.ErrorIs(t, err, errcode.InvalidState)
	require.ErrorIs(t, p.Flush(), errcode.InvalidState)
	require.ErrorIs(t, p.Suspend(), errcode.InvalidState)
	require.ErrorIs(t, p.Restore(), errcode.InvalidState)
	require.ErrorIs(t, p.End(), errcode.InvalidState)
	_, err = p.WaitEvent(types.EventReadable, time.Millisecond)
	require.ErrorIs(t, err, errcode.InvalidState)
}

func TestWriteIsShortUnderBackpressureAndPipelines(t *testing.T) {
	eng := usartsim.NewDMA(64)
	p := newPort(t, eng, 64, 8)
	require.NoError(t, p.Begin(cfg115200))

	src := seq(0, 16)
	n, err := p.TryWrite(src)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, src[:8], eng.InFlight())

	n, err = p.TryWrite(src[8:])
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.Equal(t, 8, eng.CompleteTx())
	s, err := p.Space()
	require.NoError(t, err)
	require.Equal(t, 8, s)

	n, err = p.TryWrite(src[8:])
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, src[8:], eng.InFlight())
	eng.CompleteTx()
	require.Equal(t, src, eng.Sent())
	require.NoError(t, p.Flush())
	require.Equal(t, uint64(16), p.Stats().TxBytes.Load())
}

func TestCompletionStartsNextChunk(t *testing.T) {
	eng := usartsim.NewDMA(64)
	p := newPort(t, eng, 64, 8)
	require.NoError(t, p.Begin(cfg115200))

	_, err := p.TryWrite(seq(0, 4))
	require.NoError(t, err)
	_, err = p.TryWrite(seq(4, 4))
	require.NoError(t, err)
	require.Equal(t, seq(0, 4), eng.InFlight())

	eng.CompleteTx()
	require.Equal(t, seq(4, 4), eng.InFlight())
	eng.CompleteTx()
	require.Nil(t, eng.InFlight())
	require.Equal(t, seq(0, 8), eng.Sent())
}

func TestShortSendIsRetried(t *testing.T) {
	eng := usartsim.NewDMA(64)
	p := newPort(t, eng, 64, 8)
	require.NoError(t, p.Begin(cfg115200))

	_, err := p.TryWrite(seq(0, 8))
	require.NoError(t, err)
	require.Equal(t, 3, eng.CompleteTxN(3))
	require.Equal(t, seq(3, 5), eng.InFlight())
	eng.CompleteTx()
	require.Equal(t, seq(0, 8), eng.Sent())
}

func TestFlushTimesOutWhileTransmitting(t *testing.T) {
	eng := usartsim.NewDMA(64)
	p := newPort(t, eng, 64, 8, func(o *usart.Options) { o.FlushTimeout = 20 * time.Millisecond })
	require.NoError(t, p.Begin(cfg115200))
	_, err := p.TryWrite([]byte("hi"))
	require.NoError(t, err)
	require.ErrorIs(t, p.Flush(), errcode.Timeout)
	eng.CompleteTx()
	require.NoError(t, p.Flush())
}

func TestReceiveReconcilesLandedBytes(t *testing.T) {
	eng := usartsim.NewDMA(255)
	p := newPort(t, eng, 64, 8)
	require.NoError(t, p.Begin(cfg115200))
	require.Equal(t, 64-usart.ReservedRxSize, eng.RxArmed())

	eng.Feed([]byte("abc"))
	d, err := p.Data()
	require.NoError(t, err)
	require.Equal(t, 3, d)

	buf := make([]byte, 2)
	n, err := p.Peek(buf)
	require.NoError(t, err)
	require.Equal(t, "ab", string(buf[:n]))

	buf = make([]byte, 8)
	n, err = p.TryRead(buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf[:n]))

	n, err = p.TryRead(buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestFullRingStopsReceiverUntilRead(t *testing.T) {
	eng := usartsim.NewDMA(255)
	p := newPort(t, eng, 16, 8)
	require.NoError(t, p.Begin(cfg115200))
	require.Equal(t, 11, eng.RxArmed())

	eng.Feed(seq(0, 11))
	require.Equal(t, 0, eng.RxArmed())

	buf := make([]byte, 16)
	n, err := p.TryRead(buf)
	require.NoError(t, err)
	require.Equal(t, seq(0, 11), buf[:n])
	require.Equal(t, 11, eng.RxArmed())
}

func TestSuspendKeepsHardwareConfirmedBytes(t *testing.T) {
	eng := usartsim.NewDMA(255)
	p := newPort(t, eng, 64, 8)
	require.NoError(t, p.Begin(cfg115200))

	eng.Feed(seq(0, 5))
	d, err := p.Data()
	require.NoError(t, err)
	require.Equal(t, 5, d)

	// Five more land without being committed.
	eng.Feed(seq(5, 5))
	require.NoError(t, p.Suspend())
	require.Equal(t, types.SerialSuspended, p.State())
	require.Equal(t, 0, eng.RxArmed())
	require.False(t, eng.Attached())

	d, err = p.Data()
	require.NoError(t, err)
	require.Equal(t, 10, d)

	_, err = p.TryWrite([]byte{1})
	require.ErrorIs(t, err, errcode.InvalidState)

	require.NoError(t, p.Restore())
	require.True(t, p.IsEnabled())
	require.Equal(t, 64-10-usart.ReservedRxSize, eng.RxArmed())
	buf := make([]byte, 16)
	n, err := p.TryRead(buf)
	require.NoError(t, err)
	require.Equal(t, seq(0, 10), buf[:n])
}

func TestSuspendParksRTS(t *testing.T) {
	eng := usartsim.NewDMA(255)
	pins := usartsim.NewPins()
	p := newPort(t, eng, 64, 8, func(o *usart.Options) {
		o.Pins.RTS = 7
		o.PinSvc = pins
	})
	require.NoError(t, p.Begin(types.SerialConfig{Baud: 115200, Flow: types.FlowRTS}))
	require.True(t, eng.RTS())
	require.Equal(t, usart.PinUART, pins.Function(7))

	require.NoError(t, p.Suspend())
	require.False(t, eng.RTS())
	require.NoError(t, p.Restore())
	require.True(t, eng.RTS())
	require.Equal(t, types.FlowRTS, p.Config().Flow)
}

func TestReadsOverlapSuspendRestore(t *testing.T) {
	eng := usartsim.NewDMA(255)
	p := newPort(t, eng, 64, 8)
	require.NoError(t, p.Begin(cfg115200))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 8)
		for {
			select {
			case <-stop:
				return
			default:
			}
			_, _ = p.TryRead(buf)
			_, _ = p.Data()
		}
	}()

	for i := 0; i < 500; i++ {
		require.NoError(t, p.Suspend())
		require.NoError(t, p.Restore())
	}
	close(stop)
	<-done
	require.True(t, p.IsEnabled())
}

func TestEndLeavesUnclaimedFlowPins(t *testing.T) {
	eng := usartsim.NewDMA(255)
	pins := usartsim.NewPins()
	p := newPort(t, eng, 64, 8, func(o *usart.Options) {
		o.Pins.CTS = 6
		o.Pins.RTS = 7
		o.PinSvc = pins
	})
	// Another user owns the CTS pin; this port runs without CTS.
	require.NoError(t, pins.SetFunction(6, usart.PinUART))

	require.NoError(t, p.Begin(types.SerialConfig{Baud: 115200, Flow: types.FlowRTS}))
	require.Equal(t, usart.PinUART, pins.Function(7))

	require.NoError(t, p.End())
	require.Equal(t, usart.PinNone, pins.Function(0))
	require.Equal(t, usart.PinNone, pins.Function(7))
	require.Equal(t, usart.PinUART, pins.Function(6))
}

func TestEndClearsBuffersAndReleasesEngine(t *testing.T) {
	eng := usartsim.NewDMA(255)
	pins := usartsim.NewPins()
	p := newPort(t, eng, 64, 8, func(o *usart.Options) { o.PinSvc = pins })
	require.NoError(t, p.Begin(cfg115200))
	require.Equal(t, usart.PinUART, pins.Function(0))
	eng.Feed([]byte("xyz"))

	require.NoError(t, p.End())
	require.Equal(t, types.SerialDisabled, p.State())
	require.False(t, eng.Attached())
	require.Equal(t, usart.PinNone, pins.Function(0))

	require.NoError(t, p.Begin(cfg115200))
	d, err := p.Data()
	require.NoError(t, err)
	require.Equal(t, 0, d)
}

func TestBeginTwiceReconfigures(t *testing.T) {
	eng := usartsim.NewDMA(255)
	p := newPort(t, eng, 64, 8)
	require.NoError(t, p.Begin(cfg115200))
	cfg := types.SerialConfig{Baud: 9600, Parity: types.ParityEven, StopBits: types.StopBits2}
	require.NoError(t, p.Begin(cfg))
	require.Equal(t, cfg, eng.LineConfig())
	require.True(t, p.IsEnabled())
}

func TestEngineIsExclusive(t *testing.T) {
	eng := usartsim.NewDMA(64)
	a := newPort(t, eng, 64, 8)
	b := newPort(t, eng, 64, 8)
	require.NoError(t, a.Begin(cfg115200))
	require.ErrorIs(t, b.Begin(cfg115200), errcode.Busy)
	require.NoError(t, a.End())
	require.NoError(t, b.Begin(cfg115200))
}

func TestLineErrorsAreCountedNotFatal(t *testing.T) {
	eng := usartsim.NewDMA(64)
	p := newPort(t, eng, 64, 8)
	require.NoError(t, p.Begin(cfg115200))

	eng.InjectError(usart.ErrFraming | usart.ErrParity)
	eng.InjectError(usart.ErrBreak)
	st := p.Stats().Snapshot()
	require.Equal(t, uint32(1), st.Framing)
	require.Equal(t, uint32(1), st.Parity)
	require.Equal(t, uint32(1), st.Break)

	n, err := p.TryWrite([]byte("ok"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestWaitEventTimesOut(t *testing.T) {
	p := newPort(t, usartsim.NewDMA(64), 64, 8)
	require.NoError(t, p.Begin(cfg115200))

	start := time.Now()
	got, err := p.WaitEvent(types.EventReadable, 50*time.Millisecond)
	require.ErrorIs(t, err, errcode.Timeout)
	require.Equal(t, types.EventFlags(0), got)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	_, err = p.WaitEvent(types.EventReadable, 0)
	require.ErrorIs(t, err, errcode.InvalidArgument)
}

func TestWaitEventReturnsReadyFlagsAtOnce(t *testing.T) {
	p := newPort(t, usartsim.NewDMA(64), 64, 8)
	require.NoError(t, p.Begin(cfg115200))
	got, err := p.WaitEvent(types.EventReadable|types.EventWritable, time.Second)
	require.NoError(t, err)
	require.Equal(t, types.EventWritable, got)
}

func TestWaitEventWakesOnReceive(t *testing.T) {
	eng := usartsim.NewDMA(255)
	p := newPort(t, eng, 64, 8)
	require.NoError(t, p.Begin(cfg115200))

	go func() {
		time.Sleep(10 * time.Millisecond)
		eng.Feed([]byte{0x42})
	}()
	got, err := p.WaitEvent(types.EventReadable, time.Second)
	require.NoError(t, err)
	require.Equal(t, types.EventReadable, got)

	b, err := p.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(0x42), b)
}

func TestBlockingLoopback(t *testing.T) {
	eng := usartsim.NewDMA(16)
	eng.SetAutoComplete(true)
	eng.SetLoopback(true)
	p := newPort(t, eng, 64, 8)
	require.NoError(t, p.Begin(cfg115200))

	msg := []byte("split across several chunks")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := p.WriteAll(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, len(msg), n)

	got := make([]byte, len(msg))
	n, err = p.ReadAll(ctx, got)
	require.NoError(t, err)
	require.True(t, bytes.Equal(msg, got[:n]))

	_, err = p.Read(make([]byte, 4))
	require.ErrorIs(t, err, errcode.Timeout)
}

func TestByteEngineLoopback(t *testing.T) {
	eng := usartsim.NewBytes()
	eng.SetLoopback(true)
	p := newPort(t, eng, 16, 4)
	require.NoError(t, p.Begin(cfg115200))

	n, err := p.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NoError(t, p.Flush())
	require.Equal(t, []byte("hello"), eng.Sent())

	buf := make([]byte, 8)
	n, err = p.TryRead(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
	require.Equal(t, uint64(5), p.Stats().RxBytes.Load())
}

func TestByteEngineHeldLineBacksUp(t *testing.T) {
	eng := usartsim.NewBytes()
	p := newPort(t, eng, 16, 4, func(o *usart.Options) { o.FlushTimeout = 20 * time.Millisecond })
	require.NoError(t, p.Begin(cfg115200))

	eng.Hold(true)
	n, err := p.TryWrite([]byte("abcdef"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.ErrorIs(t, p.Flush(), errcode.Timeout)

	eng.Hold(false)
	require.NoError(t, p.Flush())
	require.Equal(t, []byte("abcd"), eng.Sent())
}

func TestByteEngineOverrunCounted(t *testing.T) {
	eng := usartsim.NewBytes()
	p := newPort(t, eng, 4, 4)
	require.NoError(t, p.Begin(cfg115200))
	eng.Feed(seq(0, 6))
	d, err := p.Data()
	require.NoError(t, err)
	require.Equal(t, 4, d)
	require.Equal(t, uint32(2), p.Stats().Overrun.Load())
}
