package usart

import (
	"go.uber.org/atomic"

	"usarthal-go/types"
	"usarthal-go/x/timex"
)

// Stats are diagnostic counters. Line errors surface only here.
type Stats struct {
	RxBytes  atomic.Uint64
	TxBytes  atomic.Uint64
	Overrun  atomic.Uint32 // hardware overrun plus bytes dropped on a full ring
	Framing  atomic.Uint32
	Parity   atomic.Uint32
	Break    atomic.Uint32
	RxRearms atomic.Uint32
	Clamped  atomic.Uint32 // completions that reported more than was staged
	Timeouts atomic.Uint32
	Wakeups  atomic.Uint32
}

func (s *Stats) recordLineError(e LineError) {
	if e&ErrOverrun != 0 {
		s.Overrun.Inc()
	}
	if e&ErrFraming != 0 {
		s.Framing.Inc()
	}
	if e&ErrParity != 0 {
		s.Parity.Inc()
	}
	if e&ErrBreak != 0 {
		s.Break.Inc()
	}
}

func (s *Stats) Snapshot() types.SerialStats {
	return types.SerialStats{
		RxBytes:  s.RxBytes.Load(),
		TxBytes:  s.TxBytes.Load(),
		Overrun:  s.Overrun.Load(),
		Framing:  s.Framing.Load(),
		Parity:   s.Parity.Load(),
		Break:    s.Break.Load(),
		RxRearms: s.RxRearms.Load(),
		Clamped:  s.Clamped.Load(),
		Timeouts: s.Timeouts.Load(),
		Wakeups:  s.Wakeups.Load(),
		TS:       timex.NowMs(),
	}
}
