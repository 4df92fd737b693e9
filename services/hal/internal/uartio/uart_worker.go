package uartio

import (
	"context"
	"errors"
	"time"

	"go.uber.org/atomic"

	"usarthal-go/services/hal/internal/consts"
	"usarthal-go/services/hal/internal/util"
	"usarthal-go/types"
	"usarthal-go/x/mathx"
)

const (
	// pollWait bounds one readiness wait so shutdown is noticed.
	pollWait = 250 * time.Millisecond
	// retryWait paces the loop while the port is not enabled.
	retryWait = 100 * time.Millisecond
)

type Event struct {
	PortID string
	Dir    string // "rx" | "tx"
	Data   []byte
	TS     time.Time
}

// Source is the receive side of a serial port.
type Source interface {
	TryRead(p []byte) (int, error)
	WaitEventContext(ctx context.Context, flags types.EventFlags) (types.EventFlags, error)
}

type ReaderCfg struct {
	PortID    string
	Port      Source
	Mode      string        // "bytes" | "lines"
	MaxFrame  int           // clamp 16..256
	IdleFlush time.Duration // clamp 0..2s (lines mode)
}

// FromSpec fills the shaping fields from config.
func FromSpec(id string, src Source, rs types.ReaderSpec) ReaderCfg {
	mode := rs.Mode
	if mode != consts.ModeLines {
		mode = consts.ModeBytes
	}
	return ReaderCfg{
		PortID:    id,
		Port:      src,
		Mode:      mode,
		MaxFrame:  rs.MaxFrame,
		IdleFlush: util.Millis(rs.IdleFlushMS, 0, 2*time.Second),
	}
}

type Worker struct {
	outQ    chan Event
	dropped atomic.Uint64
}

func New(outBuf int) *Worker {
	if outBuf <= 0 {
		outBuf = 64
	}
	return &Worker{outQ: make(chan Event, outBuf)}
}

func (w *Worker) Events() <-chan Event { return w.outQ }

// Dropped counts events discarded because the consumer fell behind.
func (w *Worker) Dropped() uint64 { return w.dropped.Load() }

func (w *Worker) emit(ev Event) {
	select {
	case w.outQ <- ev:
	default:
		w.dropped.Inc()
	}
}

// Register starts a reader goroutine for a port. The returned stop cancels
// it and waits for it to exit.
func (w *Worker) Register(ctx context.Context, cfg ReaderCfg) (func(), error) {
	if cfg.Port == nil {
		return nil, errors.New("uartio: nil port")
	}
	max := mathx.Clamp(cfg.MaxFrame, 16, 256)
	idle := mathx.Clamp(cfg.IdleFlush, 0, 2*time.Second)
	lines := cfg.Mode == consts.ModeLines
	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		buf := make([]byte, max)
		var line []byte

		flush := func(now time.Time) {
			if len(line) == 0 {
				return
			}
			payload := append([]byte(nil), line...)
			line = line[:0]
			w.emit(Event{PortID: cfg.PortID, Dir: consts.TokRx, Data: payload, TS: now})
		}

		for {
			wait := pollWait
			pending := lines && len(line) > 0 && idle > 0
			if pending {
				wait = idle
			}
			wctx, wcancel := context.WithTimeout(cctx, wait)
			_, err := cfg.Port.WaitEventContext(wctx, types.EventReadable)
			wcancel()
			if cctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				if pending {
					flush(time.Now())
				}
				continue
			}
			if err != nil {
				// Disabled or suspended; keep what was gathered.
				if !sleepCtx(cctx, retryWait) {
					return
				}
				continue
			}

			n, err := cfg.Port.TryRead(buf)
			if err != nil || n <= 0 {
				continue
			}
			now := time.Now()
			if !lines {
				w.emit(Event{PortID: cfg.PortID, Dir: consts.TokRx, Data: append([]byte(nil), buf[:n]...), TS: now})
				continue
			}
			for _, b := range buf[:n] {
				switch b {
				case '\n':
					flush(now)
				case '\r':
				default:
					line = append(line, b)
					if len(line) == max {
						flush(now)
					}
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

// EmitTX publishes a TX echo event.
func (w *Worker) EmitTX(portID string, data []byte) {
	w.emit(Event{PortID: portID, Dir: consts.TokTx, Data: append([]byte(nil), data...), TS: time.Now()})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
