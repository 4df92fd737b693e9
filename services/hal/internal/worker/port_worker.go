package worker

import (
	"context"
	"time"

	"usarthal-go/errcode"
	"usarthal-go/services/hal/internal/halcore"
)

// PortWorker runs the operations of one port that may wait on the line,
// in submission order, off the service loop.
type PortWorker struct {
	cfg  halcore.WorkerConfig
	reqQ chan halcore.PortReq
	sink chan<- halcore.Result // fan-in sink owned by service
	done chan struct{}
}

func New(cfg halcore.WorkerConfig, sink chan<- halcore.Result) *PortWorker {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = time.Second
	}
	if cfg.InputQueueSize <= 0 {
		cfg.InputQueueSize = 16
	}
	return &PortWorker{
		cfg:  cfg,
		reqQ: make(chan halcore.PortReq, cfg.InputQueueSize),
		sink: sink,
		done: make(chan struct{}),
	}
}

// Submit queues req. Lifecycle operations wait briefly for room; writes
// are refused at once when the queue is full.
func (w *PortWorker) Submit(req halcore.PortReq) bool {
	select {
	case w.reqQ <- req:
		return true
	default:
		if req.Op != halcore.OpWrite {
			select {
			case w.reqQ <- req:
				return true
			case <-time.After(5 * time.Millisecond):
			}
		}
		return false
	}
}

func (w *PortWorker) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-w.reqQ:
				w.emit(ctx, w.run(ctx, req))
			}
		}
	}()
}

// Done is closed once the worker has exited.
func (w *PortWorker) Done() <-chan struct{} { return w.done }

func (w *PortWorker) run(ctx context.Context, req halcore.PortReq) halcore.Result {
	res := halcore.Result{Req: req}
	switch req.Op {
	case halcore.OpWrite:
		if !req.Block {
			res.N, res.Err = req.Port.TryWrite(req.Data)
			break
		}
		wctx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
		res.N, res.Err = req.Port.WriteAll(wctx, req.Data)
		cancel()
		if res.Err == context.DeadlineExceeded {
			res.Err = errcode.Timeout
		}
	case halcore.OpFlush:
		res.Err = req.Port.Flush()
	case halcore.OpSuspend:
		res.Err = req.Port.Suspend()
	default:
		res.Err = errcode.InvalidArgument
	}
	return res
}

func (w *PortWorker) emit(ctx context.Context, r halcore.Result) {
	select {
	case w.sink <- r:
	case <-ctx.Done():
	}
}
