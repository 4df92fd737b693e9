package usart

import (
	"context"
	"time"

	"usarthal-go/errcode"
	"usarthal-go/types"
	"usarthal-go/x/evgroup"
)

// WaitEvent blocks until one of flags holds: EventReadable when received
// data is buffered, EventWritable when the TX ring has room. It returns the
// subset that fired. Conditions already true return at once. timeout must
// be positive; expiry is errcode.Timeout and leaves transfers running.
func (p *SerialPort) WaitEvent(flags types.EventFlags, timeout time.Duration) (types.EventFlags, error) {
	if timeout <= 0 {
		return 0, errcode.Wrap(errcode.InvalidArgument, "wait", "timeout must be positive")
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	got, err := p.waitEvent(ctx, flags)
	if err == context.DeadlineExceeded {
		p.stats.Timeouts.Inc()
		return 0, errcode.Timeout
	}
	return got, err
}

// WaitEventContext is WaitEvent bounded by ctx. Expiry returns ctx.Err()
// and is not counted as a timeout.
func (p *SerialPort) WaitEventContext(ctx context.Context, flags types.EventFlags) (types.EventFlags, error) {
	return p.waitEvent(ctx, flags)
}

func (p *SerialPort) waitEvent(ctx context.Context, flags types.EventFlags) (types.EventFlags, error) {
	all := types.EventReadable | types.EventWritable
	if flags == 0 || flags&^all != 0 {
		return 0, errcode.Wrap(errcode.InvalidArgument, "wait", "unknown flags")
	}
	if err := p.requireEnabled("wait"); err != nil {
		return 0, err
	}
	// Clear and arm before sampling so a signal raised after the sample is
	// kept.
	p.events.Clear(evgroup.Flags(flags))
	defer p.armEvents(flags)()
	if ready := p.ready(flags); ready != 0 {
		return ready, nil
	}

	for {
		got, err := p.events.Wait(ctx, evgroup.Flags(flags))
		if err != nil {
			return 0, err
		}
		if ready := p.ready(types.EventFlags(got)); ready != 0 {
			return ready, nil
		}
		// A stale signal whose condition was consumed meanwhile.
		p.stats.Wakeups.Inc()
	}
}

func (p *SerialPort) ready(flags types.EventFlags) types.EventFlags {
	var out types.EventFlags
	if flags&types.EventReadable != 0 {
		if n, err := p.Data(); err == nil && n > 0 {
			out |= types.EventReadable
		}
	}
	if flags&types.EventWritable != 0 {
		if n, err := p.Space(); err == nil && n > 0 {
			out |= types.EventWritable
		}
	}
	return out
}

// armEvents enables the engine interrupts for flags on behalf of one
// waiter and returns the matching disarm. Waiters on different goroutines
// share the interrupt enables.
func (p *SerialPort) armEvents(flags types.EventFlags) func() {
	p.irqMu.Lock()
	p.setRefsLocked(flags, 1)
	p.irqMu.Unlock()
	return func() {
		p.irqMu.Lock()
		p.setRefsLocked(flags, -1)
		p.irqMu.Unlock()
	}
}

func (p *SerialPort) setRefsLocked(flags types.EventFlags, d int) {
	var on types.EventFlags
	for i, f := range []types.EventFlags{types.EventReadable, types.EventWritable} {
		if flags&f != 0 {
			p.irqRefs[i] += d
		}
		if p.irqRefs[i] > 0 {
			on |= f
		}
	}
	p.eng.SetEventInterrupts(on)
}
