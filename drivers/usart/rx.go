package usart

import (
	"github.com/golang/glog"

	"usarthal-go/types"
	"usarthal-go/x/mathx"
)

// startReceiver arms a DMA receive into the largest free run, keeping
// ReservedRxSize back. It does nothing when a receive is already armed or
// the ring is too full; reads restart it.
func (p *SerialPort) startReceiver(st *rxState) {
	d, ok := p.mode.(dmaPath)
	if !ok || !st.active || st.receiving >= MaxScheduledReceivals {
		return
	}
	st.ring.AcquireBegin()
	acq := st.ring.Acquirable()
	wrapped := st.ring.AcquirableWrapped()
	size := mathx.Max(acq, wrapped)
	// The reserve may come from the other run when it is large enough.
	if size != acq || wrapped < ReservedRxSize {
		if size <= ReservedRxSize {
			glog.V(2).Infof("usart %s: rx stopped, acquirable %d/%d", p.name, acq, wrapped)
			return
		}
		size -= ReservedRxSize
	}
	if m := d.eng.MaxChunk(); m > 0 {
		size = mathx.Min(size, m)
	}
	g, ok := st.ring.Acquire(size)
	if !ok {
		return
	}
	st.receiving++
	st.committed = 0
	if err := d.eng.StartRx(g.Slice()); err != nil {
		glog.Warningf("usart %s: start rx: %v", p.name, err)
		_, _ = st.ring.AcquireCommit(0, size)
		st.receiving--
		return
	}
	p.stats.RxRearms.Inc()
	glog.V(2).Infof("usart %s: rx armed %d at %d", p.name, size, g.Offset())
}

// commitLanded publishes the bytes the engine reports as landed in the
// armed grant, clamped to what is still staged. When final is set the rest
// of the grant is released and the receive is closed.
func (p *SerialPort) commitLanded(st *rxState, landed int, final bool) int {
	pending := st.ring.AcquirePending()
	n := landed - st.committed
	if n < 0 {
		n = 0
	}
	if n > pending {
		p.stats.Clamped.Inc()
		n = pending
	}
	cancel := 0
	if final {
		cancel = pending - n
	}
	if n > 0 || cancel > 0 {
		if _, err := st.ring.AcquireCommit(n, cancel); err != nil {
			glog.Errorf("usart %s: rx commit %d/%d: %v", p.name, n, cancel, err)
			return 0
		}
	}
	st.committed += n
	if final {
		st.committed = 0
		if st.receiving > 0 {
			st.receiving--
		}
	}
	if n > 0 {
		p.stats.RxBytes.Add(uint64(n))
		p.signal(types.EventReadable)
	}
	return n
}

// reconcile commits whatever the armed receive has already landed.
func (p *SerialPort) reconcile(st *rxState) {
	d, ok := p.mode.(dmaPath)
	if !ok || st.receiving == 0 {
		return
	}
	p.commitLanded(st, d.eng.RxProgress(), false)
}

func (p *SerialPort) handleRx(st *rxState, ev Event) {
	if !st.active {
		return
	}
	switch ev.Kind {
	case EventRxDone:
		if st.receiving == 0 {
			return
		}
		p.commitLanded(st, ev.N, true)
		p.startReceiver(st)
	case EventRxReady:
		p.stats.Wakeups.Inc()
		p.reconcile(st)
	case EventRxByte:
		if _, err := st.ring.Put([]byte{ev.B}); err != nil {
			p.stats.Overrun.Inc()
			return
		}
		p.stats.RxBytes.Inc()
		p.signal(types.EventReadable)
	}
}

// Data is the number of received bytes ready to read. Bytes the engine
// has landed but not yet reported are committed first.
func (p *SerialPort) Data() (int, error) {
	if err := p.requireActive("data"); err != nil {
		return 0, err
	}
	var n int
	var err error
	p.rx.With(func(st *rxState) {
		p.reconcile(st)
		n, err = st.ring.Data()
	})
	return n, err
}

// Buffered is Data without the error, for drivers.UART.
func (p *SerialPort) Buffered() int {
	n, _ := p.Data()
	return n
}

// TryRead copies up to len(dst) received bytes and never blocks. A
// receiver stopped for lack of space is restarted.
func (p *SerialPort) TryRead(dst []byte) (int, error) {
	return p.readInto(dst, true)
}

// Peek is TryRead without consuming.
func (p *SerialPort) Peek(dst []byte) (int, error) {
	return p.readInto(dst, false)
}

func (p *SerialPort) readInto(dst []byte, consume bool) (int, error) {
	if err := p.requireActive("read"); err != nil {
		return 0, err
	}
	if len(dst) == 0 {
		return 0, nil
	}
	var n int
	var err error
	p.rx.With(func(st *rxState) {
		p.reconcile(st)
		var avail int
		if avail, err = st.ring.Data(); err != nil {
			return
		}
		n = mathx.Min(avail, len(dst))
		if n == 0 {
			return
		}
		if consume {
			n, err = st.ring.Get(dst[:n])
			p.startReceiver(st)
		} else {
			n, err = st.ring.Peek(dst[:n])
		}
	})
	return n, err
}
