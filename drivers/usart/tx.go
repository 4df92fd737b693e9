package usart

import (
	"github.com/golang/glog"

	"usarthal-go/types"
	"usarthal-go/x/mathx"
	"usarthal-go/x/timex"
)

// startTransmission hands the next consumable chunk to the engine when the
// transmitter is idle. Completion handlers call it again, which keeps
// chunks flowing without the caller.
func (p *SerialPort) startTransmission(st *txState) {
	if !st.active || st.transmitting || st.ring.Empty() {
		return
	}
	switch m := p.mode.(type) {
	case dmaPath:
		n := st.ring.Consumable()
		if c := m.eng.MaxChunk(); c > 0 {
			n = mathx.Min(n, c)
		}
		g, ok := st.ring.Consume(n)
		if !ok {
			return
		}
		st.transmitting = true
		if err := m.eng.StartTx(g.Slice()); err != nil {
			glog.Warningf("usart %s: start tx: %v", p.name, err)
			_, _ = st.ring.ConsumeCommit(0, n)
			st.transmitting = false
			return
		}
		glog.V(2).Infof("usart %s: tx %d at %d", p.name, n, g.Offset())
	case irqPath:
		st.transmitting = true
		m.eng.EnableTxReady(true)
	}
}

func (p *SerialPort) handleTx(st *txState, ev Event) {
	if !st.active {
		return
	}
	switch ev.Kind {
	case EventTxDone:
		if !st.transmitting {
			return
		}
		pending := st.ring.ConsumePending()
		n := ev.N
		if n > pending {
			p.stats.Clamped.Inc()
			n = pending
		}
		if n < 0 {
			n = 0
		}
		if _, err := st.ring.ConsumeCommit(n, pending-n); err != nil {
			glog.Errorf("usart %s: tx commit %d/%d: %v", p.name, n, pending-n, err)
		}
		st.transmitting = false
		p.stats.TxBytes.Add(uint64(n))
		p.signal(types.EventWritable)
		p.startTransmission(st)
	case EventTxReady:
		m, ok := p.mode.(irqPath)
		if !ok {
			return
		}
		var b [1]byte
		if _, err := st.ring.Get(b[:]); err != nil {
			st.transmitting = false
			m.eng.EnableTxReady(false)
			return
		}
		m.eng.TxByte(b[0])
		p.stats.TxBytes.Inc()
		p.signal(types.EventWritable)
	}
}

// Space is the free room in the TX ring.
func (p *SerialPort) Space() (int, error) {
	if err := p.requireActive("space"); err != nil {
		return 0, err
	}
	var n int
	var err error
	p.tx.With(func(st *txState) { n, err = st.ring.Space() })
	return n, err
}

// TryWrite queues as much of src as fits and starts transmission. It
// never blocks; a short count means the ring is full.
func (p *SerialPort) TryWrite(src []byte) (int, error) {
	if err := p.requireEnabled("write"); err != nil {
		return 0, err
	}
	if len(src) == 0 {
		return 0, nil
	}
	var n int
	var err error
	p.tx.With(func(st *txState) {
		var space int
		if space, err = st.ring.Space(); err != nil {
			return
		}
		n = mathx.Min(space, len(src))
		if n > 0 {
			n, err = st.ring.Put(src[:n])
		}
		p.startTransmission(st)
	})
	return n, err
}

// Flush waits until the TX ring is empty and the transmitter is idle. It
// fails with errcode.Timeout after the configured flush timeout.
func (p *SerialPort) Flush() error {
	if err := p.requireEnabled("flush"); err != nil {
		return err
	}
	return p.drainTx()
}

func (p *SerialPort) drainTx() error {
	err := timex.Spin(func() bool {
		done := false
		p.tx.With(func(st *txState) {
			done = !st.transmitting && st.ring.Empty()
		})
		return done && p.eng.TxIdle()
	}, p.flushTimeout, 0)
	if err != nil {
		p.stats.Timeouts.Inc()
	}
	return err
}
