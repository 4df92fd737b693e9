package usart

import (
	"github.com/golang/glog"

	"usarthal-go/errcode"
	"usarthal-go/types"
)

// Suspend drains TX, closes the armed receive keeping exactly the bytes
// the engine confirmed, and powers the engine down. Ring contents are kept
// for Restore.
func (p *SerialPort) Suspend() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != types.SerialEnabled {
		return errcode.Wrap(errcode.InvalidState, "suspend", "port not enabled")
	}
	if err := p.drainTx(); err != nil {
		return &errcode.E{C: errcode.Of(err), Op: "suspend", Msg: "tx drain", Err: err}
	}
	if p.cfg.Flow.RTS() {
		// Hold the peer off while the receiver is down.
		p.eng.SetRTS(false)
	}
	if d, ok := p.mode.(dmaPath); ok {
		p.rx.With(func(st *rxState) {
			if st.receiving == 0 {
				return
			}
			kept := p.commitLanded(st, d.eng.StopRx(), true)
			glog.V(2).Infof("usart %s: suspend kept %d rx bytes", p.name, kept)
		})
	}
	p.stopLocked()
	p.state = types.SerialSuspended
	glog.V(1).Infof("usart %s: suspended", p.name)
	return nil
}

// Restore re-runs the begin sequence with the configuration in force at
// Suspend. Buffered data survives.
func (p *SerialPort) Restore() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != types.SerialSuspended {
		return errcode.Wrap(errcode.InvalidState, "restore", "port not suspended")
	}
	if err := p.startLocked(p.cfg, p.divisor, false); err != nil {
		return err
	}
	glog.V(1).Infof("usart %s: restored", p.name)
	return nil
}
