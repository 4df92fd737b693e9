package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"usarthal-go/bus"
	"usarthal-go/services/hal/internal/halcore"
	"usarthal-go/services/hal/internal/platform"
	"usarthal-go/types"
)

type rig struct {
	t    *testing.T
	conn *bus.Connection
	stop func()
}

func newRig(t *testing.T, cfg types.HALConfig) *rig {
	t.Helper()
	b := bus.NewBus(64)
	halConn := b.NewConnection("hal")
	conn := b.NewConnection("test")

	svc := New(halConn, platform.NewFactory().ForService(), halcore.WorkerConfig{WriteTimeout: 200 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	r := &rig{t: t, conn: conn, stop: func() {
		cancel()
		<-done
	}}
	t.Cleanup(r.stop)

	state := conn.Subscribe(bus.T("hal", "state"))
	defer conn.Unsubscribe(state)
	conn.Publish(conn.NewMessage(bus.T("config", "hal"), cfg, true))
	r.waitState(state, "ready")
	return r
}

func (r *rig) waitState(sub *bus.Subscription, level string) types.HALState {
	r.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-sub.Channel():
			st, ok := m.Payload.(types.HALState)
			if ok && st.Level == level {
				return st
			}
		case <-deadline:
			r.t.Fatalf("hal never reached %q", level)
		}
	}
}

func (r *rig) request(id, verb string, payload any) any {
	r.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := r.conn.RequestWait(ctx, r.conn.NewMessage(bus.T("hal", "serial", id, "control", verb), payload, false))
	require.NoError(r.t, err)
	return m.Payload
}

func (r *rig) portState(id string) types.SerialStatus {
	r.t.Helper()
	sub := r.conn.Subscribe(bus.T("hal", "serial", id, "state"))
	defer r.conn.Unsubscribe(sub)
	select {
	case m := <-sub.Channel():
		st, ok := m.Payload.(types.SerialStatus)
		require.True(r.t, ok, "payload %#v", m.Payload)
		return st
	case <-time.After(time.Second):
		r.t.Fatalf("no retained state for %s", id)
	}
	return types.SerialStatus{}
}

func next(t *testing.T, sub *bus.Subscription) *bus.Message {
	t.Helper()
	select {
	case m := <-sub.Channel():
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no message on %v", sub.Topic())
	}
	return nil
}

var loop = types.HALConfig{Ports: []types.SerialPortSpec{
	{ID: "uart0", Chip: "sim", Loopback: true, Default: &types.SerialConfig{Baud: 115200}},
	{ID: "uart1", Chip: "sim_bytes", Loopback: true, Reader: types.ReaderSpec{Mode: "lines", Echo: true}},
}}

func TestConfigBuildsPortsAndPublishesState(t *testing.T) {
	r := newRig(t, loop)

	st := r.portState("uart0")
	require.Equal(t, types.SerialEnabled, st.State)
	require.Equal(t, uint32(115200), st.Config.Baud)

	require.Equal(t, types.SerialDisabled, r.portState("uart1").State)
}

func TestWriteLoopsBackAsRxEvent(t *testing.T) {
	r := newRig(t, loop)
	rx := r.conn.Subscribe(bus.T("hal", "serial", "uart0", "event", "rx"))
	defer r.conn.Unsubscribe(rx)

	rep := r.request("uart0", "write", types.SerialWrite{Data: []byte("hello"), Block: true})
	require.Equal(t, types.SerialWriteReply{OK: true, N: 5}, rep)

	var got []byte
	for len(got) < 5 {
		d, ok := next(t, rx).Payload.(types.SerialData)
		require.True(t, ok)
		require.NotZero(t, d.TS)
		got = append(got, d.Data...)
	}
	require.Equal(t, "hello", string(got))
}

func TestLinesModeAndEcho(t *testing.T) {
	r := newRig(t, loop)
	require.Equal(t, types.OKReply{OK: true}, r.request("uart1", "begin", types.SerialConfig{Baud: 9600}))

	rx := r.conn.Subscribe(bus.T("hal", "serial", "uart1", "event", "rx"))
	tx := r.conn.Subscribe(bus.T("hal", "serial", "uart1", "event", "tx"))
	defer r.conn.Unsubscribe(rx)
	defer r.conn.Unsubscribe(tx)

	rep := r.request("uart1", "write", "AT+OK\r\n")
	require.Equal(t, types.SerialWriteReply{OK: true, N: 7}, rep)

	require.Equal(t, "AT+OK\r\n", string(next(t, tx).Payload.(types.SerialData).Data))
	require.Equal(t, "AT+OK", string(next(t, rx).Payload.(types.SerialData).Data))
}

func TestControlErrors(t *testing.T) {
	r := newRig(t, loop)

	require.Equal(t, types.ErrorReply{Error: "unknown_port"}, r.request("uart9", "begin", nil))
	require.Equal(t, types.ErrorReply{Error: "unknown_verb"}, r.request("uart0", "reboot", nil))
	require.Equal(t, types.ErrorReply{Error: "invalid_payload"}, r.request("uart0", "write", nil))
	// uart1 has no default config.
	require.Equal(t, types.ErrorReply{Error: "invalid_payload"}, r.request("uart1", "begin", nil))
	require.Equal(t, types.ErrorReply{Error: "not_found"}, r.request("uart1", "begin", types.SerialConfig{Baud: 10}))
	require.Equal(t, types.ErrorReply{Error: "invalid_state"}, r.request("uart1", "restore", nil))
	require.Equal(t, types.ErrorReply{Error: "invalid_state"}, r.request("uart1", "write", []byte("x")))
}

func TestSuspendRestoreCycle(t *testing.T) {
	r := newRig(t, loop)

	require.Equal(t, types.OKReply{OK: true}, r.request("uart0", "suspend", nil))
	require.Equal(t, types.SerialSuspended, r.portState("uart0").State)

	require.Equal(t, types.OKReply{OK: true}, r.request("uart0", "restore", nil))
	st := r.portState("uart0")
	require.Equal(t, types.SerialEnabled, st.State)
	require.Equal(t, uint32(115200), st.Config.Baud)

	require.Equal(t, types.OKReply{OK: true}, r.request("uart0", "flush", nil))
	require.Equal(t, types.OKReply{OK: true}, r.request("uart0", "end", nil))
	require.Equal(t, types.SerialDisabled, r.portState("uart0").State)
}

func TestStatsOnRequestAndPeriodic(t *testing.T) {
	cfg := loop
	cfg.StatsEveryMS = 200
	r := newRig(t, cfg)

	r.request("uart0", "write", types.SerialWrite{Data: []byte("abc"), Block: true})
	st, ok := r.request("uart0", "stats", nil).(types.SerialStats)
	require.True(t, ok)
	require.NotZero(t, st.TS)

	sub := r.conn.Subscribe(bus.T("hal", "serial", "uart0", "stats"))
	defer r.conn.Unsubscribe(sub)
	got, ok := next(t, sub).Payload.(types.SerialStats)
	require.True(t, ok)
	require.Equal(t, uint64(3), got.TxBytes)
}

func TestReconfigureRemovesPorts(t *testing.T) {
	r := newRig(t, loop)
	state := r.conn.Subscribe(bus.T("hal", "serial", "uart1", "state"))
	defer r.conn.Unsubscribe(state)
	next(t, state) // retained

	r.conn.Publish(r.conn.NewMessage(bus.T("config", "hal"),
		types.HALConfig{Ports: loop.Ports[:1]}, true))

	require.Nil(t, next(t, state).Payload)
	require.Equal(t, types.ErrorReply{Error: "unknown_port"}, r.request("uart1", "end", nil))
	require.Equal(t, types.SerialEnabled, r.portState("uart0").State)
}

func TestBadConfigReportsError(t *testing.T) {
	r := newRig(t, loop)
	hal := r.conn.Subscribe(bus.T("hal", "state"))
	defer r.conn.Unsubscribe(hal)
	r.conn.Publish(r.conn.NewMessage(bus.T("config", "hal"),
		types.HALConfig{Ports: append(append([]types.SerialPortSpec(nil), loop.Ports...),
			types.SerialPortSpec{ID: "x", Chip: "z80"})}, true))
	st := r.waitState(hal, "error")
	require.Equal(t, "apply_config_failed", st.Status)
	require.Contains(t, st.Error, "unknown_chip")
}

func TestJSONConfigAndControl(t *testing.T) {
	raw := []byte(`{"ports":[{"id":"j0","chip":"sim","loopback":true}]}`)
	r := newRig(t, types.HALConfig{})
	r.conn.Publish(r.conn.NewMessage(bus.T("config", "hal"), raw, true))
	require.Equal(t, types.SerialDisabled, r.portState("j0").State)

	rep := r.request("j0", "begin", []byte(`{"baud":57600,"parity":"even","stop_bits":"2"}`))
	require.Equal(t, types.OKReply{OK: true}, rep)
	st := r.portState("j0")
	require.Equal(t, types.ParityEven, st.Config.Parity)
	require.Equal(t, types.StopBits2, st.Config.StopBits)
}
