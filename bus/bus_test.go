package bus

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, sub *Subscription) *Message {
	t.Helper()
	select {
	case m := <-sub.Channel():
		return m
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("no message on %v", sub.Topic())
		return nil
	}
}

func none(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case m := <-sub.Channel():
		t.Fatalf("unexpected message on %v: %#v", sub.Topic(), m.Payload)
	case <-time.After(30 * time.Millisecond):
	}
}

func payloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, recv(t, sub).Payload.(string))
	}
	none(t, sub)
	sort.Strings(out)
	return out
}

func TestPublishExactAndRetained(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("t")

	c.Publish(c.NewMessage(T("hal", "serial", "uart0", "state"), "enabled", true))
	s := c.Subscribe(T("hal", "serial", "uart0", "state"))
	require.Equal(t, "enabled", recv(t, s).Payload)

	c.Publish(c.NewMessage(T("hal", "serial", "uart0", "state"), "suspended", false))
	require.Equal(t, "suspended", recv(t, s).Payload)

	c.Publish(c.NewMessage(T("hal", "serial", "uart1", "state"), "x", false))
	none(t, s)
}

func TestSingleLevelWildcard(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("t")
	ctl := c.Subscribe(T("hal", "serial", SingleWild, "control", SingleWild))
	other := c.Subscribe(T("hal", SingleWild, "uart0"))

	c.Publish(b.NewMessage(T("hal", "serial", "uart0", "control", "write"), "w", false))
	c.Publish(b.NewMessage(T("hal", "serial", "uart1", "control", "flush"), "f", false))
	c.Publish(b.NewMessage(T("hal", "serial", "uart1", "state"), "s", false))

	require.Equal(t, []string{"f", "w"}, payloads(t, ctl, 2))
	none(t, other)
}

func TestMultiLevelWildcardMatchesZeroOrMore(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("t")
	all := c.Subscribe(T(MultiWild))
	ser := c.Subscribe(T("hal", "serial", MultiWild))

	c.Publish(b.NewMessage(T("hal", "serial"), "p1", false))
	c.Publish(b.NewMessage(T("hal", "serial", "uart0", "stats"), "p2", false))
	c.Publish(b.NewMessage(T("config", "hal"), "p3", false))

	require.Equal(t, []string{"p1", "p2", "p3"}, payloads(t, all, 3))
	require.Equal(t, []string{"p1", "p2"}, payloads(t, ser, 2))
}

func TestRetainedDeliveryToWildcardsAndClear(t *testing.T) {
	b := NewBus(32)
	c := b.NewConnection("t")
	for _, id := range []string{"uart0", "uart1", "uart2"} {
		c.Publish(b.NewMessage(T("hal", "serial", id, "state"), id, true))
	}
	c.Publish(b.NewMessage(T("hal", "serial", "uart2", "state"), nil, true))

	s := c.Subscribe(T("hal", "serial", SingleWild, "state"))
	require.Equal(t, []string{"uart0", "uart1"}, payloads(t, s, 2))

	h := c.Subscribe(T("hal", MultiWild))
	require.Equal(t, []string{"uart0", "uart1"}, payloads(t, h, 2))
}

func TestFullQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("t")
	s := c.Subscribe(T("x"))
	for _, p := range []string{"a", "b", "c"} {
		c.Publish(b.NewMessage(T("x"), p, false))
	}
	require.Equal(t, "b", recv(t, s).Payload)
	require.Equal(t, "c", recv(t, s).Payload)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("t")
	s := c.Subscribe(T("x", "y"))
	s.Unsubscribe()
	_, ok := <-s.Channel()
	require.False(t, ok)
	c.Publish(b.NewMessage(T("x", "y"), "late", false))

	d := b.NewConnection("d")
	s1, s2 := d.Subscribe(T("a")), d.Subscribe(T("b"))
	d.Disconnect()
	_, ok1 := <-s1.Channel()
	_, ok2 := <-s2.Channel()
	require.False(t, ok1 || ok2)
}

func TestRequestWait(t *testing.T) {
	b := NewBus(8)
	req := b.NewConnection("req")
	resp := b.NewConnection("resp")
	in := resp.Subscribe(T("hal", "serial", "uart0", "control", "flush"))

	go func() {
		if m, ok := <-in.Channel(); ok {
			resp.Reply(m, "ok", false)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg := b.NewMessage(T("hal", "serial", "uart0", "control", "flush"), nil, false)
	got, err := req.RequestWait(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, "ok", got.Payload)
	require.Equal(t, msg.ReplyTo, got.Topic)
}

func TestRequestWaitTimesOut(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("req")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.RequestWait(ctx, b.NewMessage(T("nobody"), nil, false))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokensMustBeComparable(t *testing.T) {
	require.Panics(t, func() { _ = T([]byte{1}) })
	require.Equal(t, Topic{"a", 1, "b"}, T("a", 1).Append("b"))
}
