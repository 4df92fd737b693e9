//go:build !tinygo

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"usarthal-go/bus"
	"usarthal-go/services/hal"
	"usarthal-go/types"
)

const requestTimeout = 3 * time.Second

type shell struct {
	*ishell.Shell
	conn *bus.Connection
}

func newShell(conn *bus.Connection) *shell {
	s := &shell{Shell: ishell.New(), conn: conn}
	s.SetPrompt("usarthal> ")
	for _, c := range []*ishell.Cmd{
		{Name: "ports", Help: "list ports and their state", Func: s.ports},
		{Name: "begin", Help: "begin <id> <baud> [parity] [stop] [flow]", Func: s.begin},
		{Name: "end", Help: "end <id>", Func: s.verb("end")},
		{Name: "suspend", Help: "suspend <id>", Func: s.verb("suspend")},
		{Name: "restore", Help: "restore <id>", Func: s.verb("restore")},
		{Name: "flush", Help: "flush <id>", Func: s.verb("flush")},
		{Name: "write", Help: "write <id> <text...> (sent with CRLF)", Func: s.write},
		{Name: "stats", Help: "stats <id>", Func: s.verb("stats")},
		{Name: "watch", Help: "watch <id> [seconds]: print received data", Func: s.watch},
		{Name: "ttys", Help: "list serial devices on this host", Func: s.ttys},
		{Name: "setups", Help: "list built-in board setups", Func: s.setups},
	} {
		s.AddCmd(c)
	}
	return s
}

// waitReady blocks until the HAL reports a level other than idle.
func (s *shell) waitReady(ctx context.Context, d time.Duration) error {
	sub := s.conn.Subscribe(bus.T("hal", "state"))
	defer s.conn.Unsubscribe(sub)
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	for {
		select {
		case m := <-sub.Channel():
			st, ok := m.Payload.(types.HALState)
			if !ok || st.Level == "idle" {
				continue
			}
			if st.Level == "error" {
				return fmt.Errorf("%s: %s", st.Status, st.Error)
			}
			return nil
		case <-ctx.Done():
			return fmt.Errorf("no hal state: %w", ctx.Err())
		}
	}
}

func (s *shell) request(id, verb string, payload any) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	m, err := s.conn.RequestWait(ctx, s.conn.NewMessage(bus.T("hal", "serial", id, "control", verb), payload, false))
	if err != nil {
		return nil, err
	}
	if e, ok := m.Payload.(types.ErrorReply); ok {
		return nil, fmt.Errorf("%s %s: %s", verb, id, e.Error)
	}
	return m.Payload, nil
}

func (s *shell) show(c *ishell.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(b))
}

func needArgs(c *ishell.Context, n int) bool {
	if len(c.Args) < n {
		c.Err(fmt.Errorf("usage: %s", c.Cmd.Help))
		return false
	}
	return true
}

func (s *shell) verb(verb string) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if !needArgs(c, 1) {
			return
		}
		rep, err := s.request(c.Args[0], verb, nil)
		if err != nil {
			c.Err(err)
			return
		}
		s.show(c, rep)
	}
}

func (s *shell) ports(c *ishell.Context) {
	sub := s.conn.Subscribe(bus.T("hal", "serial", "+", "state"))
	defer s.conn.Unsubscribe(sub)

	states := map[string]types.SerialStatus{}
	for {
		select {
		case m := <-sub.Channel():
			if st, ok := m.Payload.(types.SerialStatus); ok {
				states[fmt.Sprint(m.Topic[2])] = st
			}
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		st := states[id]
		if st.State == types.SerialDisabled {
			c.Printf("%-8s %s\n", id, st.State)
			continue
		}
		cfg := st.Config
		c.Printf("%-8s %-9s %d %d%s%s flow=%s\n", id, st.State, cfg.Baud, cfg.Bits(),
			strings.ToUpper(cfg.Parity.String()[:1]), cfg.StopBits, cfg.Flow)
	}
}

// parseWord decodes a config word through the type's JSON form so the
// shell accepts exactly what the bus accepts.
func parseWord(word string, dst json.Unmarshaler) error {
	return dst.UnmarshalJSON([]byte(strconv.Quote(word)))
}

func (s *shell) begin(c *ishell.Context) {
	if !needArgs(c, 2) {
		return
	}
	baud, err := strconv.ParseUint(c.Args[1], 10, 32)
	if err != nil {
		c.Err(fmt.Errorf("baud: %w", err))
		return
	}
	cfg := types.SerialConfig{Baud: uint32(baud)}
	words := []json.Unmarshaler{&cfg.Parity, &cfg.StopBits, &cfg.Flow}
	for i, w := range c.Args[2:] {
		if i >= len(words) {
			break
		}
		if err := parseWord(w, words[i]); err != nil {
			c.Err(fmt.Errorf("%q: %w", w, err))
			return
		}
	}
	rep, err := s.request(c.Args[0], "begin", cfg)
	if err != nil {
		c.Err(err)
		return
	}
	s.show(c, rep)
}

func (s *shell) write(c *ishell.Context) {
	if !needArgs(c, 2) {
		return
	}
	data := []byte(strings.Join(c.Args[1:], " ") + "\r\n")
	rep, err := s.request(c.Args[0], "write", types.SerialWrite{Data: data, Block: true})
	if err != nil {
		c.Err(err)
		return
	}
	s.show(c, rep)
}

func (s *shell) watch(c *ishell.Context) {
	if !needArgs(c, 1) {
		return
	}
	d := 5 * time.Second
	if len(c.Args) > 1 {
		secs, err := strconv.Atoi(c.Args[1])
		if err != nil {
			c.Err(err)
			return
		}
		d = time.Duration(secs) * time.Second
	}
	sub := s.conn.Subscribe(bus.T("hal", "serial", c.Args[0], "event", "rx"))
	defer s.conn.Unsubscribe(sub)
	deadline := time.After(d)
	for {
		select {
		case m := <-sub.Channel():
			if sd, ok := m.Payload.(types.SerialData); ok {
				c.Printf("%d %q\n", sd.TS, sd.Data)
			}
		case <-deadline:
			return
		}
	}
}

func (s *shell) ttys(c *ishell.Context) {
	names, err := hal.SerialDevices()
	if err != nil {
		c.Err(err)
		return
	}
	for _, n := range names {
		c.Println(n)
	}
}

func (s *shell) setups(c *ishell.Context) {
	for _, n := range hal.SetupNames() {
		c.Println(n)
	}
}
