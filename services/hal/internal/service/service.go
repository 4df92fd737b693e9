package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"usarthal-go/bus"
	"usarthal-go/errcode"
	"usarthal-go/services/hal/internal/consts"
	"usarthal-go/services/hal/internal/halcore"
	"usarthal-go/services/hal/internal/halerr"
	"usarthal-go/services/hal/internal/uartio"
	"usarthal-go/services/hal/internal/util"
	"usarthal-go/services/hal/internal/worker"
	"usarthal-go/types"
	"usarthal-go/x/timex"
)

const (
	minStatsEvery = 200 * time.Millisecond
	maxStatsEvery = time.Hour
)

type portEntry struct {
	spec  types.SerialPortSpec
	built halcore.Built

	worker     *worker.PortWorker
	stopWorker func()
	stopReader func()
	echo       bool

	statsEvery time.Duration
	statsDue   time.Time
}

type Service struct {
	conn    *bus.Connection
	builder halcore.PortBuilder
	wcfg    halcore.WorkerConfig

	ports   map[string]*portEntry
	results chan halcore.Result

	timer *time.Timer

	uartW *uartio.Worker
}

var (
	topicConfigHAL = bus.Topic{consts.TokConfig, consts.TokHAL}
	topicCtrl      = bus.Topic{consts.TokHAL, consts.TokSerial, "+", consts.TokControl, "+"}
)

func New(conn *bus.Connection, builder halcore.PortBuilder, wcfg halcore.WorkerConfig) *Service {
	return &Service{
		conn:    conn,
		builder: builder,
		wcfg:    wcfg,
		ports:   map[string]*portEntry{},
		results: make(chan halcore.Result, 64),
		uartW:   uartio.New(64),
	}
}

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigHAL)
	ctrlSub := s.conn.Subscribe(topicCtrl)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState(consts.LevelIdle, "awaiting_config", nil)

	s.timer = time.NewTimer(time.Hour)
	if !s.timer.Stop() {
		util.DrainTimer(s.timer)
	}

	for {
		if next := s.earliestStatsDue(); next.IsZero() {
			util.ResetTimer(s.timer, time.Hour)
		} else {
			util.ResetTimer(s.timer, time.Until(next))
		}

		select {
		case <-ctx.Done():
			for id := range s.ports {
				s.removePort(id)
			}
			s.publishState(consts.LevelStopped, "context_cancelled", nil)
			return

		case msg := <-cfgSub.Channel():
			var cfg types.HALConfig
			if err := util.DecodeJSON(msg.Payload, &cfg); err != nil {
				s.publishState(consts.LevelError, "config_wrong_type", err)
				continue
			}
			if err := s.applyConfig(ctx, cfg); err != nil {
				glog.Errorf("hal: apply config: %v", err)
				s.publishState(consts.LevelError, "apply_config_failed", err)
				continue
			}
			s.publishState(consts.LevelReady, "configured", nil)

		case msg := <-ctrlSub.Channel():
			s.handleControl(msg)

		case r := <-s.results:
			s.handleResult(r)

		case ev := <-s.uartW.Events():
			s.handleUARTEvent(ev)

		case <-s.timer.C:
			now := time.Now()
			for id, ent := range s.ports {
				if ent.statsEvery > 0 && !now.Before(ent.statsDue) {
					s.publishStats(id, ent)
					ent.statsDue = now.Add(ent.statsEvery)
				}
			}
		}
	}
}

// applyConfig builds ports new to cfg and tears down ports it no longer
// lists. Ports present in both are left running. Every port is attempted;
// the first failure is returned.
func (s *Service) applyConfig(ctx context.Context, cfg types.HALConfig) error {
	seen := map[string]struct{}{}
	var first error
	fail := func(err error) {
		glog.Warningf("hal: %v", err)
		if first == nil {
			first = err
		}
	}

	for i := range cfg.Ports {
		spec := cfg.Ports[i]
		if spec.ID == "" {
			fail(halerr.ErrInvalidPayload)
			continue
		}
		if _, dup := seen[spec.ID]; dup {
			fail(fmt.Errorf("port %s: %w", spec.ID, halerr.ErrDuplicatePort))
			continue
		}
		seen[spec.ID] = struct{}{}
		if _, exists := s.ports[spec.ID]; exists {
			continue
		}
		if err := s.addPort(ctx, spec, cfg.StatsEveryMS); err != nil {
			fail(err)
		}
	}

	for id := range s.ports {
		if _, ok := seen[id]; !ok {
			s.removePort(id)
		}
	}
	return first
}

func (s *Service) addPort(ctx context.Context, spec types.SerialPortSpec, defStatsMS int) error {
	built, err := s.builder.Build(spec)
	if err != nil {
		return err
	}
	ent := &portEntry{spec: spec, built: built, echo: spec.Reader.Echo}

	wctx, cancel := context.WithCancel(ctx)
	ent.worker = worker.New(s.wcfg, s.results)
	ent.worker.Start(wctx)
	ent.stopWorker = func() {
		cancel()
		<-ent.worker.Done()
	}

	stop, err := s.uartW.Register(ctx, uartio.FromSpec(spec.ID, built.Port, spec.Reader))
	if err != nil {
		ent.stopWorker()
		_ = built.Close()
		return err
	}
	ent.stopReader = stop

	ms := spec.StatsEveryMS
	if ms == 0 {
		ms = defStatsMS
	}
	if ms > 0 {
		ent.statsEvery = util.Millis(ms, minStatsEvery, maxStatsEvery)
		ent.statsDue = time.Now().Add(ent.statsEvery)
	}
	s.ports[spec.ID] = ent

	if spec.Default != nil {
		if err := built.Port.Begin(*spec.Default); err != nil {
			glog.Warningf("hal: %s: default begin: %v", spec.ID, err)
		}
	}
	s.publishPortState(spec.ID, ent)
	glog.V(1).Infof("hal: port %s up (chip %s)", spec.ID, spec.Chip)
	return nil
}

func (s *Service) removePort(id string) {
	ent, ok := s.ports[id]
	if !ok {
		return
	}
	ent.stopReader()
	ent.stopWorker()
	if err := ent.built.Close(); err != nil {
		glog.Warningf("hal: %s: close: %v", id, err)
	}
	delete(s.ports, id)
	s.pubRet(id, bus.Topic{consts.TokState}, nil)
	s.pubRet(id, bus.Topic{consts.TokStats}, nil)
	glog.V(1).Infof("hal: port %s removed", id)
}

// ---- control ----

func (s *Service) handleControl(msg *bus.Message) {
	if len(msg.Topic) < 5 {
		return
	}
	id, _ := msg.Topic[2].(string)
	verb, _ := msg.Topic[4].(string)
	ent, ok := s.ports[id]
	if !ok {
		s.replyErr(msg, halerr.ErrUnknownPort)
		return
	}
	port := ent.built.Port

	switch verb {
	case consts.CtrlBegin:
		cfg, err := beginConfig(msg.Payload, ent.spec.Default)
		if err == nil {
			err = port.Begin(cfg)
		}
		s.finishLifecycle(msg, id, ent, err)
	case consts.CtrlEnd:
		s.finishLifecycle(msg, id, ent, port.End())
	case consts.CtrlRestore:
		s.finishLifecycle(msg, id, ent, port.Restore())
	case consts.CtrlSuspend:
		s.submit(msg, ent, halcore.PortReq{PortID: id, Port: port, Op: halcore.OpSuspend, Tag: msg})
	case consts.CtrlFlush:
		s.submit(msg, ent, halcore.PortReq{PortID: id, Port: port, Op: halcore.OpFlush, Tag: msg})
	case consts.CtrlWrite:
		w, err := decodeWrite(msg.Payload)
		if err != nil {
			s.replyErr(msg, err)
			return
		}
		s.submit(msg, ent, halcore.PortReq{PortID: id, Port: port, Op: halcore.OpWrite, Data: w.Data, Block: w.Block, Tag: msg})
	case consts.CtrlStats:
		s.conn.Reply(msg, port.Stats().Snapshot(), false)
	default:
		s.replyErr(msg, halerr.ErrUnknownVerb)
	}
}

func (s *Service) submit(msg *bus.Message, ent *portEntry, req halcore.PortReq) {
	if !ent.worker.Submit(req) {
		s.replyErr(msg, errcode.Busy)
	}
}

func (s *Service) finishLifecycle(msg *bus.Message, id string, ent *portEntry, err error) {
	if err != nil {
		s.replyErr(msg, err)
		return
	}
	s.conn.Reply(msg, types.OKReply{OK: true}, false)
	s.publishPortState(id, ent)
}

func (s *Service) handleResult(r halcore.Result) {
	msg, _ := r.Req.Tag.(*bus.Message)
	ent, ok := s.ports[r.Req.PortID]
	if !ok {
		return
	}
	switch r.Req.Op {
	case halcore.OpWrite:
		if r.N > 0 && ent.echo {
			s.uartW.EmitTX(r.Req.PortID, r.Req.Data[:r.N])
		}
		if msg == nil {
			return
		}
		if r.Err != nil {
			s.replyErr(msg, r.Err)
			return
		}
		s.conn.Reply(msg, types.SerialWriteReply{OK: true, N: r.N}, false)
	case halcore.OpSuspend:
		if msg != nil {
			s.finishLifecycle(msg, r.Req.PortID, ent, r.Err)
		}
	default:
		if msg == nil {
			return
		}
		if r.Err != nil {
			s.replyErr(msg, r.Err)
			return
		}
		s.conn.Reply(msg, types.OKReply{OK: true}, false)
	}
}

func beginConfig(payload any, def *types.SerialConfig) (types.SerialConfig, error) {
	if payload == nil {
		if def == nil {
			return types.SerialConfig{}, halerr.ErrInvalidPayload
		}
		return *def, nil
	}
	var cfg types.SerialConfig
	if err := util.DecodeJSON(payload, &cfg); err != nil {
		return cfg, halerr.ErrInvalidPayload
	}
	return cfg, nil
}

// decodeWrite accepts a SerialWrite document, or raw bytes or text to
// queue without blocking.
func decodeWrite(payload any) (types.SerialWrite, error) {
	switch v := payload.(type) {
	case []byte:
		return types.SerialWrite{Data: v}, nil
	case string:
		return types.SerialWrite{Data: []byte(v)}, nil
	case nil:
		return types.SerialWrite{}, halerr.ErrInvalidPayload
	}
	var w types.SerialWrite
	if err := util.DecodeJSON(payload, &w); err != nil {
		return w, halerr.ErrInvalidPayload
	}
	return w, nil
}

// ---- events ----

func (s *Service) handleUARTEvent(ev uartio.Event) {
	if _, ok := s.ports[ev.PortID]; !ok {
		return
	}
	s.conn.Publish(s.conn.NewMessage(
		portTopic(ev.PortID, consts.TokEvent, ev.Dir),
		types.SerialData{Data: ev.Data, TS: ev.TS.UnixMilli()},
		false,
	))
}

func (s *Service) earliestStatsDue() time.Time {
	var min time.Time
	for _, ent := range s.ports {
		if ent.statsEvery > 0 && (min.IsZero() || ent.statsDue.Before(min)) {
			min = ent.statsDue
		}
	}
	return min
}

// ---- bus helpers ----

func (s *Service) publishState(level, status string, err error) {
	pl := types.HALState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		pl.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(bus.Topic{consts.TokHAL, consts.TokState}, pl, true))
}

func (s *Service) publishPortState(id string, ent *portEntry) {
	p := ent.built.Port
	s.pubRet(id, bus.Topic{consts.TokState}, types.SerialStatus{
		State:  p.State(),
		Config: p.Config(),
		TS:     timex.NowMs(),
	})
}

func (s *Service) publishStats(id string, ent *portEntry) {
	s.pubRet(id, bus.Topic{consts.TokStats}, ent.built.Port.Stats().Snapshot())
}

func (s *Service) replyErr(req *bus.Message, err error) {
	if len(req.ReplyTo) == 0 {
		return
	}
	s.conn.Reply(req, types.ErrorReply{OK: false, Error: halerr.Code(err)}, false)
}

func portTopic(id string, suffix ...any) bus.Topic {
	return bus.Topic{consts.TokHAL, consts.TokSerial, id}.Append(suffix...)
}

func (s *Service) pubRet(id string, suffix bus.Topic, p any) {
	s.conn.Publish(s.conn.NewMessage(portTopic(id, suffix...), p, true))
}
