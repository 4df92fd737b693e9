// Package bridge mirrors HAL traffic to a remote peer over MQTT or a framed
// serial link, and routes remote control requests back onto the bus.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.uber.org/atomic"

	"usarthal-go/bus"
	"usarthal-go/errcode"
	"usarthal-go/types"
	"usarthal-go/x/timex"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start starts the bridge service. It blocks until ctx is cancelled.
// It listens for JSON config on topic {"config","bridge"} and (re)configures the link.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.Topic{"bridge", "state"},
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

const (
	defaultPrefix    = "usarthal"
	requestTimeout   = 2 * time.Second
	inboundQueueSize = 16
)

// DefaultForward is mirrored when a config names no filters.
var DefaultForward = []string{
	"hal/state",
	"hal/serial/+/state",
	"hal/serial/+/stats",
	"hal/serial/+/event/+",
	"heartbeat",
}

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	Transport TransportConfig `json:"transport"`
	// Prefix roots every remote topic. Default "usarthal".
	Prefix string `json:"prefix,omitempty"`
	// Encoding is "json" (default) or "proto".
	Encoding string `json:"encoding,omitempty"`
	// Forward lists bus filters mirrored to the remote side.
	Forward []string `json:"forward,omitempty"`
}

type TransportConfig struct {
	// "uart", "mqtt" or other names registered via RegisterTransport.
	Type string      `json:"type"`
	UART *UARTConfig `json:"uart,omitempty"`
	MQTT *MQTTConfig `json:"mqtt,omitempty"`
}

type MQTTConfig struct {
	Broker   string `json:"broker"` // tcp://host:1883
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	QoS      byte   `json:"qos,omitempty"`
	// TimeoutMS bounds connect, publish and subscribe. Zero means 5s.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

func (c Config) withDefaults() (Config, error) {
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	switch c.Encoding {
	case "":
		c.Encoding = EncodingJSON
	case EncodingJSON, EncodingProto:
	default:
		return c, fmt.Errorf("unknown encoding %q", c.Encoding)
	}
	if len(c.Forward) == 0 {
		c.Forward = DefaultForward
	}
	return c, nil
}

// State is published retained on bridge/state.
type State struct {
	Level     string `json:"level"`  // "up", "degraded", "error", "idle"
	Status    string `json:"status"` // short machine string
	Error     string `json:"error,omitempty"`
	Forwarded uint64 `json:"forwarded"`
	Routed    uint64 `json:"routed"`
	TS        int64  `json:"ts_ms"`
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc

	forwarded atomic.Uint64
	routed    atomic.Uint64
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.Topic{"config", "bridge"})
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err == nil {
				cfg, err = cfg.withDefaults()
			}
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

var errLinkClosed = errors.New("link closed by peer")

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		link, err := tr.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		glog.Infof("bridge: link up via %s", tr)
		s.publishState("up", "link_established", nil)
		if err := s.handleLink(ctx, cfg, link); err != nil {
			_ = link.Close()
			delay := backoff()
			s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		// Clean close: restart only on new config.
		return
	}
}

type inbound struct {
	topic   string
	payload []byte
}

// handleLink owns the active link: bus traffic matching the forward
// filters goes out, control requests from the peer come in.
func (s *Service) handleLink(ctx context.Context, cfg Config, link Link) error {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan inbound, inboundQueueSize)
	control := cfg.Prefix + "/hal/serial/+/control/+"
	err := link.Subscribe(control, func(topic string, payload []byte) {
		select {
		case in <- inbound{topic: topic, payload: payload}:
		default:
			glog.Warningf("bridge: inbound queue full, dropping %s", topic)
		}
	})
	if err != nil {
		return err
	}

	out := make(chan *bus.Message, 32)
	for _, f := range cfg.Forward {
		sub := s.conn.Subscribe(splitTopic(f))
		defer s.conn.Unsubscribe(sub)
		go pump(lctx, sub, out)
	}

	for {
		select {
		case <-ctx.Done():
			_ = link.Close()
			return nil
		case <-link.Done():
			if err := link.Err(); err != nil {
				return err
			}
			return errLinkClosed
		case m := <-out:
			b, err := encodePayload(cfg.Encoding, m.Topic, m.Payload)
			if err != nil {
				glog.Warningf("bridge: encode %v: %v", m.Topic, err)
				continue
			}
			if err := link.Publish(remoteTopic(cfg.Prefix, m.Topic), b, m.Retained); err != nil {
				return err
			}
			s.forwarded.Inc()
		case r := <-in:
			go s.route(lctx, cfg, link, r)
		}
	}
}

func pump(ctx context.Context, sub *bus.Subscription, out chan<- *bus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}

// route turns a remote control message into a bus request and publishes
// the reply on <topic>/reply.
func (s *Service) route(ctx context.Context, cfg Config, link Link, r inbound) {
	t, ok := localTopic(cfg.Prefix, r.topic)
	if !ok {
		return
	}
	var payload any
	if len(r.payload) > 0 {
		payload = json.RawMessage(r.payload)
	}
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	rep, err := s.conn.RequestWait(rctx, s.conn.NewMessage(t, payload, false))
	var reply any
	if err != nil {
		reply = types.ErrorReply{Error: string(errcode.Timeout)}
	} else {
		reply = rep.Payload
	}
	b, err := encodePayload(EncodingJSON, t, reply)
	if err != nil {
		glog.Warningf("bridge: encode reply: %v", err)
		return
	}
	if err := link.Publish(r.topic+"/reply", b, false); err != nil {
		glog.Warningf("bridge: reply: %v", err)
		return
	}
	s.routed.Inc()
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	var b []byte
	switch v := p.(type) {
	case Config:
		return v, nil
	case json.RawMessage:
		b = v
	case []byte:
		b = v
	case string:
		b = []byte(v)
	case map[string]any:
		var err error
		if b, err = json.Marshal(v); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
	err := json.Unmarshal(b, &cfg)
	return cfg, err
}

func (s *Service) publishState(level, status string, err error) {
	st := State{
		Level:     level,
		Status:    status,
		Forwarded: s.forwarded.Load(),
		Routed:    s.routed.Load(),
		TS:        timex.NowMs(),
	}
	if err != nil {
		st.Error = err.Error()
		glog.V(1).Infof("bridge: %s/%s: %v", level, status, err)
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
