// Package heartbeat publishes a periodic retained liveness message.
package heartbeat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/glog"

	"usarthal-go/bus"
	"usarthal-go/x/timex"
)

var (
	topicConfigHeartbeat = bus.Topic{"config", "heartbeat"}
	topicHeartbeat       = bus.Topic{"heartbeat"}
)

const (
	defaultInterval = time.Second
	minInterval     = 100 * time.Millisecond
)

// Config arrives on config/heartbeat.
type Config struct {
	IntervalMS int `json:"interval_ms"`
}

// Beat is the retained heartbeat payload.
type Beat struct {
	Device   string `json:"device"`
	Seq      uint64 `json:"seq"`
	UptimeMS int64  `json:"uptime_ms"`
	TS       int64  `json:"ts_ms"`
}

type Service struct {
	// AppID salts the device identifier so it cannot be correlated with
	// other applications on the same machine.
	AppID string

	device string
	start  time.Time
	seq    uint64
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()

	s.beat(conn)
	for {
		select {
		case <-ctx.Done():
			glog.Info("heartbeat: stopping")
			return
		case <-tick.C:
			s.beat(conn)
		case msg := <-cfgSub.Channel():
			iv, ok := interval(msg.Payload)
			if !ok {
				glog.Warningf("heartbeat: ignoring config %v", msg.Payload)
				continue
			}
			tick.Reset(iv)
			glog.V(1).Infof("heartbeat: interval set to %s", iv)
		}
	}
}

func (s *Service) beat(conn *bus.Connection) {
	s.seq++
	b := Beat{
		Device:   s.device,
		Seq:      s.seq,
		UptimeMS: time.Since(s.start).Milliseconds(),
		TS:       timex.NowMs(),
	}
	conn.Publish(conn.NewMessage(topicHeartbeat, b, true))
	glog.V(2).Infof("heartbeat: %d", b.Seq)
}

// interval accepts the raw JSON published by the config service or an
// already typed Config.
func interval(p any) (time.Duration, bool) {
	var c Config
	switch v := p.(type) {
	case Config:
		c = v
	case json.RawMessage:
		if json.Unmarshal(v, &c) != nil {
			return 0, false
		}
	case []byte:
		if json.Unmarshal(v, &c) != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if c.IntervalMS <= 0 {
		return 0, false
	}
	return max(time.Duration(c.IntervalMS)*time.Millisecond, minInterval), true
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	s.start = time.Now()
	if s.device == "" {
		id, err := deviceID(s.AppID)
		if err != nil {
			glog.Warningf("heartbeat: device id: %v", err)
			id = "unknown"
		}
		s.device = id
	}
	go s.serviceLoop(ctx, conn)
	return nil
}
