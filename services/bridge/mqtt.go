//go:build !tinygo

package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/denisbrodbeck/machineid"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"usarthal-go/errcode"
)

func init() { RegisterTransport("mqtt", newMQTTTransport) }

type mqttTransport struct {
	cfg     MQTTConfig
	timeout time.Duration
}

func newMQTTTransport(cfg TransportConfig) (Transport, error) {
	if cfg.MQTT == nil || cfg.MQTT.Broker == "" {
		return nil, errors.New("mqtt transport requires a broker")
	}
	if cfg.MQTT.QoS > 2 {
		return nil, fmt.Errorf("mqtt qos %d: %w", cfg.MQTT.QoS, errcode.InvalidArgument)
	}
	t := &mqttTransport{cfg: *cfg.MQTT, timeout: 5 * time.Second}
	if t.cfg.TimeoutMS > 0 {
		t.timeout = time.Duration(t.cfg.TimeoutMS) * time.Millisecond
	}
	if t.cfg.ClientID == "" {
		t.cfg.ClientID = defaultClientID()
	}
	return t, nil
}

func defaultClientID() string {
	id, err := machineid.ProtectedID("usarthal-bridge")
	if err != nil || len(id) < 12 {
		return fmt.Sprintf("usarthal-%d", time.Now().UnixNano())
	}
	return "usarthal-" + id[:12]
}

func (t *mqttTransport) String() string { return "mqtt:" + t.cfg.Broker }

func (t *mqttTransport) Open(ctx context.Context) (Link, error) {
	l := &mqttLink{qos: t.cfg.QoS, timeout: t.timeout}
	l.init()

	opts := mqtt.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(t.cfg.ClientID).
		SetConnectTimeout(t.timeout).
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			glog.Warningf("bridge: mqtt connection lost: %v", err)
			l.fail(err)
		})
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username).SetPassword(t.cfg.Password)
	}
	l.client = mqtt.NewClient(opts)

	tok := l.client.Connect()
	for !tok.WaitTimeout(50 * time.Millisecond) {
		if ctx.Err() != nil {
			l.client.Disconnect(0)
			return nil, ctx.Err()
		}
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return l, nil
}

type mqttLink struct {
	linkDone
	client  mqtt.Client
	qos     byte
	timeout time.Duration
}

func (l *mqttLink) wait(tok mqtt.Token) error {
	if !tok.WaitTimeout(l.timeout) {
		return errcode.Timeout
	}
	return tok.Error()
}

func (l *mqttLink) Publish(topic string, payload []byte, retained bool) error {
	err := l.wait(l.client.Publish(topic, l.qos, retained, payload))
	if err != nil {
		l.fail(err)
	}
	return err
}

func (l *mqttLink) Subscribe(filter string, fn func(topic string, payload []byte)) error {
	return l.wait(l.client.Subscribe(filter, l.qos, func(_ mqtt.Client, m mqtt.Message) {
		fn(m.Topic(), m.Payload())
	}))
}

func (l *mqttLink) Close() error {
	l.client.Disconnect(250)
	l.fail(nil)
	return nil
}
