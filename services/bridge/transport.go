package bridge

import (
	"context"
	"fmt"
	"sync"
)

// Link is an open connection to the remote side. Topics on a link are
// slash separated strings with MQTT wildcards in filters.
type Link interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(filter string, fn func(topic string, payload []byte)) error
	// Done is closed when the link fails or is closed; Err then reports why.
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Transport is a pluggable link dialler.
type Transport interface {
	Open(ctx context.Context) (Link, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport allows external packages to add transports (eg. "ws", "tcp").
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "uart":
		return newUARTTransport(cfg)
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}

// linkDone is the failure latch shared by link implementations.
type linkDone struct {
	once sync.Once
	done chan struct{}
	err  error
}

func (d *linkDone) init() { d.done = make(chan struct{}) }

func (d *linkDone) fail(err error) {
	d.once.Do(func() {
		d.err = err
		close(d.done)
	})
}

func (d *linkDone) Done() <-chan struct{} { return d.done }

func (d *linkDone) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}
