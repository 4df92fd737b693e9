package bridge

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"
	"go.uber.org/atomic"

	"usarthal-go/errcode"
	"usarthal-go/services/bridge/wire"
)

// Stream framing: a type byte, a big-endian 16-bit length, then the body.
// Publish and subscribe bodies are wire protobuf messages.
const (
	framePing  byte = 0x01
	framePong  byte = 0x02
	framePub   byte = 0x10
	frameSub   byte = 0x11
	frameClose byte = 0x7f
)

const maxFrame = 0xFFFF

type Frame struct {
	Type    byte
	Payload []byte
}

type framedReader struct{ r io.Reader }
type framedWriter struct{ w io.Writer }

func newFramedReader(r io.Reader) *framedReader { return &framedReader{r: r} }
func newFramedWriter(w io.Writer) *framedWriter { return &framedWriter{w: w} }

func (fr *framedReader) ReadFrame() (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(hdr[1])<<8 | int(hdr[2])
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: hdr[0], Payload: buf}, nil
}

// WriteFrame sends header and body in one Write so a frame is never split
// by a concurrent writer on the same stream.
func (fw *framedWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > maxFrame {
		return fmt.Errorf("frame too large: %d: %w", len(f.Payload), errcode.TooLarge)
	}
	b := make([]byte, 3+len(f.Payload))
	b[0] = f.Type
	b[1] = byte(len(f.Payload) >> 8)
	b[2] = byte(len(f.Payload))
	copy(b[3:], f.Payload)
	_, err := fw.w.Write(b)
	return err
}

type subscription struct {
	filter string
	fn     func(topic string, payload []byte)
}

// framedLink runs the bridge protocol over any byte stream.
type framedLink struct {
	linkDone

	rwc io.ReadWriteCloser

	wmu sync.Mutex
	wr  *framedWriter

	mu   sync.Mutex
	subs []subscription

	lastRx atomic.Int64 // unix ms
	ping   time.Duration
}

// newFramedLink starts the reader and keepalive. A link with no inbound
// frame for three ping periods is failed with Timeout.
func newFramedLink(rwc io.ReadWriteCloser, ping time.Duration) *framedLink {
	l := &framedLink{rwc: rwc, wr: newFramedWriter(rwc), ping: ping}
	l.init()
	l.lastRx.Store(time.Now().UnixMilli())
	go l.readLoop()
	go l.keepalive()
	return l
}

func (l *framedLink) write(f Frame) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if err := l.wr.WriteFrame(f); err != nil {
		l.fail(err)
		return err
	}
	return nil
}

func (l *framedLink) Publish(topic string, payload []byte, retained bool) error {
	b, err := proto.Marshal(&wire.Publish{Topic: topic, Payload: payload, Retained: retained})
	if err != nil {
		return err
	}
	return l.write(Frame{Type: framePub, Payload: b})
}

func (l *framedLink) Subscribe(filter string, fn func(topic string, payload []byte)) error {
	l.mu.Lock()
	l.subs = append(l.subs, subscription{filter: filter, fn: fn})
	l.mu.Unlock()
	b, err := proto.Marshal(&wire.Subscribe{Filter: filter})
	if err != nil {
		return err
	}
	return l.write(Frame{Type: frameSub, Payload: b})
}

func (l *framedLink) Close() error {
	select {
	case <-l.Done():
	default:
		_ = l.write(Frame{Type: frameClose})
	}
	l.fail(nil)
	return l.rwc.Close()
}

func (l *framedLink) readLoop() {
	rd := newFramedReader(l.rwc)
	for {
		f, err := rd.ReadFrame()
		if err != nil {
			l.fail(err)
			return
		}
		l.lastRx.Store(time.Now().UnixMilli())
		switch f.Type {
		case framePing:
			if l.write(Frame{Type: framePong}) != nil {
				return
			}
		case framePong:
		case framePub:
			var m wire.Publish
			if err := proto.Unmarshal(f.Payload, &m); err != nil {
				glog.Warningf("bridge: bad publish frame: %v", err)
				continue
			}
			l.dispatch(m.Topic, m.Payload)
		case frameSub:
			// The far end forwards what it is configured to; interest
			// frames are informational here.
		case frameClose:
			l.fail(io.EOF)
			return
		default:
			glog.V(1).Infof("bridge: unknown frame type 0x%02x", f.Type)
		}
	}
}

func (l *framedLink) dispatch(topic string, payload []byte) {
	l.mu.Lock()
	subs := append([]subscription(nil), l.subs...)
	l.mu.Unlock()
	for _, s := range subs {
		if matchTopic(s.filter, topic) {
			s.fn(topic, payload)
		}
	}
}

func (l *framedLink) keepalive() {
	if l.ping <= 0 {
		return
	}
	tick := time.NewTicker(l.ping)
	defer tick.Stop()
	for {
		select {
		case <-l.Done():
			return
		case <-tick.C:
			if time.Since(time.UnixMilli(l.lastRx.Load())) > 3*l.ping {
				l.fail(fmt.Errorf("no frames for %s: %w", 3*l.ping, errcode.Timeout))
				_ = l.rwc.Close()
				return
			}
			if l.write(Frame{Type: framePing}) != nil {
				return
			}
		}
	}
}

// matchTopic applies an MQTT filter to a slash separated topic.
func matchTopic(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
