package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"usarthal-go/bus"
	"usarthal-go/errcode"
	"usarthal-go/types"
)

func collect(t *testing.T, conn *bus.Connection, want int) map[string]json.RawMessage {
	t.Helper()
	sub := conn.Subscribe(bus.Topic{configPrefix, "#"})
	defer conn.Unsubscribe(sub)

	got := map[string]json.RawMessage{}
	deadline := time.Now().Add(600 * time.Millisecond)
	for len(got) < want && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			key, ok := m.Topic[1].(string)
			if !ok {
				t.Fatalf("topic[1] type %T, want string", m.Topic[1])
			}
			raw, ok := m.Payload.(json.RawMessage)
			if !ok {
				t.Fatalf("payload type %T, want json.RawMessage", m.Payload)
			}
			got[key] = raw
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(got) != want {
		t.Fatalf("expected %d retained messages, got %d (%v)", want, len(got), got)
	}
	return got
}

func TestConfig_PublishEmbedded_RetainedPerKey(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		if device != "pico" {
			return nil, false
		}
		return []byte(`{
			"mode": "dev",
			"debug": true,
			"region": {"code": "eu"}
		}`), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	ctx := context.WithValue(context.Background(), CtxDeviceKey, "pico")
	NewConfigService().Start(ctx, conn)

	got := collect(t, conn, 3)
	if string(got["mode"]) != `"dev"` {
		t.Fatalf("mode = %s", got["mode"])
	}
	if string(got["debug"]) != "true" {
		t.Fatalf("debug = %s", got["debug"])
	}
	var region struct{ Code string }
	if err := json.Unmarshal(got["region"], &region); err != nil || region.Code != "eu" {
		t.Fatalf("region = %s (%v)", got["region"], err)
	}
}

func TestConfig_SetupDocumentCarriesHAL(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("test-setup")
	ctx := context.WithValue(context.Background(), CtxDeviceKey, "loopback")
	if err := NewConfigService().publishConfig(ctx, conn); err != nil {
		t.Fatal(err)
	}
	got := collect(t, conn, 2)

	var cfg types.HALConfig
	if err := json.Unmarshal(got["hal"], &cfg); err != nil {
		t.Fatal(err)
	}
	if len(cfg.Ports) == 0 {
		t.Fatal("loopback setup has no ports")
	}
	var hb struct {
		IntervalMS int `json:"interval_ms"`
	}
	if err := json.Unmarshal(got["heartbeat"], &hb); err != nil || hb.IntervalMS != DefaultHeartbeatMS {
		t.Fatalf("heartbeat = %s (%v)", got["heartbeat"], err)
	}
}

func TestConfig_FileOverridesEmbedded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")
	if err := os.WriteFile(path, []byte(`{"heartbeat":{"interval_ms":500}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	svc := NewConfigService()
	svc.Path = path

	b := bus.NewBus(4)
	conn := b.NewConnection("test-file")
	if err := svc.publishConfig(context.Background(), conn); err != nil {
		t.Fatal(err)
	}
	if got := collect(t, conn, 1); string(got["heartbeat"]) != `{"interval_ms":500}` {
		t.Fatalf("heartbeat = %s", got["heartbeat"])
	}
}

func TestConfig_PublishConfig_MissingDevice(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-missing-device")
	err := NewConfigService().publishConfig(context.Background(), conn)
	if !errors.Is(err, errcode.InvalidArgument) {
		t.Fatalf("err = %v, want invalid_argument", err)
	}
}

func TestConfig_PublishConfig_NoConfigFound(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-no-config")
	ctx := context.WithValue(context.Background(), CtxDeviceKey, "unknown-device")
	err := NewConfigService().publishConfig(ctx, conn)
	if !errors.Is(err, errcode.NotFound) {
		t.Fatalf("err = %v, want not_found", err)
	}
}

func TestConfig_RejectsNonObject(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(string) ([]byte, bool) { return []byte(`[1,2]`), true }
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(4)
	conn := b.NewConnection("test-array")
	ctx := context.WithValue(context.Background(), CtxDeviceKey, "x")
	if err := NewConfigService().publishConfig(ctx, conn); err == nil {
		t.Fatal("expected error for array document")
	}
}
