package config

import (
	"os"
	"path/filepath"
	"testing"

	"usarthal-go/errcode"
	"usarthal-go/types"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"stats_every_ms": 1000,
		"ports": [
			{"id": "uart0", "chip": "rp2", "device": "uart0", "pins": {"tx": 0, "rx": 1},
			 "default": {"baud": 115200, "parity": "none", "stop_bits": 1, "flow": "none"},
			 "reader": {"mode": "lines", "idle_flush_ms": 20}}
		]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Ports) != 1 || cfg.Ports[0].Pins.RX == nil || *cfg.Ports[0].Pins.RX != 1 {
		t.Fatalf("unexpected: %+v", cfg)
	}
	if cfg.Ports[0].Pins.CTS != nil {
		t.Fatalf("cts should be unconnected")
	}
	if d := cfg.Ports[0].Default; d == nil || d.Baud != 115200 || d.StopBits != types.StopBits1 {
		t.Fatalf("default = %+v", d)
	}
}

func TestValidateRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"no id":     `{"ports":[{"chip":"sim"}]}`,
		"duplicate": `{"ports":[{"id":"a","chip":"sim"},{"id":"a","chip":"sim"}]}`,
		"no chip":   `{"ports":[{"id":"a"}]}`,
		"negative":  `{"ports":[{"id":"a","chip":"sim","rx_buffer":-1}]}`,
		"data bits": `{"ports":[{"id":"a","chip":"sim","default":{"baud":9600,"data_bits":4}}]}`,
	} {
		if _, err := Parse([]byte(doc)); errcode.Of(err) != errcode.InvalidArgument {
			t.Errorf("%s: err = %v", name, err)
		}
	}
	if _, err := Parse([]byte(`{"ports":[{"id":"a","chip":"sim","default":{"parity":"mark"}}]}`)); err == nil {
		t.Errorf("bad parity accepted")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hal.json")
	if err := os.WriteFile(path, []byte(`{"ports":[{"id":"tty0","chip":"tty","device":"/dev/ttyUSB0"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil || cfg.Ports[0].Device != "/dev/ttyUSB0" {
		t.Fatalf("load: %+v %v", cfg, err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("missing file loaded")
	}
}
