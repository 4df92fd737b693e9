// Package config publishes the device configuration on the bus: one
// retained message per top-level key, on config/<key>.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/golang/glog"

	"usarthal-go/bus"
	"usarthal-go/errcode"
	"usarthal-go/services/hal"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for device ID
)

// DefaultHeartbeatMS is the heartbeat period in generated documents.
const DefaultHeartbeatMS = 2000

// EmbeddedConfigLookup resolves the built-in document for a device. The
// default builds one from the HAL board setup of the same name.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, err := SetupDocument(device)
	if err != nil {
		return nil, false
	}
	return b, true
}

// SetupDocument renders the device document for a board setup.
func SetupDocument(setup string) ([]byte, error) {
	cfg, err := hal.Setup(setup)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"hal":       cfg,
		"heartbeat": map[string]any{"interval_ms": DefaultHeartbeatMS},
	})
}

type ConfigService struct {
	Name string
	// Path, when set, is read instead of the embedded document.
	Path string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// Document returns the raw configuration for device.
func (s *ConfigService) Document(device string) ([]byte, error) {
	if s.Path != "" {
		b, err := os.ReadFile(s.Path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return b, nil
	}
	if device == "" {
		return nil, fmt.Errorf("config: missing device ID: %w", errcode.InvalidArgument)
	}
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("config: no embedded config for device %q: %w", device, errcode.NotFound)
	}
	return raw, nil
}

// publishConfig splits the document into its top-level keys and publishes
// each value retained. Values stay raw JSON; subscribers decode them into
// their own types.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	raw, err := s.Document(device)
	if err != nil {
		return err
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if m == nil {
		return errors.New("config: document is not a JSON object")
	}

	for k, v := range m {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
	glog.V(1).Infof("config: published %d keys for %q", len(m), device)
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			glog.Errorf("%s: %v", s.Name, err)
		}
	}()
}
