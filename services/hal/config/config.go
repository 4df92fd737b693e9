// Package config loads and checks the HAL port configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"usarthal-go/drivers/usart"
	"usarthal-go/errcode"
	"usarthal-go/types"
)

// Parse decodes a config/hal document and checks it.
func Parse(b []byte) (types.HALConfig, error) {
	var cfg types.HALConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("hal config: %w", err)
	}
	return cfg, Validate(cfg)
}

// Load reads a config/hal document from path.
func Load(path string) (types.HALConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return types.HALConfig{}, err
	}
	return Parse(b)
}

// Validate rejects documents no build could serve: missing or repeated
// ids, negative sizes and bad default line settings. Chip names are checked
// when ports are built.
func Validate(cfg types.HALConfig) error {
	seen := map[string]bool{}
	for i, p := range cfg.Ports {
		switch {
		case p.ID == "":
			return errcode.Wrap(errcode.InvalidArgument, "hal config", fmt.Sprintf("port %d: no id", i))
		case seen[p.ID]:
			return errcode.Wrap(errcode.InvalidArgument, "hal config", "duplicate port "+p.ID)
		case p.Chip == "":
			return errcode.Wrap(errcode.InvalidArgument, "hal config", p.ID+": no chip")
		case p.RxBuffer < 0 || p.TxBuffer < 0 || p.MaxChunk < 0:
			return errcode.Wrap(errcode.InvalidArgument, "hal config", p.ID+": negative size")
		}
		seen[p.ID] = true
		if p.Default != nil {
			if err := usart.Validate(*p.Default); err != nil {
				return fmt.Errorf("hal config: %s: %w", p.ID, err)
			}
		}
	}
	return nil
}
