package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// LoadServerConfig reads path (if non-empty and present) over
// DefaultServerConfig, then applies CTPROTO_* environment overrides. A
// missing path is not an error — the zero-config case falls back to
// defaults, matching the teacher's LoadOrDefault.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, decodeErr := toml.DecodeFile(path, cfg); decodeErr != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, decodeErr)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}
	applyServerEnvOverrides(cfg)
	return cfg, nil
}

// LoadClientConfig is LoadServerConfig's client-side counterpart.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, decodeErr := toml.DecodeFile(path, cfg); decodeErr != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, decodeErr)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}
	applyClientEnvOverrides(cfg)
	return cfg, nil
}
