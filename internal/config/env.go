package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "RELAY_"

// FromEnv overlays RELAY_* environment variables onto cfg. Unset variables
// leave the current value alone. RELAY_HEADERS uses the k1:v1,k2:v2 form.
func FromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	return nil
}
