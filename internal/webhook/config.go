package webhook

import (
	"fmt"

	"github.com/mattjoyce/jobrelay/internal/config"
)

// FromGlobalConfig converts config.HTTPConfig to webhook.Config.
func FromGlobalConfig(hc config.HTTPConfig) (Config, error) {
	cfg := Config{Listen: hc.Listen, MaxBodySize: DefaultMaxBodySize}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if hc.MaxBodySize != "" {
		size, err := config.ParseSize(hc.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("http.max_body_size %q: %w", hc.MaxBodySize, err)
		}
		cfg.MaxBodySize = size
	}
	return cfg, nil
}
