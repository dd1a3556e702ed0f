package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/touchpad-bridge/server/lib/logger"
)

// Config holds the process settings. The device list lives in the options file.
type Config struct {
	// Add-on options file with the "tvs" list, JSON or YAML.
	OptionsPath string `envconfig:"OPTIONS_PATH" default:"/data/options.json"`
	// Directory holding one client-key file per device.
	KeysDir string `envconfig:"KEYS_DIR" default:"/data/keys"`

	// Interface every per-device client listener binds to.
	ListenHost string `envconfig:"LISTEN_HOST" default:"0.0.0.0"`

	ReconnectDelay time.Duration `envconfig:"RECONNECT_DELAY" default:"5s"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(config *Config) error {
	if config.OptionsPath == "" {
		return fmt.Errorf("OPTIONS_PATH is required")
	}
	if config.KeysDir == "" {
		return fmt.Errorf("KEYS_DIR is required")
	}
	if config.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be greater than 0")
	}
	if _, err := logger.ParseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}

	return nil
}
