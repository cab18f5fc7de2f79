package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		URL              string `yaml:"url"`
		Ping             string `yaml:"ping"`
		HandshakeTimeout string `yaml:"handshake_timeout"`
		WriteTimeout     string `yaml:"write_timeout"`
	} `yaml:"server"`
	Reconnect struct {
		MaxAttempts int    `yaml:"max_attempts"`
		BaseDelay   string `yaml:"base_delay"`
		MaxDelay    string `yaml:"max_delay"`
	} `yaml:"reconnect"`
	Controller struct {
		Nickname    string `yaml:"nickname"`
		ResyncGrace string `yaml:"resync_grace"`
		Pulse       string `yaml:"pulse"`
	} `yaml:"controller"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or
// malformed.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
