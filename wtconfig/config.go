// Package wtconfig loads and hot-reloads the YAML configuration for a
// WebTransport endpoint (listen address, TLS material, datagram
// tuning), grounded on the same goccy/go-yaml-backed Config/Load shape
// and fsnotify-driven reload loop the host repository's own
// internal/config package uses.
package wtconfig

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Config is the full configuration for one endpoint, client or server.
type Config struct {
	Role     string   `yaml:"role"`
	Listen   string   `yaml:"listen"`
	TLS      TLS      `yaml:"tls"`
	Session  Session  `yaml:"session"`
	Metrics  Metrics  `yaml:"metrics"`
	Logging  Logging  `yaml:"logging"`
}

// TLS configures the QUIC handshake's certificate material. Paths are
// resolved relative to the working directory the process was started
// from.
type TLS struct {
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	ServerName string `yaml:"server_name"`
	Insecure   bool   `yaml:"insecure"` // client-only, skips server cert verification
}

// Session tunes the per-session limits and datagram behavior this
// module's Session applies.
type Session struct {
	UseDatagramContexts    bool `yaml:"use_datagram_contexts"`
	MaxDatagramTimeInQueueMS int  `yaml:"max_datagram_time_in_queue_ms"`
}

// Metrics configures the Prometheus exposition endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Logging selects the verbosity of the package-level logger installed
// via webtransport.SetLogger.
type Logging struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// Load reads and parses the YAML configuration at path, then fills in
// defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wtconfig: read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("wtconfig: parse %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("wtconfig: %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":4433"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9464"
	}
}

// Validate rejects configurations this module cannot act on.
func (c *Config) Validate() error {
	switch c.Role {
	case "client", "server":
	default:
		return fmt.Errorf("role must be \"client\" or \"server\", got %q", c.Role)
	}
	if c.Role == "server" && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("server role requires tls.cert_file and tls.key_file")
	}
	if c.Session.MaxDatagramTimeInQueueMS < 0 {
		return fmt.Errorf("session.max_datagram_time_in_queue_ms must not be negative")
	}
	return nil
}
