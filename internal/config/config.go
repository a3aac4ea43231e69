// Package config loads YAML configuration for the ship and shore peers.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Ship is the ship peer's configuration: the client-facing listener and
// the offshore link it dials out on.
type Ship struct {
	ListenAddr       string        `yaml:"listen_addr"`
	AdminAddr        string        `yaml:"admin_addr"`
	OffshoreHost     string        `yaml:"offshore_host"`
	OffshorePort     int           `yaml:"offshore_port"`
	ReconnectBackoff BackoffConfig `yaml:"reconnect_backoff"`
}

// Shore is the shore peer's configuration: the link listener and the
// policy applied to real upstream HTTP fetches.
type Shore struct {
	ListenAddr     string        `yaml:"listen_addr"`
	AdminAddr      string        `yaml:"admin_addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// BackoffConfig bounds the ship's reconnect loop.
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// shipDefaults are applied to zero-valued fields after loading.
var shipDefaults = Ship{
	ListenAddr:   ":8080",
	AdminAddr:    ":9100",
	OffshorePort: 9999,
	ReconnectBackoff: BackoffConfig{
		Initial: 500 * time.Millisecond,
		Max:     30 * time.Second,
	},
}

// shoreDefaults are applied to zero-valued fields after loading.
var shoreDefaults = Shore{
	ListenAddr:     ":9999",
	AdminAddr:      ":9101",
	RequestTimeout: 60 * time.Second,
	ConnectTimeout: 10 * time.Second,
}

// LoadShip reads a YAML file into a Ship config, filling in defaults for
// anything left zero. A missing file is read as empty, so every field
// falls back to shipDefaults, matching the teacher's fall-back-to-defaults
// behavior — except OffshoreHost, which has no default: LoadShip returns
// an error whenever it is unset, and so always fails on a missing file.
func LoadShip(path string) (*Ship, error) {
	cfg := shipDefaults
	if err := readYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyShipDefaults(&cfg)
	if cfg.OffshoreHost == "" {
		return nil, fmt.Errorf("config: offshore_host is required")
	}
	return &cfg, nil
}

// LoadShore reads a YAML file into a Shore config, filling in defaults.
func LoadShore(path string) (*Shore, error) {
	cfg := shoreDefaults
	if err := readYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyShoreDefaults(&cfg)
	return &cfg, nil
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyShipDefaults(cfg *Ship) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = shipDefaults.ListenAddr
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = shipDefaults.AdminAddr
	}
	if cfg.OffshorePort == 0 {
		cfg.OffshorePort = shipDefaults.OffshorePort
	}
	if cfg.ReconnectBackoff.Initial == 0 {
		cfg.ReconnectBackoff.Initial = shipDefaults.ReconnectBackoff.Initial
	}
	if cfg.ReconnectBackoff.Max == 0 {
		cfg.ReconnectBackoff.Max = shipDefaults.ReconnectBackoff.Max
	}
}

func applyShoreDefaults(cfg *Shore) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = shoreDefaults.ListenAddr
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = shoreDefaults.AdminAddr
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = shoreDefaults.RequestTimeout
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = shoreDefaults.ConnectTimeout
	}
}
