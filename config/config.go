// Package config provides configuration management for the Ovvio VPN client.
// It handles loading, saving, and managing application settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ovvio/vpn-client/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// APIBaseURL is the base URL of the Ovvio backend.
	APIBaseURL string `yaml:"api_base_url"`
	// AutoConnect connects to the last selected server on launch.
	AutoConnect bool `yaml:"auto_connect"`
	// KillSwitch blocks traffic outside the tunnel while connected.
	KillSwitch bool `yaml:"kill_switch"`
	// TunnelSecret is the shared secret presented to the gateway during
	// client registration. It must be provisioned per deployment; there
	// is deliberately no built-in default.
	TunnelSecret string `yaml:"tunnel_secret"`
	// ProbeMaxConcurrent caps how many latency probes run at once.
	ProbeMaxConcurrent int `yaml:"probe_max_concurrent"`

	path string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:         "https://api.ovviovpn.com",
		AutoConnect:        false,
		KillSwitch:         false,
		ProbeMaxConcurrent: common.ProbeMaxConcurrent,
	}
}

// Load loads the configuration from the default config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(configDir, common.ConfigFileName))
}

// LoadFrom loads the configuration from an explicit path.
func LoadFrom(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.path = path
		if err := cfg.Save(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening configuration: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	var config Config
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}
	config.path = path

	config.validate()

	return &config, nil
}

// validate clamps invalid values back to defaults.
func (c *Config) validate() {
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultConfig().APIBaseURL
	}
	if c.ProbeMaxConcurrent <= 0 {
		c.ProbeMaxConcurrent = common.ProbeMaxConcurrent
	}
}

// Save saves the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.path == "" {
		configDir, err := common.GetConfigDir()
		if err != nil {
			return err
		}
		c.path = filepath.Join(configDir, common.ConfigFileName)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing configuration: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("error saving configuration: %w", err)
	}

	return nil
}
