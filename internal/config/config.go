// Package config loads the bus's initial runtime parameters from a YAML
// file and watches it for changes, reloading defaults between passes.
// Per spec, the telecommand path remains the only way to change bps,
// max_packet_size, or a metric's token_threshold during a pass; this
// package only supplies and reloads the *initial* values a fresh Registry
// is constructed with.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Endpoints holds the UDP addresses the four I/O servers bind or send to.
// Defaults match spec: ingest 3000, telecommand 3001, downlink source 3002,
// request/response 8080.
type Endpoints struct {
	Ingest          string   `yaml:"ingest"`
	Request         string   `yaml:"request"`
	Telecommand     string   `yaml:"telecommand"`
	DownlinkSource  string   `yaml:"downlink_source"`
	DownlinkDest    string   `yaml:"downlink_dest"`
	RelayDests      []string `yaml:"relay_dests"`
	MetricsListen   string   `yaml:"metrics_listen"`
	SpectrometerSHM string   `yaml:"spectrometer_shm"`
}

// Config is the complete set of process-start parameters.
type Config struct {
	Bps             uint32            `yaml:"bps"`
	MaxPacketSize   uint32            `yaml:"max_packet_size"`
	TokenThresholds map[string]uint32 `yaml:"token_thresholds"`
	Endpoints       Endpoints         `yaml:"endpoints"`
	Hooks           HooksConfig       `yaml:"hooks"`
}

// HooksConfig configures the operational hook manager.
type HooksConfig struct {
	Timeout     string       `yaml:"timeout"`
	Concurrency int          `yaml:"concurrency"`
	StdioFormat string       `yaml:"stdio_format"`
	Shell       []ShellHook  `yaml:"shell"`
	Webhook     []WebhookHook `yaml:"webhook"`
}

// ShellHook declares a shell script to run for a named event.
type ShellHook struct {
	Event      string `yaml:"event"`
	Command    string `yaml:"command"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// WebhookHook declares an HTTP endpoint to POST a named event to.
type WebhookHook struct {
	Event      string `yaml:"event"`
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Default returns the spec's documented defaults.
func Default() Config {
	return Config{
		Bps:             100000,
		MaxPacketSize:   100,
		TokenThresholds: map[string]uint32{},
		Endpoints: Endpoints{
			Ingest:         ":3000",
			Request:        ":8080",
			Telecommand:    ":3001",
			DownlinkSource: ":3002",
			DownlinkDest:   "127.0.0.1:4000",
			MetricsListen:  ":9090",
		},
		Hooks: HooksConfig{
			Timeout:     "30s",
			Concurrency: 10,
		},
	}
}

// Load reads and parses a YAML config file, filling any field the file
// omits with the value from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
