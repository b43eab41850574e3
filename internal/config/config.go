// Package config loads flow-sensor settings from an optional YAML file.
// Command-line flags override file values; see cmd/flow-sensor.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/flow-sensor/internal/flow"
	"github.com/sweeney/flow-sensor/internal/gpio"
)

// Config is the full daemon configuration.
type Config struct {
	Chip     string        `yaml:"chip"`
	Pin      int           `yaml:"pin"`
	Debounce time.Duration `yaml:"debounce"`

	Meter          string        `yaml:"meter"`
	FlowConstant   float64       `yaml:"flow_constant"`
	DeltaThreshold time.Duration `yaml:"delta_threshold"`

	Keg           string  `yaml:"keg"`
	Contents      string  `yaml:"contents"`
	InitialVolume float64 `yaml:"initial_volume"`

	StateFile    string        `yaml:"state_file"`
	SaveInterval time.Duration `yaml:"save_interval"`
	Poll         time.Duration `yaml:"poll"`

	Broker    string        `yaml:"broker"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	HTTPAddr  string        `yaml:"http"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Chip:           "gpiochip0",
		Pin:            gpio.DefaultPin,
		Debounce:       20 * time.Millisecond,
		Meter:          "gr-301",
		DeltaThreshold: flow.DefaultDeltaThreshold,
		Keg:            "corny",
		StateFile:      "state.json",
		SaveInterval:   5 * time.Second,
		Poll:           time.Second,
		Broker:         "tcp://192.168.1.200:1883",
		Heartbeat:      15 * time.Minute,
		HTTPAddr:       ":9220",
	}
}

// Load reads a YAML file on top of Default. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks settings that have no sensible fallback.
func (c Config) Validate() error {
	var errs []error
	if c.Pin < 0 {
		errs = append(errs, fmt.Errorf("pin must not be negative, got %d", c.Pin))
	}
	if c.StateFile == "" {
		errs = append(errs, errors.New("state file required"))
	}
	if c.SaveInterval <= 0 {
		errs = append(errs, fmt.Errorf("save interval must be positive, got %v", c.SaveInterval))
	}
	if c.Poll <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %v", c.Poll))
	}
	if c.Debounce < 0 {
		errs = append(errs, fmt.Errorf("debounce must not be negative, got %v", c.Debounce))
	}
	if c.FlowConstant < 0 {
		errs = append(errs, fmt.Errorf("%w: flow constant must be positive, got %v", flow.ErrInvalidConfig, c.FlowConstant))
	}
	if c.Meter != "" {
		if _, ok := FlowMeters[c.Meter]; !ok {
			errs = append(errs, fmt.Errorf("unknown flow meter model %q", c.Meter))
		}
	}
	if c.Keg != "" {
		if _, ok := Kegs[c.Keg]; !ok {
			errs = append(errs, fmt.Errorf("unknown keg type %q", c.Keg))
		}
	}
	return errors.Join(errs...)
}

// FlowConfig resolves the accumulator settings. An explicit flow constant wins
// over the meter model table, which wins over the constant persisted with the
// last snapshot. The result is validated by flow.New.
func (c Config) FlowConfig(persisted float64) flow.Config {
	k := c.FlowConstant
	if k <= 0 {
		if m, ok := FlowMeters[c.Meter]; ok {
			k = m.FlowConstant
		}
	}
	if k <= 0 {
		k = persisted
	}
	return flow.Config{FlowConstant: k, DeltaThreshold: c.DeltaThreshold}
}

// InitialRemaining is the supply volume, in liters, for a fresh state.
func (c Config) InitialRemaining() float64 {
	if c.InitialVolume > 0 {
		return c.InitialVolume
	}
	if k, ok := Kegs[c.Keg]; ok {
		return k.Volume
	}
	return 0
}

// KegType returns the keg type label, or "unknown".
func (c Config) KegType() string {
	if c.Keg == "" {
		return "unknown"
	}
	return c.Keg
}
