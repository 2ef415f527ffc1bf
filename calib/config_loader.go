package calib

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MQTTConfig holds broker connection settings. Environment variables take
// precedence over these values (see ConnectMQTT).
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty"`
	ClientID      string `yaml:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty"`
	Password      string `yaml:"password,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty"`
}

// OptimizerConfig tunes the pitch search
type OptimizerConfig struct {
	SearchRange float64 `yaml:"searchRange,omitempty"` // vanishing-point rows either side of the current value
}

// Config is the top-level YAML configuration
type Config struct {
	Camera    CameraParams    `yaml:"camera"`
	Radar     RadarParams     `yaml:"radar"`
	MQTT      MQTTConfig      `yaml:"mqtt,omitempty"`
	Optimizer OptimizerConfig `yaml:"optimizer,omitempty"`
	Database  string          `yaml:"database,omitempty"`
	BEVRange  *BEVRange       `yaml:"bevRange,omitempty"`
}

// DefaultConfig returns a configuration holding the default parameters
func DefaultConfig() *Config {
	p := DefaultParams()
	return &Config{
		Camera:    p.Camera,
		Radar:     p.Radar,
		Optimizer: OptimizerConfig{SearchRange: DefaultSearchRange},
	}
}

// Params returns the calibration parameters described by the config
func (c *Config) Params() Params {
	return Params{Camera: c.Camera, Radar: c.Radar}
}

// SearchRange returns the configured optimizer range, or the default when unset
func (c *Config) SearchRange() float64 {
	if c.Optimizer.SearchRange > 0 {
		return c.Optimizer.SearchRange
	}
	return DefaultSearchRange
}

// Limits returns the configured validation range, or the default when unset
func (c *Config) Limits() BEVRange {
	if c.BEVRange != nil {
		return *c.BEVRange
	}
	return DefaultBEVRange()
}

// LoadConfig loads the configuration from a YAML file. Sections missing from
// the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Params().Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Optimizer.SearchRange < 0 {
		return nil, fmt.Errorf("optimizer.searchRange must be >= 0, got %g", config.Optimizer.SearchRange)
	}
	if r := config.BEVRange; r != nil && (r.MinX >= r.MaxX || r.MinY >= r.MaxY) {
		return nil, fmt.Errorf("bevRange must have min < max, got x=[%g,%g] y=[%g,%g]", r.MinX, r.MaxX, r.MinY, r.MaxY)
	}

	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
