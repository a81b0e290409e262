// Package config provides configuration loading and management for volkit.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"volkit/pkg/geometry"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input parameters
	Input struct {
		// Reorient flips axes with negative direction cosines on load
		Reorient bool `yaml:"reorient"`
	} `yaml:"input"`

	// Geometry operations, applied in the order they are listed here
	Geometry struct {
		// Flip lists the axes to reverse: "z", "y" and/or "x"
		Flip []string `yaml:"flip"`

		// Crop extracts a sub-volume at Point (z, y, x) with Size (d, h, w).
		// A zero Size disables it.
		Crop struct {
			Point [3]int `yaml:"point"`
			Size  [3]int `yaml:"size"`
		} `yaml:"crop"`

		// CenterCrop extracts a centered sub-volume (d, h, w); zero disables it
		CenterCrop [3]int `yaml:"centerCrop"`

		// Resize resamples to Size (d, h, w); a zero Size disables it
		Resize struct {
			Size    [3]int `yaml:"size"`
			Mode    string `yaml:"mode"`
			ToFloat bool   `yaml:"toFloat"`
		} `yaml:"resize"`
	} `yaml:"geometry"`

	// Output parameters
	Output struct {
		// Compress zlib-compresses the written MetaImage payload
		Compress bool `yaml:"compress"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// SliceFormat is the file extension used for extracted slices
		SliceFormat string `yaml:"sliceFormat"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.Reorient = false

	cfg.Geometry.Resize.Mode = string(geometry.Trilinear)

	cfg.Output.Compress = false
	cfg.Output.Verbose = true
	cfg.Output.SliceFormat = "png"

	return cfg
}

// Validate checks the configuration for values the geometry operations reject.
// An empty resize mode is set to trilinear, the mode Resize uses for it.
func (c *Config) Validate() error {
	for _, axis := range c.Geometry.Flip {
		if _, err := AxisIndex(axis); err != nil {
			return err
		}
	}
	if c.Geometry.Resize.Mode == "" {
		c.Geometry.Resize.Mode = string(geometry.Trilinear)
	}
	if _, err := geometry.ParseMode(c.Geometry.Resize.Mode); err != nil {
		return err
	}
	if size := c.Geometry.Resize.Size; size != [3]int{} {
		for _, n := range size {
			if n <= 0 {
				return fmt.Errorf("resize size %v must be positive on every axis", size)
			}
		}
	}
	for _, n := range c.Geometry.CenterCrop {
		if n < 0 {
			return fmt.Errorf("center crop %v must not be negative", c.Geometry.CenterCrop)
		}
	}
	switch c.Output.SliceFormat {
	case "png", "jpg", "jpeg", "tif", "tiff", "bmp", "gif":
	default:
		return fmt.Errorf("unsupported slice format %q", c.Output.SliceFormat)
	}
	return nil
}

// AxisIndex maps an axis name to its array index (z = 0, y = 1, x = 2)
func AxisIndex(axis string) (int, error) {
	switch axis {
	case "z", "Z":
		return 0, nil
	case "y", "Y":
		return 1, nil
	case "x", "X":
		return 2, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
