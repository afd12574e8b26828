// Package config provides configuration loading and management for leafarea.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"leafarea/pkg/batch"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Estimation parameters
	Estimate struct {
		// Threshold is the intensity (0 black - 255 white) below which a pixel is leaf
		Threshold int `yaml:"threshold"`

		// CutOff is the minimum number of pixels for a component to count as a leaf
		CutOff int `yaml:"cutOff"`

		// Combine sums every leaf of a scan into a single area
		Combine bool `yaml:"combine"`

		// Resolution overrides the scan DPI; 0 reads it from the image metadata
		Resolution float64 `yaml:"resolution"`

		// Labels writes a colour view of the measured leaves next to each mask
		Labels bool `yaml:"labels"`
	} `yaml:"estimate"`

	// Pre-processing parameters, all in pixels
	Preprocess struct {
		// Crop is removed from every edge before anything else
		Crop int `yaml:"crop"`

		// RedScale is the side of the red scale square added at the top left
		RedScale int `yaml:"redScale"`

		// MaskScale is the side of the white window painted over an existing scale
		MaskScale int `yaml:"maskScale"`

		// MaskOffsetX and MaskOffsetY position the masking window
		MaskOffsetX int `yaml:"maskOffsetX"`
		MaskOffsetY int `yaml:"maskOffsetY"`

		// Format of the written images, jpg or png
		Format string `yaml:"format"`
	} `yaml:"preprocess"`

	// Processing parameters
	Processing struct {
		// Workers specifies how many scans are processed in parallel
		Workers int `yaml:"workers"`

		// Resilient keeps processing a batch after a scan fails
		Resilient bool `yaml:"resilient"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// CSV, JSON and Chart are optional files the results are written to
		CSV   string `yaml:"csv"`
		JSON  string `yaml:"json"`
		Chart string `yaml:"chart"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Estimate.Threshold = 120
	cfg.Estimate.CutOff = 10000
	cfg.Estimate.Combine = false
	cfg.Estimate.Resolution = 0

	cfg.Preprocess.Format = "jpg"

	cfg.Processing.Workers = batch.DefaultWorkers() // all available cores but one
	cfg.Processing.Resilient = false

	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// An empty path or a missing file yields the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Fields absent from the file keep their defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

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

// Validate checks the ranges of every setting so that bad values are
// reported before any image is processed
func (c *Config) Validate() error {
	var errs []error

	if c.Estimate.Threshold < 0 || c.Estimate.Threshold > 255 {
		errs = append(errs, fmt.Errorf("threshold must be between 0 and 255, got %d", c.Estimate.Threshold))
	}
	if c.Estimate.CutOff < 0 {
		errs = append(errs, fmt.Errorf("cut-off must not be negative, got %d", c.Estimate.CutOff))
	}
	if c.Estimate.Resolution < 0 {
		errs = append(errs, fmt.Errorf("resolution must not be negative, got %v", c.Estimate.Resolution))
	}

	p := c.Preprocess
	if p.Crop < 0 || p.RedScale < 0 || p.MaskScale < 0 || p.MaskOffsetX < 0 || p.MaskOffsetY < 0 {
		errs = append(errs, errors.New("pre-processing sizes and offsets must not be negative"))
	}
	if p.Format != "jpg" && p.Format != "png" {
		errs = append(errs, fmt.Errorf("format must be jpg or png, got %q", p.Format))
	}

	if c.Processing.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Processing.Workers))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
