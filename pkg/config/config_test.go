package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Estimate.Threshold != 120 {
		t.Errorf("Expected threshold 120, got %d", cfg.Estimate.Threshold)
	}
	if cfg.Estimate.CutOff != 10000 {
		t.Errorf("Expected cut-off 10000, got %d", cfg.Estimate.CutOff)
	}
	if cfg.Estimate.Combine {
		t.Error("Expected combine to be off by default")
	}
	if cfg.Estimate.Resolution != 0 {
		t.Errorf("Expected resolution to be read from metadata by default, got %v", cfg.Estimate.Resolution)
	}
	if cfg.Processing.Workers < 1 {
		t.Errorf("Expected at least one worker, got %d", cfg.Processing.Workers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default configuration should be valid: %v", err)
	}
}

// TestLoadMissingFile verifies a missing file yields the defaults
func TestLoadMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Estimate.Threshold != 120 {
		t.Errorf("Expected default threshold, got %d", cfg.Estimate.Threshold)
	}

	cfg, err = LoadConfig("")
	if err != nil || cfg == nil {
		t.Fatalf("Expected defaults for an empty path, got %v, %v", cfg, err)
	}
}

// TestSaveAndLoad verifies a saved configuration reads back unchanged
func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "leafarea.yaml")

	cfg := DefaultConfig()
	cfg.Estimate.Threshold = 90
	cfg.Estimate.CutOff = 500
	cfg.Estimate.Combine = true
	cfg.Estimate.Resolution = 600
	cfg.Preprocess.Crop = 25
	cfg.Preprocess.Format = "png"
	cfg.Processing.Workers = 3
	cfg.Output.CSV = "areas.csv"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("Expected %+v, got %+v", cfg, loaded)
	}
}

// TestPartialFileKeepsDefaults verifies fields absent from the file keep their defaults
func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	if err := os.WriteFile(path, []byte("estimate:\n  threshold: 100\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Estimate.Threshold != 100 {
		t.Errorf("Expected threshold 100, got %d", cfg.Estimate.Threshold)
	}
	if cfg.Estimate.CutOff != 10000 {
		t.Errorf("Expected default cut-off, got %d", cfg.Estimate.CutOff)
	}
	if cfg.Preprocess.Format != "jpg" {
		t.Errorf("Expected default format, got %q", cfg.Preprocess.Format)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("estimate: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected a parse error")
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected config file to exist: %v", err)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
	}{
		{"threshold below range", func(c *Config) { c.Estimate.Threshold = -1 }},
		{"threshold above range", func(c *Config) { c.Estimate.Threshold = 256 }},
		{"negative cut-off", func(c *Config) { c.Estimate.CutOff = -5 }},
		{"negative resolution", func(c *Config) { c.Estimate.Resolution = -300 }},
		{"negative crop", func(c *Config) { c.Preprocess.Crop = -1 }},
		{"unknown format", func(c *Config) { c.Preprocess.Format = "gif" }},
		{"no workers", func(c *Config) { c.Processing.Workers = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
