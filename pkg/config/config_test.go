package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultConfig verifies the registration defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Metric.FixedImageStandardDeviation != 0.4 || cfg.Metric.MovingImageStandardDeviation != 0.4 {
		t.Errorf("Expected metric standard deviations of 0.4, got %f and %f",
			cfg.Metric.FixedImageStandardDeviation, cfg.Metric.MovingImageStandardDeviation)
	}
	if cfg.Optimizer.LearningRate != 15.0 {
		t.Errorf("Expected learning rate 15, got %f", cfg.Optimizer.LearningRate)
	}
	if cfg.Optimizer.NumberOfIterations != 1000 {
		t.Errorf("Expected 1000 iterations, got %d", cfg.Optimizer.NumberOfIterations)
	}
	if !cfg.Optimizer.Maximize {
		t.Error("Expected the optimizer to maximize")
	}
	if cfg.Resample.DefaultPixelValue != 100 {
		t.Errorf("Expected default pixel value 100, got %f", cfg.Resample.DefaultPixelValue)
	}
	if cfg.Prefilter.GaussianVariance != 0 {
		t.Errorf("Expected no smoothing by default, got variance %f", cfg.Prefilter.GaussianVariance)
	}
	if cfg.Processing.NumWorkers != 0 {
		t.Errorf("Expected the worker count to follow the host, got %d", cfg.Processing.NumWorkers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

// TestLoadMissingFile verifies that a missing file yields defaults
func TestLoadMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.IO.FixedFile != DefaultConfig().IO.FixedFile {
		t.Errorf("Expected default fixed file, got %s", cfg.IO.FixedFile)
	}
}

// TestSaveAndLoad verifies that a saved config is read back with overrides intact
func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mmreg.yaml")

	cfg := DefaultConfig()
	cfg.Optimizer.LearningRate = 3.5
	cfg.Checkerboard.Pattern = [3]int{2, 3, 5}
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if loaded.Optimizer.LearningRate != 3.5 {
		t.Errorf("Expected learning rate 3.5, got %f", loaded.Optimizer.LearningRate)
	}
	if loaded.Checkerboard.Pattern != [3]int{2, 3, 5} {
		t.Errorf("Expected pattern [2 3 5], got %v", loaded.Checkerboard.Pattern)
	}
}

// TestPartialFileKeepsDefaults verifies that unspecified keys keep their defaults
func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	if err := os.WriteFile(path, []byte("optimizer:\n  numberOfIterations: 10\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Optimizer.NumberOfIterations != 10 {
		t.Errorf("Expected 10 iterations, got %d", cfg.Optimizer.NumberOfIterations)
	}
	if cfg.Optimizer.LearningRate != 15.0 {
		t.Errorf("Expected default learning rate, got %f", cfg.Optimizer.LearningRate)
	}
}

// TestLoadMalformedFile verifies that YAML errors are reported
func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("optimizer: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected an error for malformed YAML")
	}
}

// TestValidate exercises the range checks
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative variance", func(c *Config) { c.Prefilter.GaussianVariance = -1 }},
		{"zero std", func(c *Config) { c.Metric.MovingImageStandardDeviation = 0 }},
		{"no samples", func(c *Config) { c.Metric.NumberOfSpatialSamples = 0 }},
		{"zero learning rate", func(c *Config) { c.Optimizer.LearningRate = 0 }},
		{"bad pattern", func(c *Config) { c.Checkerboard.Pattern[1] = 0 }},
		{"bad preview format", func(c *Config) { c.Output.PreviewFormat = "gif" }},
		{"missing fixed", func(c *Config) { c.IO.FixedFile = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
