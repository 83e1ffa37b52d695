// Package config provides configuration loading and management for mmreg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for out-of-range settings
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input and output volumes
	IO struct {
		// FixedFile is the reference volume the moving volume is aligned to
		FixedFile string `yaml:"fixedFile"`

		// MovingFile is the volume being registered
		MovingFile string `yaml:"movingFile"`

		// CheckerboardFile receives the checkerboard composite of fixed and registered
		CheckerboardFile string `yaml:"checkerboardFile"`

		// DifferenceFile receives fixed minus registered
		DifferenceFile string `yaml:"differenceFile"`
	} `yaml:"io"`

	// Prefiltering applied to both volumes before the metric sees them
	Prefilter struct {
		// GaussianVariance is the smoothing variance in physical units (mm^2).
		// Zero leaves the normalized volumes unsmoothed; 2.0 is a reasonable
		// choice when the inputs are noisy.
		GaussianVariance float64 `yaml:"gaussianVariance"`

		// MaximumKernelWidth caps the discrete Gaussian kernel width in voxels
		MaximumKernelWidth int `yaml:"maximumKernelWidth"`

		// MaximumError is the tail mass the truncated kernel may drop
		MaximumError float64 `yaml:"maximumError"`
	} `yaml:"prefilter"`

	// Mutual information metric parameters
	Metric struct {
		// FixedImageStandardDeviation is the Parzen kernel width for the fixed image
		FixedImageStandardDeviation float64 `yaml:"fixedImageStandardDeviation"`

		// MovingImageStandardDeviation is the Parzen kernel width for the moving image
		MovingImageStandardDeviation float64 `yaml:"movingImageStandardDeviation"`

		// NumberOfSpatialSamples is the size of each random sample set
		NumberOfSpatialSamples int `yaml:"numberOfSpatialSamples"`

		// Seed makes the sampling reproducible
		Seed uint32 `yaml:"seed"`
	} `yaml:"metric"`

	// Gradient descent parameters
	Optimizer struct {
		LearningRate       float64 `yaml:"learningRate"`
		NumberOfIterations int     `yaml:"numberOfIterations"`
		Maximize           bool    `yaml:"maximize"`

		// ReportEvery controls how often iteration progress is logged
		ReportEvery int `yaml:"reportEvery"`
	} `yaml:"optimizer"`

	// Resampling of the moving volume onto the fixed grid
	Resample struct {
		// DefaultPixelValue fills voxels that map outside the moving volume
		DefaultPixelValue float64 `yaml:"defaultPixelValue"`
	} `yaml:"resample"`

	// Checkerboard composite
	Checkerboard struct {
		// Pattern is the number of checker cells along x, y and z
		Pattern [3]int `yaml:"pattern"`
	} `yaml:"checkerboard"`

	// Processing parameters
	Processing struct {
		// NumWorkers specifies how many goroutines the filters use.
		// Zero uses every logical core of the host.
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults writes prefiltered and registered volumes
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where intermediary volumes are written
		IntermediaryDir string `yaml:"intermediaryDir"`

		// SavePreviews writes central slices of the results as images
		SavePreviews bool `yaml:"savePreviews"`

		// PreviewDir is where preview images are written
		PreviewDir string `yaml:"previewDir"`

		// PreviewFormat is png or tiff
		PreviewFormat string `yaml:"previewFormat"`

		// ComputeQualityMetrics compares fixed and moving before and after registration
		ComputeQualityMetrics bool `yaml:"computeQualityMetrics"`

		// ReportFile receives the registration result and quality metrics as YAML.
		// Empty disables the report.
		ReportFile string `yaml:"reportFile"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level"`

		// JSON switches from console to JSON output
		JSON bool `yaml:"json"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.IO.FixedFile = "data/B006_LFOV_N4.nii.gz"
	cfg.IO.MovingFile = "data/B006_PLAN_CT.nii.gz"
	cfg.IO.CheckerboardFile = "data/out.nii.gz"
	cfg.IO.DifferenceFile = "data/dif.nii.gz"

	cfg.Prefilter.GaussianVariance = 0
	cfg.Prefilter.MaximumKernelWidth = 32
	cfg.Prefilter.MaximumError = 0.01

	cfg.Metric.FixedImageStandardDeviation = 0.4
	cfg.Metric.MovingImageStandardDeviation = 0.4
	cfg.Metric.NumberOfSpatialSamples = 50
	cfg.Metric.Seed = 121212

	cfg.Optimizer.LearningRate = 15.0
	cfg.Optimizer.NumberOfIterations = 1000
	cfg.Optimizer.Maximize = true
	cfg.Optimizer.ReportEvery = 50

	cfg.Resample.DefaultPixelValue = 100

	cfg.Checkerboard.Pattern = [3]int{4, 4, 4}

	cfg.Processing.NumWorkers = 0

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.SavePreviews = false
	cfg.Output.PreviewDir = "previews"
	cfg.Output.PreviewFormat = "png"
	cfg.Output.ComputeQualityMetrics = true

	cfg.Logging.Level = "info"

	return cfg
}

// Validate reports the first setting that cannot drive a registration
func (c *Config) Validate() error {
	switch {
	case c.IO.FixedFile == "" || c.IO.MovingFile == "":
		return fmt.Errorf("%w: fixed and moving files are required", ErrInvalidConfig)
	case c.IO.CheckerboardFile == "" || c.IO.DifferenceFile == "":
		return fmt.Errorf("%w: checkerboard and difference files are required", ErrInvalidConfig)
	case c.Prefilter.GaussianVariance < 0:
		return fmt.Errorf("%w: gaussianVariance must be non-negative", ErrInvalidConfig)
	case c.Prefilter.MaximumKernelWidth < 1:
		return fmt.Errorf("%w: maximumKernelWidth must be positive", ErrInvalidConfig)
	case c.Prefilter.MaximumError <= 0 || c.Prefilter.MaximumError >= 1:
		return fmt.Errorf("%w: maximumError must be in (0, 1)", ErrInvalidConfig)
	case c.Metric.FixedImageStandardDeviation <= 0 || c.Metric.MovingImageStandardDeviation <= 0:
		return fmt.Errorf("%w: metric standard deviations must be positive", ErrInvalidConfig)
	case c.Metric.NumberOfSpatialSamples < 1:
		return fmt.Errorf("%w: numberOfSpatialSamples must be positive", ErrInvalidConfig)
	case c.Optimizer.LearningRate <= 0:
		return fmt.Errorf("%w: learningRate must be positive", ErrInvalidConfig)
	case c.Optimizer.NumberOfIterations < 0:
		return fmt.Errorf("%w: numberOfIterations must be non-negative", ErrInvalidConfig)
	case c.Checkerboard.Pattern[0] < 1 || c.Checkerboard.Pattern[1] < 1 || c.Checkerboard.Pattern[2] < 1:
		return fmt.Errorf("%w: checkerboard pattern must be positive", ErrInvalidConfig)
	case c.Output.PreviewFormat != "png" && c.Output.PreviewFormat != "tiff":
		return fmt.Errorf("%w: previewFormat must be png or tiff", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

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
