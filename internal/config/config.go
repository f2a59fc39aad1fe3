// Package config loads calibration run configuration from YAML files and
// provides defaults. Command-line flags override file values.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/omdevteam/om-sub004/internal/detector"
)

// RunConfig is the static configuration of a calibration run.
type RunConfig struct {
	// Detector selects a built-in model by name. ModelFile, when set,
	// loads a custom model instead and takes precedence.
	Detector  string `yaml:"detector"`
	ModelFile string `yaml:"modelFile"`

	// SkipFrames is the per-file warm-up count excluded from accumulation.
	SkipFrames int `yaml:"skipFrames"`

	// Fallback holds per-gain-mode constants for zero-coverage cells.
	// Empty means all zeros.
	Fallback []float64 `yaml:"fallback"`

	// Workers bounds file-level parallelism. Zero means one worker.
	Workers int `yaml:"workers"`

	// MonitorPort enables the progress endpoint when non-zero.
	MonitorPort int `yaml:"monitorPort"`

	// MetadataDefaults are the mandatory per-quantity fallbacks for the
	// metadata resolver (beamEnergy in eV, detectorDistance in mm,
	// timestamp in seconds; zero timestamp means wall clock at startup).
	MetadataDefaults map[string]float64 `yaml:"metadataDefaults"`
}

// Default returns a configuration with facility defaults.
func Default() *RunConfig {
	return &RunConfig{
		Detector:   "jungfrau1m",
		SkipFrames: 100,
		Workers:    1,
		MetadataDefaults: map[string]float64{
			"beamEnergy":       9300.0,
			"detectorDistance": 120.0,
			"timestamp":        0,
		},
	}
}

// Load reads a YAML run configuration, applying defaults for absent fields.
func Load(path string) (*RunConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &detector.ConfigError{Reason: fmt.Sprintf("config file %s: %v", path, err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that must stop a run before it starts.
func (c *RunConfig) Validate() error {
	if c.Detector == "" && c.ModelFile == "" {
		return &detector.ConfigError{Reason: "no detector model configured"}
	}
	if c.SkipFrames < 0 {
		return &detector.ConfigError{Reason: fmt.Sprintf("negative skip-frame count %d", c.SkipFrames)}
	}
	if c.Workers < 0 {
		return &detector.ConfigError{Reason: fmt.Sprintf("negative worker count %d", c.Workers)}
	}
	return nil
}

// Model resolves the configured detector model.
func (c *RunConfig) Model() (*detector.Model, error) {
	if c.ModelFile != "" {
		return detector.LoadModel(c.ModelFile)
	}
	m, err := detector.Lookup(c.Detector)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
