// Package config provides unified configuration loading for rulemap.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/rulemap/internal/compress"
	"github.com/nvandessel/rulemap/internal/condensate"
	"github.com/nvandessel/rulemap/internal/sheaf"
	"github.com/nvandessel/rulemap/internal/tpe"
)

// GridConfig fixes the primary simulation run every analyzer shares.
type GridConfig struct {
	Height int `yaml:"height"`
	Width  int `yaml:"width"`
	Steps  int `yaml:"steps"`

	// Density seeds the primary random initial condition.
	Density float64 `yaml:"density"`

	// Seed drives the primary initial condition. The condensate and
	// spectral analyzers carry their own seeds; ApplySeed aligns them all.
	Seed uint64 `yaml:"seed"`
}

// FusionConfig tunes the record fusion rule.
type FusionConfig struct {
	// GoldilocksLow/High bound the harmonic-overlap band inside which a
	// curious rule is flagged interesting.
	GoldilocksLow  float64 `yaml:"goldilocks_low"`
	GoldilocksHigh float64 `yaml:"goldilocks_high"`
}

// ScanConfig tunes batch execution.
type ScanConfig struct {
	// Workers bounds concurrent rule analyses.
	Workers int `yaml:"workers"`

	// AtlasPath is the SQLite database location.
	AtlasPath string `yaml:"atlas_path"`
}

// LoggingConfig configures operational logging.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables scan tracing to .rulemap/traces.jsonl.
	Level string `yaml:"level"`
}

// Config contains all rulemap configuration settings.
type Config struct {
	Grid        GridConfig        `yaml:"grid"`
	Compression compress.Config   `yaml:"compression"`
	Spectral    sheaf.Config      `yaml:"spectral"`
	Condensate  condensate.Config `yaml:"condensate"`
	TPE         tpe.Config        `yaml:"tpe"`
	Fusion      FusionConfig      `yaml:"fusion"`
	Scan        ScanConfig        `yaml:"scan"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Default returns the configuration matching the reference scenarios:
// 64x64 grids, 300-step budgets, Goldilocks band [0.3, 0.6].
func Default() Config {
	return Config{
		Grid: GridConfig{
			Height:  64,
			Width:   64,
			Steps:   300,
			Density: 0.30,
			Seed:    42,
		},
		Compression: compress.DefaultConfig(),
		Spectral:    sheaf.DefaultConfig(),
		Condensate:  condensate.DefaultConfig(),
		TPE:         tpe.DefaultConfig(),
		Fusion: FusionConfig{
			GoldilocksLow:  0.3,
			GoldilocksHigh: 0.6,
		},
		Scan: ScanConfig{
			Workers:   4,
			AtlasPath: ".rulemap/atlas.db",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path, layering file values over defaults
// and environment variables over both. A missing file is not an error;
// defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays RULEMAP_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("RULEMAP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RULEMAP_ATLAS_PATH"); v != "" {
		c.Scan.AtlasPath = v
	}
	if v := os.Getenv("RULEMAP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scan.Workers = n
		}
	}
	if v := os.Getenv("RULEMAP_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.ApplySeed(n)
		}
	}
}

// ApplySeed aligns every seeded component on one scan seed.
func (c *Config) ApplySeed(seed uint64) {
	c.Grid.Seed = seed
	c.Spectral.Seed = seed
	c.Condensate.Seed = seed
}

// Validate checks cross-field consistency. Analyzer constructors re-check
// their own sections; this catches the grid-level mistakes early.
func (c *Config) Validate() error {
	if c.Grid.Height <= 0 || c.Grid.Width <= 0 {
		return fmt.Errorf("config: grid dimensions %dx%d must be positive", c.Grid.Height, c.Grid.Width)
	}
	if c.Grid.Steps < 0 {
		return fmt.Errorf("config: grid steps %d must be non-negative", c.Grid.Steps)
	}
	if c.Grid.Density < 0 || c.Grid.Density > 1 {
		return fmt.Errorf("config: grid density %g must be in [0,1]", c.Grid.Density)
	}
	if c.Fusion.GoldilocksLow > c.Fusion.GoldilocksHigh {
		return fmt.Errorf("config: goldilocks band [%g,%g] is inverted",
			c.Fusion.GoldilocksLow, c.Fusion.GoldilocksHigh)
	}
	if c.Scan.Workers < 1 {
		return fmt.Errorf("config: workers %d must be at least 1", c.Scan.Workers)
	}
	return nil
}
