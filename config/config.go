// Package config loads the volren settings from YAML.
//
// Values missing from a file keep their defaults, so a file only needs the
// settings it changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/volren/internal/gpu"
	"github.com/gogpu/volren/render"
	"github.com/gogpu/volren/volume"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid")

// Config is the volren configuration.
type Config struct {
	GPU struct {
		// Backend is auto, vulkan, metal, dx12, gl or noop.
		Backend string `yaml:"backend"`
	} `yaml:"gpu"`

	Render struct {
		// DynamicPercent is the share of the quality kept while the camera moves.
		DynamicPercent int `yaml:"dynamicPercent"`

		// Background and LightColor are RGB in [0, 1].
		Background [3]float32 `yaml:"background,flow"`
		LightColor [3]float32 `yaml:"lightColor,flow"`

		// LocalSize is the work-group edge of the ray marcher: a power of
		// two no larger than 16.
		LocalSize int `yaml:"localSize"`

		// Quality is the samples per ray; 0 derives it from the volume size.
		Quality int `yaml:"quality"`
	} `yaml:"render"`

	Presets struct {
		// File is a preset definitions file. Empty uses the built-in presets only.
		File string `yaml:"file"`

		// Watch reloads File when it changes.
		Watch bool `yaml:"watch"`
	} `yaml:"presets"`

	Cache struct {
		BudgetMB          int     `yaml:"budgetMB"`
		EvictionThreshold float64 `yaml:"evictionThreshold"`
	} `yaml:"cache"`

	Loader struct {
		// PartialEvery is the slice period of partial-load notifications.
		PartialEvery int `yaml:"partialEvery"`

		// MaxDepth subsamples longer series; 0 keeps every slice.
		MaxDepth int `yaml:"maxDepth"`
	} `yaml:"loader"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.GPU.Backend = "auto"

	cfg.Render.DynamicPercent = render.DefaultDynamicPercent
	cfg.Render.LightColor = [3]float32{1, 1, 1}
	cfg.Render.LocalSize = gpu.DefaultLocalSize

	cfg.Cache.BudgetMB = volume.DefaultBudgetMB
	cfg.Cache.EvictionThreshold = volume.DefaultEvictionThreshold

	cfg.Loader.PartialEvery = volume.DefaultPartialEvery

	return cfg
}

// LoadConfig reads path over the defaults. A missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, creating its directory.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // config files are not secret
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate reports the first out-of-range setting.
func (c *Config) Validate() error {
	if _, _, err := gpu.ParseBackend(c.GPU.Backend); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Render.DynamicPercent < 1 || c.Render.DynamicPercent > 100 {
		return fmt.Errorf("%w: render.dynamicPercent %d not in [1, 100]", ErrInvalidConfig, c.Render.DynamicPercent)
	}
	if err := unitColor("render.background", c.Render.Background); err != nil {
		return err
	}
	if err := unitColor("render.lightColor", c.Render.LightColor); err != nil {
		return err
	}
	if l := c.Render.LocalSize; l <= 0 || l&(l-1) != 0 {
		return fmt.Errorf("%w: render.localSize %d is not a power of two", ErrInvalidConfig, l)
	}
	if l := c.Render.LocalSize; l > gpu.MaxLocalSize {
		return fmt.Errorf("%w: render.localSize %d above %d", ErrInvalidConfig, l, gpu.MaxLocalSize)
	}
	if q := c.Render.Quality; q != 0 && (q < render.MinQuality || q > render.MaxQuality) {
		return fmt.Errorf("%w: render.quality %d not in [%d, %d]", ErrInvalidConfig, q, render.MinQuality, render.MaxQuality)
	}
	if c.Presets.Watch && c.Presets.File == "" {
		return fmt.Errorf("%w: presets.watch needs presets.file", ErrInvalidConfig)
	}
	if c.Cache.BudgetMB < volume.MinBudgetMB {
		return fmt.Errorf("%w: cache.budgetMB %d below %d", ErrInvalidConfig, c.Cache.BudgetMB, volume.MinBudgetMB)
	}
	if t := c.Cache.EvictionThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("%w: cache.evictionThreshold %v not in (0, 1]", ErrInvalidConfig, t)
	}
	if c.Loader.PartialEvery < 1 {
		return fmt.Errorf("%w: loader.partialEvery %d below 1", ErrInvalidConfig, c.Loader.PartialEvery)
	}
	if c.Loader.MaxDepth < 0 {
		return fmt.Errorf("%w: loader.maxDepth %d is negative", ErrInvalidConfig, c.Loader.MaxDepth)
	}
	return nil
}

func unitColor(name string, c [3]float32) error {
	for _, v := range c {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s %v not in [0, 1]", ErrInvalidConfig, name, c)
		}
	}
	return nil
}
