package cleaner

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all webcleaner configuration.
type Config struct {
	DBPath      string         `yaml:"db_path"`
	BusyTimeout time.Duration  `yaml:"busy_timeout"` // SQLite busy_timeout
	OriginMode  string         `yaml:"origin_mode"`  // "origin" or "hostname"
	Debounce    DebounceConfig `yaml:"debounce"`
	Browser     BrowserConfig  `yaml:"browser"`
	Effects     EffectsConfig  `yaml:"effects"`
}

// DebounceConfig controls the mutation quiet period.
type DebounceConfig struct {
	Window time.Duration `yaml:"window"`
}

// BrowserConfig controls the Chrome host.
type BrowserConfig struct {
	Remote           string         `yaml:"remote"` // ws:// URL of a running Chrome; empty launches one
	ResourceBlocking []string       `yaml:"resource_blocking"`
	Viewport         ViewportConfig `yaml:"viewport"`
	Timeout          time.Duration  `yaml:"timeout"`
}

// ViewportConfig is the emulated window size.
type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// EffectsConfig tunes the visual effects.
type EffectsConfig struct {
	BlurRadius   string  `yaml:"blur_radius"`
	EnlargeScale float64 `yaml:"enlarge_scale"`
}

const (
	OriginModeOrigin   = "origin"
	OriginModeHostname = "hostname"
)

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "webcleaner.db"
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 10 * time.Second
	}
	if c.OriginMode == "" {
		c.OriginMode = OriginModeOrigin
	}
	if c.Debounce.Window <= 0 {
		c.Debounce.Window = 200 * time.Millisecond
	}
	if c.Browser.Viewport.Width <= 0 {
		c.Browser.Viewport.Width = 1280
	}
	if c.Browser.Viewport.Height <= 0 {
		c.Browser.Viewport.Height = 800
	}
	if c.Browser.Timeout <= 0 {
		c.Browser.Timeout = 30 * time.Second
	}
	if c.Effects.BlurRadius == "" {
		c.Effects.BlurRadius = "8px"
	}
	if c.Effects.EnlargeScale <= 0 {
		c.Effects.EnlargeScale = 1.5
	}
}

func (c *Config) validate() error {
	switch c.OriginMode {
	case OriginModeOrigin, OriginModeHostname:
		return nil
	}
	return fmt.Errorf("cleaner: origin_mode must be %q or %q, got %q",
		OriginModeOrigin, OriginModeHostname, c.OriginMode)
}

// LoadConfigFile reads a YAML config file. Missing fields get defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cleaner: parse %s: %w", path, err)
	}
	cfg.defaults()
	return cfg, cfg.validate()
}
