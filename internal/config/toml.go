// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	API       APIConfig       `toml:"api"`
	Dashboard DashboardConfig `toml:"dashboard"`
	Catalog   CatalogConfig   `toml:"catalog"`
	Ingest    IngestConfig    `toml:"ingest"`
	Log       LogConfig       `toml:"log"`
	Serve     ServeConfig     `toml:"serve"`
	Display   DisplayConfig   `toml:"display"`
}

// APIConfig maps backend settings.
type APIConfig struct {
	BaseURL *string `toml:"base-url"`
	Timeout *string `toml:"timeout"`
}

// DashboardConfig maps view defaults.
type DashboardConfig struct {
	View     *string `toml:"view"`
	Year     *int    `toml:"year"`
	Timezone *string `toml:"timezone"`
}

// CatalogConfig overrides the known CSPs and categories.
type CatalogConfig struct {
	CSPs       []string `toml:"csps"`
	Categories []string `toml:"categories"`
}

// IngestConfig maps record parsing settings.
type IngestConfig struct {
	Strict *bool `toml:"strict"`
}

// LogConfig maps logging settings.
type LogConfig struct {
	Level  *string `toml:"level"`
	Format *string `toml:"format"`
	File   *string `toml:"file"`
}

// ServeConfig maps HTTP server settings.
type ServeConfig struct {
	Addr    *string `toml:"addr"`
	Metrics *bool   `toml:"metrics"`
}

// DisplayConfig maps terminal rendering settings.
type DisplayConfig struct {
	Color  *string `toml:"color"`
	Width  *int    `toml:"width"`
	Locale *string `toml:"locale"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

// TimeoutDuration returns the configured API timeout. Zero means none.
func (c APIConfig) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == nil || strings.TrimSpace(*c.Timeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*c.Timeout))
	if err != nil {
		return 0, fmt.Errorf("invalid api timeout %q: %w", *c.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("api timeout must be >= 0")
	}
	return d, nil
}

// Location returns the configured dashboard time zone, or time.Local.
func (c DashboardConfig) Location() (*time.Location, error) {
	if c.Timezone == nil || strings.TrimSpace(*c.Timezone) == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(strings.TrimSpace(*c.Timezone))
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", *c.Timezone, err)
	}
	return loc, nil
}

func (c FileConfig) validate() error {
	if _, err := c.API.TimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Dashboard.Location(); err != nil {
		return err
	}
	if c.Display.Color != nil {
		switch strings.ToLower(*c.Display.Color) {
		case "auto", "always", "never":
		default:
			return fmt.Errorf("invalid display color %q (expected auto, always or never)", *c.Display.Color)
		}
	}
	if c.Display.Width != nil && *c.Display.Width < 0 {
		return fmt.Errorf("display width must be >= 0")
	}
	return nil
}
