// Package config loads tool configuration from a TOML file, layering user
// settings over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"symbol-detect/internal/detect"
)

// DefaultFileName is the config file looked up when no explicit path is
// given, first in the working directory and then under the user config dir.
const DefaultFileName = "symboldetect.toml"

// Config is the full tool configuration.
type Config struct {
	// DocumentRoot is the directory holding processed documents. Empty
	// means document paths are given absolutely on the command line.
	DocumentRoot string `toml:"document_root"`

	// PageBaseDPI overrides the DPI pre-rendered page images are assumed
	// to be stored at. Zero derives it from the page geometry.
	PageBaseDPI int `toml:"page_base_dpi"`

	// DebugOverlay writes annotated page rasters for every run.
	DebugOverlay bool `toml:"debug_overlay"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// Detection overrides the matching thresholds.
	Detection detect.Params `toml:"detection"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:  "info",
		Detection: detect.DefaultParams(),
	}
}

// Load reads configuration from path. An empty path searches the default
// locations; a missing file yields the defaults. Values absent from the file
// keep their defaults because decoding overlays the default struct.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = findDefault()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Detection.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func findDefault() string {
	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName
	}
	if dir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(dir, "symboldetect", DefaultFileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ResolveDocDir expands a document reference against the configured root.
// Absolute paths and paths that exist as given are used untouched.
func (c Config) ResolveDocDir(ref string) string {
	if filepath.IsAbs(ref) || c.DocumentRoot == "" {
		return ref
	}
	if _, err := os.Stat(ref); err == nil {
		return ref
	}
	return filepath.Join(c.DocumentRoot, ref)
}
