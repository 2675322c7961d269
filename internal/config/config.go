// Package config handles cinder.toml interpreter configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up next to a script or in any
// ancestor directory.
const FileName = "cinder.toml"

// Config is the interpreter configuration.
type Config struct {
	GC    GC    `toml:"gc"`
	Trace Trace `toml:"trace"`
	Cache Cache `toml:"cache"`

	// Dir is the directory the file was loaded from (set at load time).
	Dir string `toml:"-"`
}

// GC tunes the collector.
type GC struct {
	// Stress runs a collection before every allocation.
	Stress bool `toml:"stress"`

	// LogStats logs every collection cycle at info level.
	LogStats bool `toml:"log-stats"`

	// InitialThreshold is the allocation budget in bytes before the first
	// collection; zero keeps the default.
	InitialThreshold int `toml:"initial-threshold"`
}

// Trace controls execution tracing.
type Trace struct {
	// Execution disassembles each instruction as it runs.
	Execution bool `toml:"execution"`

	// Disassemble lists the compiled script before it runs.
	Disassemble bool `toml:"disassemble"`
}

// Cache configures the compiled-script cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{}
}

// Load parses a cinder.toml file from the given directory.
func Load(dir string) (Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("cannot read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse error in %s: %w", path, err)
	}

	cfg.Dir, err = filepath.Abs(dir)
	if err != nil {
		return Default(), fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	return cfg, nil
}

// FindAndLoad walks up from startDir looking for a cinder.toml, then loads
// it. Returns the defaults when no file is found.
func FindAndLoad(startDir string) (Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return Default(), fmt.Errorf("cannot resolve path %s: %w", startDir, err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}
