// Package config provides layered configuration for loadwire.
//
// Settings come from three layers, lowest priority first: built-in
// defaults, a TOML or YAML file, and LOADWIRE_ environment variables.
//
// Basic usage:
//
//	cfg, err := config.Load("loadwire.toml")
//	if err != nil {
//	    return err
//	}
//	d := loader.New(proc, sender, runner, cfg.DispatcherConfig())
package config

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dshills/loadwire/internal/config/loader"
	"github.com/dshills/loadwire/internal/logging"
	dispatch "github.com/dshills/loadwire/internal/loader"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "LOADWIRE_"

// Config is the complete loadwire configuration.
type Config struct {
	Loader LoaderConfig `toml:"loader" yaml:"loader"`
	Log    LogConfig    `toml:"log" yaml:"log"`
	Netlog NetlogConfig `toml:"netlog" yaml:"netlog"`
	Policy PolicyConfig `toml:"policy" yaml:"policy"`
}

// LoaderConfig configures the dispatcher.
type LoaderConfig struct {
	MaxBufferSize   int  `toml:"max_buffer_size" yaml:"max_buffer_size"`
	ConsistentClock bool `toml:"consistent_clock" yaml:"consistent_clock"`
	EnableMetrics   bool `toml:"enable_metrics" yaml:"enable_metrics"`
	RecoverPanics   bool `toml:"recover_panics" yaml:"recover_panics"`
}

// LogConfig configures diagnostics.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// NetlogConfig configures the request log.
type NetlogConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// PolicyConfig configures the redirect policy script.
type PolicyConfig struct {
	Script string `toml:"script" yaml:"script"`
}

// Validation errors.
var (
	ErrInvalidBufferSize = errors.New("loader.max_buffer_size must be positive")
	ErrInvalidLogLevel   = errors.New("unknown log.level")
	ErrNetlogPath        = errors.New("netlog.path is required when netlog is enabled")
)

var levelNames = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

// Default returns the built-in configuration.
func Default() Config {
	d := dispatch.DefaultConfig()
	return Config{
		Loader: LoaderConfig{
			MaxBufferSize:   d.MaxBufferSize,
			ConsistentClock: d.ConsistentClock,
			EnableMetrics:   d.EnableMetrics,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the file at path and the
// environment. An empty path or a missing file contributes nothing.
func Load(path string) (Config, error) {
	layers := make(map[string]any)

	if path != "" {
		fl, err := loader.ForPath(path)
		if err != nil {
			return Config{}, err
		}
		fileMap, err := fl.Load()
		if err != nil {
			return Config{}, err
		}
		layers = loader.DeepMerge(layers, fileMap)
	}

	envMap, err := loader.NewEnvLoader(EnvPrefix).Load()
	if err != nil {
		return Config{}, err
	}
	layers = loader.DeepMerge(layers, envMap)

	cfg, err := FromMap(layers)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromMap decodes a merged settings map over the defaults. Keys absent
// from m keep their default values.
func FromMap(m map[string]any) (Config, error) {
	cfg := Default()
	if len(m) == 0 {
		return cfg, nil
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return Config{}, fmt.Errorf("encoding settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding settings: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Loader.MaxBufferSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBufferSize, c.Loader.MaxBufferSize)
	}
	if !levelNames[c.Log.Level] {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
	if c.Netlog.Enabled && c.Netlog.Path == "" {
		return ErrNetlogPath
	}
	return nil
}

// DispatcherConfig converts the loader section into dispatcher options.
func (c Config) DispatcherConfig() dispatch.Config {
	return dispatch.DefaultConfig().
		WithMaxBufferSize(c.Loader.MaxBufferSize).
		WithConsistentClock(c.Loader.ConsistentClock).
		WithMetrics(c.Loader.EnableMetrics)
}

// LogLevel returns the parsed log level.
func (c Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Log.Level)
}
