package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/loadwire/internal/logging"
	dispatch "github.com/dshills/loadwire/internal/loader"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Loader.MaxBufferSize != dispatch.DefaultMaxBufferSize {
		t.Errorf("MaxBufferSize = %d", cfg.Loader.MaxBufferSize)
	}
	if cfg.DispatcherConfig() != dispatch.DefaultConfig() {
		t.Errorf("DispatcherConfig() = %+v, want defaults", cfg.DispatcherConfig())
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "loadwire.toml", `
[loader]
max_buffer_size = 1024
consistent_clock = true

[log]
level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Loader.MaxBufferSize != 1024 || !cfg.Loader.ConsistentClock {
		t.Errorf("Loader = %+v", cfg.Loader)
	}
	if !cfg.Loader.EnableMetrics {
		t.Error("EnableMetrics should keep its default")
	}
	if cfg.LogLevel() != logging.LevelDebug {
		t.Errorf("LogLevel() = %v", cfg.LogLevel())
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "loadwire.yaml", `
netlog:
  enabled: true
  path: requests.db
policy:
  script: policy.lua
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Netlog.Enabled || cfg.Netlog.Path != "requests.db" {
		t.Errorf("Netlog = %+v", cfg.Netlog)
	}
	if cfg.Policy.Script != "policy.lua" {
		t.Errorf("Policy = %+v", cfg.Policy)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "loadwire.toml", "[log]\nlevel = \"debug\"\n")
	t.Setenv("LOADWIRE_LOG_LEVEL", "error")
	t.Setenv("LOADWIRE_MAX_BUFFER_SIZE", "2048")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want error", cfg.Log.Level)
	}
	if cfg.Loader.MaxBufferSize != 2048 {
		t.Errorf("MaxBufferSize = %d, want 2048", cfg.Loader.MaxBufferSize)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    error
	}{
		{"bad buffer", "a.toml", "[loader]\nmax_buffer_size = 0\n", ErrInvalidBufferSize},
		{"bad level", "a.toml", "[log]\nlevel = \"loud\"\n", ErrInvalidLogLevel},
		{"netlog without path", "a.yaml", "netlog:\n  enabled: true\n", ErrNetlogPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			if !errors.Is(err, tt.want) {
				t.Errorf("Load() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Load("settings.ini"); err == nil {
		t.Error("Load(.ini) should fail")
	}
}

func TestFromMap_TypeMismatch(t *testing.T) {
	_, err := FromMap(map[string]any{"loader": map[string]any{"max_buffer_size": "lots"}})
	if err == nil {
		t.Error("FromMap() should reject a string buffer size")
	}
}
