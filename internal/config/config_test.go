package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/studiowebux/asynchttp/internal/types"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvTimeout, "")
	t.Setenv(EnvUserAgent, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UserAgent != types.DefaultUserAgent {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.Timeout != 0 {
		t.Errorf("Timeout = %v, want disabled", cfg.Timeout)
	}
	if cfg.Output.Format != "" {
		t.Errorf("Output.Format = %q", cfg.Output.Format)
	}
}

func TestLoad_File(t *testing.T) {
	t.Setenv(EnvTimeout, "")
	t.Setenv(EnvUserAgent, "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `user_agent: custom/2.0
timeout: 1500ms
cache_resolved: true
resolver_cache_ttl: 30s
headers:
  - key: Accept
    value: application/json
variables:
  baseUrl: http://localhost:8080
history:
  enabled: false
  driver: postgres
  dsn: postgres://localhost/asynchttp
output:
  format: json
`
	if err := os.WriteFile(path, []byte(content), FilePermissions); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts := cfg.ClientOptions()
	if opts.UserAgent != "custom/2.0" || opts.Timeout != 1500*time.Millisecond {
		t.Errorf("options = %+v", opts)
	}
	if !opts.CacheResolved || opts.ResolverCacheTTL != 30*time.Second {
		t.Errorf("resolver options = %+v", opts)
	}
	if cfg.Headers.Get("accept") != "application/json" {
		t.Errorf("Headers = %v", cfg.Headers)
	}
	if cfg.Variables["baseUrl"] != "http://localhost:8080" {
		t.Errorf("Variables = %v", cfg.Variables)
	}
	if cfg.History.Enabled || cfg.History.Driver != "postgres" {
		t.Errorf("History = %+v", cfg.History)
	}
	if cfg.Output.Format != "json" || !cfg.Output.Highlight {
		t.Errorf("Output = %+v", cfg.Output)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvTimeout, "250")
	t.Setenv(EnvUserAgent, "env-agent")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timeout != 250*time.Millisecond {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
	if cfg.UserAgent != "env-agent" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}

	t.Setenv(EnvTimeout, "soon")
	if _, err := Load(""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, false},
		{"negative ttl", func(c *Config) { c.ResolverCacheTTL = -time.Second }, false},
		{"unknown driver", func(c *Config) { c.History.Driver = "mysql" }, false},
		{"unknown format", func(c *Config) { c.Output.Format = "xml" }, false},
		{"body format", func(c *Config) { c.Output.Format = "body" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestInitializeAt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".asynchttp")
	if err := InitializeAt(dir); err != nil {
		t.Fatalf("InitializeAt: %v", err)
	}
	for _, p := range []string{RequestsDir, ConfigFile} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s not created: %v", p, err)
		}
	}
	if DatabasePath != filepath.Join(dir, "history.db") {
		t.Errorf("DatabasePath = %q", DatabasePath)
	}
	t.Setenv(EnvTimeout, "")
	t.Setenv(EnvUserAgent, "")
	if _, err := Load(ConfigFile); err != nil {
		t.Errorf("generated config does not load: %v", err)
	}
}

func TestGetWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := InitializeAt(dir); err != nil {
		t.Fatal(err)
	}
	name := "stored-request-file.http"
	stored := filepath.Join(RequestsDir, name)
	if err := os.WriteFile(stored, []byte("GET http://x\n"), FilePermissions); err != nil {
		t.Fatal(err)
	}
	if got := GetWorkingDirectory(name); got != stored {
		t.Errorf("GetWorkingDirectory = %q, want %q", got, stored)
	}
	if got := GetWorkingDirectory("/abs/path.http"); got != "/abs/path.http" {
		t.Errorf("absolute path changed: %q", got)
	}
}
