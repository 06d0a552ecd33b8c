package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/studiowebux/asynchttp/internal/types"
	"gopkg.in/yaml.v3"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755
)

// Environment variables that override the config file
const (
	EnvTimeout   = "ASYNCHTTP_TIMEOUT"
	EnvUserAgent = "ASYNCHTTP_USER_AGENT"
)

var (
	// ConfigDir is the global configuration directory (~/.asynchttp)
	ConfigDir string

	// RequestsDir is the default requests directory
	RequestsDir string

	// ConfigFile is the global YAML configuration file
	ConfigFile string

	// DatabasePath is the SQLite database file for history and stress runs
	DatabasePath string
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the contents of config.yaml
type Config struct {
	UserAgent        string            `yaml:"user_agent"`
	Timeout          time.Duration     `yaml:"timeout"`
	CacheResolved    bool              `yaml:"cache_resolved"`
	ResolverCacheTTL time.Duration     `yaml:"resolver_cache_ttl"`
	LogLevel         string            `yaml:"log_level"`
	Headers          types.Headers     `yaml:"headers,omitempty"`
	Variables        map[string]string `yaml:"variables,omitempty"`
	History          HistoryConfig     `yaml:"history"`
	Output           OutputConfig      `yaml:"output"`
}

// HistoryConfig selects where exchanges are journaled
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"` // sqlite3 or postgres
	DSN     string `yaml:"dsn"`
}

// OutputConfig sets the defaults for rendering responses
type OutputConfig struct {
	Format    string `yaml:"format"` // text, json, yaml or body; empty picks by terminal
	Highlight bool   `yaml:"highlight"`
	Style     string `yaml:"style"` // chroma style name
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		UserAgent:        types.DefaultUserAgent,
		ResolverCacheTTL: 5 * time.Minute,
		LogLevel:         "warn",
		Variables:        map[string]string{},
		History: HistoryConfig{
			Enabled: true,
			Driver:  "sqlite3",
			DSN:     DatabasePath,
		},
		Output: OutputConfig{
			Highlight: true,
			Style:     "monokai",
		},
	}
}

// Initialize sets up the configuration directories and files
// It creates ~/.asynchttp/ if it doesn't exist
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return InitializeAt(filepath.Join(homeDir, ".asynchttp"))
}

// InitializeAt is Initialize rooted at dir instead of the home directory
func InitializeAt(dir string) error {
	ConfigDir = dir
	RequestsDir = filepath.Join(ConfigDir, "requests")
	ConfigFile = filepath.Join(ConfigDir, "config.yaml")
	DatabasePath = filepath.Join(ConfigDir, "history.db")

	for _, d := range []string{ConfigDir, RequestsDir} {
		if err := os.MkdirAll(d, DirPermissions); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}

	// Create default config file if it doesn't exist
	if _, err := os.Stat(ConfigFile); os.IsNotExist(err) {
		data, err := yaml.Marshal(Default())
		if err != nil {
			return fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err := os.WriteFile(ConfigFile, data, FilePermissions); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
	}
	return nil
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if cfg.Variables == nil {
		cfg.Variables = map[string]string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvUserAgent); v != "" {
		c.UserAgent = v
	}
	if v := getenv(EnvTimeout); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvTimeout, v, err)
		}
		c.Timeout = d
	}
	return nil
}

// parseDuration accepts Go durations ("1.5s") and bare milliseconds ("1500")
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout %s", ErrInvalidConfig, c.Timeout)
	}
	if c.ResolverCacheTTL < 0 {
		return fmt.Errorf("%w: negative resolver_cache_ttl %s", ErrInvalidConfig, c.ResolverCacheTTL)
	}
	switch c.History.Driver {
	case "", "sqlite3", "postgres":
	default:
		return fmt.Errorf("%w: unknown history driver %q", ErrInvalidConfig, c.History.Driver)
	}
	switch c.Output.Format {
	case "", "text", "json", "yaml", "body":
	default:
		return fmt.Errorf("%w: unknown output format %q", ErrInvalidConfig, c.Output.Format)
	}
	return nil
}

// ClientOptions returns the client settings carried by c
func (c *Config) ClientOptions() types.ClientOptions {
	opts := types.DefaultClientOptions()
	if c.UserAgent != "" {
		opts.UserAgent = c.UserAgent
	}
	opts.Timeout = c.Timeout
	opts.CacheResolved = c.CacheResolved
	if c.ResolverCacheTTL > 0 {
		opts.ResolverCacheTTL = c.ResolverCacheTTL
	}
	return opts
}

// GetWorkingDirectory resolves a request file path. Relative paths that do
// not exist in the current directory are looked up in RequestsDir.
func GetWorkingDirectory(path string) string {
	if strings.HasPrefix(path, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	if filepath.IsAbs(path) || RequestsDir == "" {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	candidate := filepath.Join(RequestsDir, path)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}
