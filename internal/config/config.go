// Package config loads amanfind configuration from YAML files and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by index.backend.
const (
	BackendBleve  = "bleve"
	BackendSQLite = "sqlite"
)

// Config is the complete amanfind configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Paths   PathsConfig   `yaml:"paths" json:"paths"`
	Index   IndexConfig   `yaml:"index" json:"index"`
	Crawl   CrawlConfig   `yaml:"crawl" json:"crawl"`
	Rebuild RebuildConfig `yaml:"rebuild" json:"rebuild"`
	Search  SearchConfig  `yaml:"search" json:"search"`
	Server  ServerConfig  `yaml:"server" json:"server"`
}

// PathsConfig selects what gets crawled.
type PathsConfig struct {
	// Roots to crawl. Empty means the platform default roots.
	Roots []string `yaml:"roots" json:"roots"`
	// Restricted adds deny fragments on top of the built-in list.
	Restricted []string `yaml:"restricted" json:"restricted"`
}

// IndexConfig configures index storage.
type IndexConfig struct {
	Dir             string `yaml:"dir" json:"dir"`
	Backend         string `yaml:"backend" json:"backend"`
	BatchSize       int    `yaml:"batch_size" json:"batch_size"`
	EmitDirectories bool   `yaml:"emit_directories" json:"emit_directories"`
}

// CrawlConfig tunes the crawler.
type CrawlConfig struct {
	// Workers bounds concurrent root walkers. 0 means runtime.NumCPU().
	Workers int           `yaml:"workers" json:"workers"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// RebuildConfig controls when rebuilds happen.
type RebuildConfig struct {
	// MaxAge is how old the active generation may get before a non-forced
	// request rebuilds it. 0 rebuilds on every request.
	MaxAge time.Duration `yaml:"max_age" json:"max_age"`
	// Interval is the serve-mode scheduler period. 0 disables it.
	Interval          time.Duration `yaml:"interval" json:"interval"`
	CleanupRetryDelay time.Duration `yaml:"cleanup_retry_delay" json:"cleanup_retry_delay"`
}

// SearchConfig configures the query service.
type SearchConfig struct {
	MaxResults int `yaml:"max_results" json:"max_results"`
	CacheSize  int `yaml:"cache_size" json:"cache_size"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Roots:      []string{},
			Restricted: []string{},
		},
		Index: IndexConfig{
			Dir:             DefaultIndexDir(),
			Backend:         BackendBleve,
			BatchSize:       1000,
			EmitDirectories: true,
		},
		Crawl: CrawlConfig{
			Workers: 0,
			Timeout: time.Hour,
		},
		Rebuild: RebuildConfig{
			MaxAge:            24 * time.Hour,
			Interval:          6 * time.Hour,
			CleanupRetryDelay: 2 * time.Second,
		},
		Search: SearchConfig{
			MaxResults: 100,
			CacheSize:  256,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// DefaultIndexDir returns ~/.amanfind/index.
func DefaultIndexDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanfind", "index")
	}
	return filepath.Join(home, ".amanfind", "index")
}

// GetUserConfigPath returns the user configuration file path:
//   - $XDG_CONFIG_HOME/amanfind/config.yaml when XDG_CONFIG_HOME is set
//   - ~/.config/amanfind/config.yaml otherwise
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanfind", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanfind", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanfind", "config.yaml")
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	_, err := os.Stat(GetUserConfigPath())
	return err == nil
}

// Load builds the effective configuration. Sources, lowest precedence first:
//  1. Defaults
//  2. User config (GetUserConfigPath), if present
//  3. explicitPath, if non-empty (must exist)
//  4. AMANFIND_* environment variables
func Load(explicitPath string) (*Config, error) {
	cfg := NewConfig()

	userPath := GetUserConfigPath()
	if _, err := os.Stat(userPath); err == nil {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return nil, fmt.Errorf("config file not found: %s: %w", explicitPath, err)
		}
		if err := cfg.loadYAML(explicitPath); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.Index.Dir = ExpandHome(cfg.Index.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML decodes path on top of the current values, so keys absent from
// the file keep what earlier layers set.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies AMANFIND_* environment variables. Malformed
// values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANFIND_INDEX_DIR"); v != "" {
		c.Index.Dir = v
	}
	if v := os.Getenv("AMANFIND_BACKEND"); v != "" {
		c.Index.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("AMANFIND_ROOTS"); v != "" {
		var roots []string
		for _, r := range filepath.SplitList(v) {
			if r = strings.TrimSpace(r); r != "" {
				roots = append(roots, r)
			}
		}
		c.Paths.Roots = roots
	}
	if v := os.Getenv("AMANFIND_CRAWL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Crawl.Timeout = d
		}
	}
	if v := os.Getenv("AMANFIND_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Rebuild.MaxAge = d
		}
	}
	if v := os.Getenv("AMANFIND_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Index.Dir) == "" {
		return fmt.Errorf("index.dir must not be empty")
	}
	switch strings.ToLower(c.Index.Backend) {
	case BackendBleve, BackendSQLite:
	default:
		return fmt.Errorf("index.backend must be 'bleve' or 'sqlite', got %s", c.Index.Backend)
	}
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("index.batch_size must be positive, got %d", c.Index.BatchSize)
	}
	if c.Crawl.Workers < 0 {
		return fmt.Errorf("crawl.workers must be non-negative, got %d", c.Crawl.Workers)
	}
	if c.Crawl.Timeout <= 0 {
		return fmt.Errorf("crawl.timeout must be positive, got %s", c.Crawl.Timeout)
	}
	if c.Rebuild.MaxAge < 0 {
		return fmt.Errorf("rebuild.max_age must be non-negative, got %s", c.Rebuild.MaxAge)
	}
	if c.Rebuild.Interval < 0 {
		return fmt.Errorf("rebuild.interval must be non-negative, got %s", c.Rebuild.Interval)
	}
	if c.Rebuild.CleanupRetryDelay < 0 {
		return fmt.Errorf("rebuild.cleanup_retry_delay must be non-negative, got %s", c.Rebuild.CleanupRetryDelay)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	if c.Search.CacheSize < 0 {
		return fmt.Errorf("search.cache_size must be non-negative, got %d", c.Search.CacheSize)
	}
	for _, r := range c.Paths.Roots {
		if strings.TrimSpace(r) == "" {
			return fmt.Errorf("paths.roots must not contain empty entries")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	return nil
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
