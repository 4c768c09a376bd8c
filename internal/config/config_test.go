package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config lookup at an empty temp dir and clears
// AMANFIND_* overrides.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	for _, k := range []string{
		"AMANFIND_INDEX_DIR", "AMANFIND_BACKEND", "AMANFIND_ROOTS",
		"AMANFIND_CRAWL_TIMEOUT", "AMANFIND_MAX_AGE", "AMANFIND_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
	return xdg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Empty(t, cfg.Paths.Roots)
	assert.Equal(t, BackendBleve, cfg.Index.Backend)
	assert.Equal(t, 1000, cfg.Index.BatchSize)
	assert.True(t, cfg.Index.EmitDirectories)
	assert.Equal(t, 0, cfg.Crawl.Workers)
	assert.Equal(t, time.Hour, cfg.Crawl.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.Rebuild.MaxAge)
	assert.Equal(t, 6*time.Hour, cfg.Rebuild.Interval)
	assert.Equal(t, 2*time.Second, cfg.Rebuild.CleanupRetryDelay)
	assert.Equal(t, 100, cfg.Search.MaxResults)
	assert.Equal(t, 256, cfg.Search.CacheSize)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.True(t, strings.HasSuffix(cfg.Index.Dir, filepath.Join(".amanfind", "index")))
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFiles_UsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Index.Backend, cfg.Index.Backend)
	assert.Equal(t, time.Hour, cfg.Crawl.Timeout)
}

func TestLoad_UserConfigThenExplicitFile(t *testing.T) {
	// Given: a user config and an explicit config that overrides part of it
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "amanfind", "config.yaml"), `
index:
  backend: sqlite
  batch_size: 50
crawl:
  timeout: 30m
`)
	explicit := filepath.Join(t.TempDir(), "override.yaml")
	writeFile(t, explicit, `
index:
  batch_size: 10
  emit_directories: false
paths:
  roots: ["/data", "/srv"]
`)

	// When: loading with the explicit file
	cfg, err := Load(explicit)
	require.NoError(t, err)

	// Then: later layers win key by key, untouched keys keep earlier values
	assert.Equal(t, BackendSQLite, cfg.Index.Backend)
	assert.Equal(t, 10, cfg.Index.BatchSize)
	assert.False(t, cfg.Index.EmitDirectories)
	assert.Equal(t, 30*time.Minute, cfg.Crawl.Timeout)
	assert.Equal(t, []string{"/data", "/srv"}, cfg.Paths.Roots)
	assert.Equal(t, 24*time.Hour, cfg.Rebuild.MaxAge)
}

func TestLoad_ExplicitFileMissing_ReturnsError(t *testing.T) {
	isolate(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML_ReturnsError(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "index: [unclosed")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "amanfind", "config.yaml"), "index:\n  backend: sqlite\n")
	indexDir := t.TempDir()

	t.Setenv("AMANFIND_BACKEND", "BLEVE")
	t.Setenv("AMANFIND_INDEX_DIR", indexDir)
	t.Setenv("AMANFIND_ROOTS", strings.Join([]string{"/a", " ", "/b"}, string(os.PathListSeparator)))
	t.Setenv("AMANFIND_CRAWL_TIMEOUT", "5m")
	t.Setenv("AMANFIND_MAX_AGE", "not-a-duration")
	t.Setenv("AMANFIND_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendBleve, cfg.Index.Backend)
	assert.Equal(t, indexDir, cfg.Index.Dir)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Paths.Roots)
	assert.Equal(t, 5*time.Minute, cfg.Crawl.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.Rebuild.MaxAge, "malformed env value is ignored")
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_InvalidValues_FailValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "index:\n  backend: lucene\n"},
		{"zero batch", "index:\n  batch_size: 0\n"},
		{"negative workers", "crawl:\n  workers: -1\n"},
		{"zero timeout", "crawl:\n  timeout: 0s\n"},
		{"negative max age", "rebuild:\n  max_age: -1h\n"},
		{"bad log level", "server:\n  log_level: loud\n"},
		{"zero max results", "search:\n  max_results: 0\n"},
		{"empty root", "paths:\n  roots: [\"\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			path := filepath.Join(t.TempDir(), "c.yaml")
			writeFile(t, path, tt.yaml)

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}

func TestWriteYAML_LoadsBack(t *testing.T) {
	isolate(t)
	cfg := NewConfig()
	cfg.Index.Backend = BackendSQLite
	cfg.Crawl.Timeout = 90 * time.Minute
	cfg.Paths.Restricted = []string{"node_modules"}
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	require.NoError(t, cfg.WriteYAML(path))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, loaded.Index.Backend)
	assert.Equal(t, 90*time.Minute, loaded.Crawl.Timeout)
	assert.Equal(t, []string{"node_modules"}, loaded.Paths.Restricted)
}

func TestGetUserConfigPath_HonorsXDG(t *testing.T) {
	xdg := isolate(t)

	assert.Equal(t, filepath.Join(xdg, "amanfind", "config.yaml"), GetUserConfigPath())
	assert.False(t, UserConfigExists())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "idx"), ExpandHome("~/idx"))
	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, "/abs/idx", ExpandHome("/abs/idx"))
	assert.Equal(t, "~user/idx", ExpandHome("~user/idx"))
}
