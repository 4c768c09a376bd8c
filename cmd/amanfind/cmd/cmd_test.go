package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amanfind/internal/errors"
)

// isolate points every user-level path at temp directories.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	for _, k := range []string{"AMANFIND_INDEX_DIR", "AMANFIND_BACKEND", "AMANFIND_ROOTS",
		"AMANFIND_CRAWL_TIMEOUT", "AMANFIND_MAX_AGE", "AMANFIND_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	return home
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func makeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "projects", "alpha"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "projects", "alpha", "Quarterly-Report.pdf"), make([]byte, 64), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "projects", "notes.txt"), []byte("hi"), 0o644))
	return root
}

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)

	out, _, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "dev", info["version"])
}

func TestConfigCmd_InitShowPath(t *testing.T) {
	// Given: an isolated home
	home := isolate(t)
	want := filepath.Join(home, ".config", "amanfind", "config.yaml")

	// When: asking for the path
	out, _, err := execute(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, want+"\n", out)

	// When: initializing
	out, _, err = execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created")
	assert.FileExists(t, want)

	// Then: a second init refuses without --force
	out, _, err = execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	// And: show reflects flag overrides
	out, _, err = execute(t, "config", "show", "--backend", "sqlite")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: sqlite")
}

func TestConfigCmd_InvalidBackend(t *testing.T) {
	isolate(t)
	_, stderr, err := execute(t, "config", "show", "--backend", "mystery")
	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeConfigInvalid))
	assert.Equal(t, "", stderr)
}

func TestSearchCmd_BeforeFirstBuild(t *testing.T) {
	// Given: an empty index directory
	home := isolate(t)
	idx := filepath.Join(home, "idx")

	// When: searching
	_, _, err := execute(t, "search", "report", "--index-dir", idx)

	// Then: the query is refused until a first build exists
	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeStillIndexing))
}

func TestIndexSearchStatus_EndToEnd(t *testing.T) {
	// Given: a tree to index
	home := isolate(t)
	idx := filepath.Join(home, "idx")
	root := makeTree(t)
	common := []string{"--index-dir", idx, "--backend", "sqlite"}

	// When: indexing it
	out, _, err := execute(t, append([]string{"index", "--root", root, "--no-tui"}, common...)...)

	// Then: the plain renderer reports completion
	require.NoError(t, err)
	assert.Contains(t, out, "Complete:")
	assert.Contains(t, out, "Generation: ")

	// When: searching for a partial, differently cased name
	out, _, err = execute(t, append([]string{"search", "report", "--json"}, common...)...)
	require.NoError(t, err)
	var matches []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "Quarterly-Report.pdf", matches[0]["name"])

	// And: status reports the adopted generation and its history
	out, _, err = execute(t, append([]string{"status", "--json"}, common...)...)
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, true, status["first_build_complete"])
	assert.Equal(t, "idle", status["state"])
	builds, ok := status["builds"].([]any)
	require.True(t, ok)
	assert.Len(t, builds, 1)

	// When: indexing again without --force
	out, _, err = execute(t, append([]string{"index", "--root", root, "--no-tui"}, common...)...)

	// Then: the fresh generation is kept
	require.NoError(t, err)
	assert.Contains(t, out, "Index is fresh")
}

func TestIndexCmd_MissingRoot(t *testing.T) {
	home := isolate(t)
	_, _, err := execute(t, "index", "--root", filepath.Join(home, "nope"), "--index-dir", filepath.Join(home, "idx"), "--no-tui")
	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeInvalidPath))
}

func TestDoctorCmd(t *testing.T) {
	// Given: configured roots that exist
	home := isolate(t)
	root := makeTree(t)
	t.Setenv("AMANFIND_ROOTS", root)

	// When: running the checks
	out, _, err := execute(t, "doctor", "--index-dir", filepath.Join(home, "idx"))

	// Then: the index dir and root are reported; only a full disk fails
	if err != nil {
		assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeInvalidInput))
		assert.Contains(t, out, "[FAIL] disk_space")
	}
	assert.Contains(t, out, "[PASS] index_dir")
	assert.Contains(t, out, "[PASS] root "+root)
}
