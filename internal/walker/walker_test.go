package walker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pyOnly = map[string]bool{"py": true}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func relPaths(files []FileInfo) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.RelPath)
	}
	return out
}

func TestList_FiltersByExtensionAndSorts(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"b.py":        "def b(): pass",
		"a.py":        "def a(): pass",
		"README.md":   "# readme",
		"sub/deep.py": "def d(): pass",
	})

	files, err := List(root, pyOnly)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py", "b.py", "sub/deep.py"}, relPaths(files))
}

func TestList_SkipsDefaultIgnoredDirs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep.py":                 "def k(): pass",
		"node_modules/dep.py":     "def n(): pass",
		"__pycache__/cached.py":   "def c(): pass",
		".repograph/generated.py": "def g(): pass",
	})

	files, err := List(root, pyOnly)
	require.NoError(t, err)

	assert.Equal(t, []string{"keep.py"}, relPaths(files))
}

func TestList_HonorsIgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".repographignore": "# comment\ngenerated\n",
		"keep.py":          "def k(): pass",
		"generated/gen.py": "def g(): pass",
	})

	files, err := List(root, pyOnly)
	require.NoError(t, err)

	assert.Equal(t, []string{"keep.py"}, relPaths(files))
}

func TestList_SkipsEmptyFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"full.py":  "def f(): pass",
		"empty.py": "",
	})

	files, err := List(root, pyOnly)
	require.NoError(t, err)

	assert.Equal(t, []string{"full.py"}, relPaths(files))
}

func TestList_CreatesDefaultIgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.py": "def a(): pass"})

	_, err := List(root, pyOnly)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, ".repographignore"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "node_modules")
}
