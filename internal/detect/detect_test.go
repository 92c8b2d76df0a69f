package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repograph/internal/walker"
)

func writeFile(t *testing.T, dir, name, content string) walker.FileInfo {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return walker.FileInfo{Path: path, RelPath: name, Size: int64(len(content))}
}

func TestDetect_PartitionsFourSets(t *testing.T) {
	dir := t.TempDir()
	added := writeFile(t, dir, "new.py", "def new(): pass")
	modified := writeFile(t, dir, "changed.py", "def changed(): return 2")
	unchanged := writeFile(t, dir, "same.py", "def same(): pass")

	checkpoints := map[string]string{
		"changed.py": "stale-hash",
		"same.py":    HashBytes([]byte("def same(): pass")),
		"gone.py":    "whatever",
	}

	cs, err := New(nil).Detect([]walker.FileInfo{added, modified, unchanged}, checkpoints, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"new.py"}, cs.Added)
	assert.Equal(t, []string{"changed.py"}, cs.Modified)
	assert.Equal(t, []string{"same.py"}, cs.Unchanged)
	assert.Equal(t, []string{"gone.py"}, cs.Deleted)

	assert.Equal(t, []string{"changed.py", "new.py"}, cs.Changed())
	assert.True(t, cs.HasChanges())
	assert.Len(t, cs.Hashes, 3)
}

func TestDetect_ForceFullMarksEverythingModified(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.py", "def a(): pass")
	b := writeFile(t, dir, "b.py", "def b(): pass")

	// b's checkpoint hash matches its content; forceFull overrides that.
	checkpoints := map[string]string{
		"b.py":    HashBytes([]byte("def b(): pass")),
		"gone.py": "x",
	}

	cs, err := New(nil).Detect([]walker.FileInfo{a, b}, checkpoints, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py", "b.py"}, cs.Modified)
	assert.Empty(t, cs.Added)
	assert.Empty(t, cs.Unchanged)
	// Deletions are still detected so stale chunks get cleaned up.
	assert.Equal(t, []string{"gone.py"}, cs.Deleted)
}

func TestDetect_NoChangesIsEmptyChangeSet(t *testing.T) {
	dir := t.TempDir()
	content := "def stable(): pass"
	f := writeFile(t, dir, "stable.py", content)

	cs, err := New(nil).Detect(
		[]walker.FileInfo{f},
		map[string]string{"stable.py": HashBytes([]byte(content))},
		false)
	require.NoError(t, err)

	assert.False(t, cs.HasChanges())
	assert.Empty(t, cs.Changed())
	assert.Equal(t, []string{"stable.py"}, cs.Unchanged)
}

func TestDetect_EmptyRepositoryOnlyDeletes(t *testing.T) {
	cs, err := New(nil).Detect(nil, map[string]string{"old.py": "h"}, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"old.py"}, cs.Deleted)
	assert.True(t, cs.HasChanges())
	assert.Empty(t, cs.Changed())
}

func TestHashBytes_IsStableAndContentSensitive(t *testing.T) {
	assert.Equal(t, HashBytes([]byte("abc")), HashBytes([]byte("abc")))
	assert.NotEqual(t, HashBytes([]byte("abc")), HashBytes([]byte("abd")))
	assert.Len(t, HashBytes(nil), 64)
}
