// Package walker discovers the indexable source files of a repository
// snapshot: extension-filtered, ignore-aware, sorted by relative path.
package walker

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileInfo holds metadata about a discovered source file.
type FileInfo struct {
	Path    string // absolute path
	RelPath string // slash-separated path relative to the repository root
	Size    int64
}

// maxFileSize is the largest file worth indexing (1 MB).
const maxFileSize = 1 << 20

// defaultIgnores seed .repographignore when the repository has none.
var defaultIgnores = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	"vendor",
	"__pycache__",
	".idea",
	".vscode",
	".repograph",
	"dist",
	"build",
}

// List returns every indexable file under root whose extension is in
// allowedExts, sorted by relative path. Change detection compares complete
// snapshots, so the walk is synchronous and ordered. Symlinks, empty files,
// oversized files, and ignored directories are excluded; unreadable entries
// are skipped rather than failing the walk.
func List(root string, allowedExts map[string]bool) ([]FileInfo, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	ignores := loadIgnores(absRoot)

	var files []FileInfo
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			if ignores.skip(d.Name(), rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !allowedExts[strings.TrimPrefix(filepath.Ext(path), ".")] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() == 0 || info.Size() > maxFileSize {
			return nil
		}

		files = append(files, FileInfo{Path: path, RelPath: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// ignoreList is the set of directory patterns excluded from a walk.
type ignoreList struct {
	patterns []string
}

// skip reports whether a directory should be pruned: exact name match, path
// prefix match, or glob match against name or relative path.
func (l ignoreList) skip(name, rel string) bool {
	for _, p := range l.patterns {
		if name == p || strings.HasPrefix(rel, p) {
			return true
		}
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// loadIgnores reads .repographignore from the repository root. A missing
// file is written with the defaults so the user has something to edit.
func loadIgnores(root string) ignoreList {
	path := filepath.Join(root, ".repographignore")

	f, err := os.Open(path)
	if err != nil {
		writeDefaultIgnores(path)
		return ignoreList{patterns: defaultIgnores}
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if len(patterns) == 0 {
		return ignoreList{patterns: defaultIgnores}
	}
	return ignoreList{patterns: patterns}
}

func writeDefaultIgnores(path string) {
	var b strings.Builder
	b.WriteString("# Directories to exclude from indexing.\n")
	b.WriteString("# One pattern per line. Supports exact names and globs.\n\n")
	for _, p := range defaultIgnores {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	// Best effort; on failure the defaults still apply in memory.
	os.WriteFile(path, []byte(b.String()), 0o644)
}
