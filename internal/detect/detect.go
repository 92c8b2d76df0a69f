// Package detect decides which files of a repository snapshot need
// re-indexing by comparing current content hashes against the per-file
// checkpoints of the previous run. The hash comparison is the canonical
// source of truth; version-control revisions are stored for audit only.
package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"repograph/internal/walker"
)

// ChangeSet partitions the repository's files into four disjoint sets.
// Paths are slash-separated and relative to the repository root.
type ChangeSet struct {
	Added     []string
	Modified  []string
	Unchanged []string
	Deleted   []string

	// Hashes holds the freshly computed content hash of every file
	// currently on disk, keyed by relative path.
	Hashes map[string]string
}

// Changed returns the files that must be re-parsed and re-embedded.
func (c *ChangeSet) Changed() []string {
	out := make([]string, 0, len(c.Added)+len(c.Modified))
	out = append(out, c.Added...)
	out = append(out, c.Modified...)
	sort.Strings(out)
	return out
}

// HasChanges reports whether anything needs doing.
func (c *ChangeSet) HasChanges() bool {
	return len(c.Added)+len(c.Modified)+len(c.Deleted) > 0
}

// Detector compares on-disk state against stored checkpoints.
type Detector struct {
	logger *slog.Logger
}

// New creates a detector.
func New(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger.With("component", "detect")}
}

// HashBytes returns the hex sha256 of content, the hash stored in
// checkpoints.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Detect computes the change set for the given files against the stored
// checkpoint hashes (path → hash). When forceFull is set, every file on
// disk lands in Modified regardless of its hash; deletions are still
// detected so stale chunks get cleaned up.
func (d *Detector) Detect(files []walker.FileInfo, checkpoints map[string]string, forceFull bool) (*ChangeSet, error) {
	cs := &ChangeSet{Hashes: make(map[string]string, len(files))}
	present := make(map[string]bool, len(files))

	for _, fi := range files {
		content, err := os.ReadFile(fi.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fi.RelPath, err)
		}
		hash := HashBytes(content)
		cs.Hashes[fi.RelPath] = hash
		present[fi.RelPath] = true

		stored, exists := checkpoints[fi.RelPath]
		switch {
		case forceFull:
			cs.Modified = append(cs.Modified, fi.RelPath)
		case !exists:
			cs.Added = append(cs.Added, fi.RelPath)
		case stored != hash:
			cs.Modified = append(cs.Modified, fi.RelPath)
		default:
			cs.Unchanged = append(cs.Unchanged, fi.RelPath)
		}
	}

	// Checkpoints with no file on disk drive deletion of their chunks.
	for path := range checkpoints {
		if !present[path] {
			cs.Deleted = append(cs.Deleted, path)
		}
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Unchanged)
	sort.Strings(cs.Deleted)

	d.logger.Info("change detection complete",
		"added", len(cs.Added),
		"modified", len(cs.Modified),
		"unchanged", len(cs.Unchanged),
		"deleted", len(cs.Deleted),
		"force_full", forceFull,
	)
	return cs, nil
}
