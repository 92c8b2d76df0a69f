package engine

import (
	"context"
	"fmt"
)

// RepairStats summarizes a consistency repair pass.
type RepairStats struct {
	FilesChecked   int `json:"files_checked"`
	FilesRepaired  int `json:"files_repaired"`
	OrphansRemoved int `json:"orphans_removed"`
}

// Repair reconciles checkpoints with vector-store reality. The ordering
// contract (vectors before checkpoint) keeps crashes recoverable, but it
// cannot prove the stores agree; this re-derives agreement explicitly.
//
// Two defects are handled:
//   - a checkpoint referencing chunk ids missing from the vector store:
//     its hash is cleared so the next sync re-parses and re-embeds the
//     file (the chunk-id list is kept for cleanup of whatever survived);
//   - chunks in the vector store that no checkpoint references: removed,
//     since the relational store is the source of truth.
func (e *Engine) Repair(ctx context.Context, ref RepoRef) (*RepairStats, error) {
	repo, err := e.resolveRepo(ref, false)
	if err != nil {
		return nil, err
	}

	checkpoints, err := e.store.Checkpoints(repo.ID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}
	liveByFile, err := e.vecs.IDsByFile(repo.ID)
	if err != nil {
		return nil, fmt.Errorf("scan vector store: %w", err)
	}

	stats := &RepairStats{}
	referenced := make(map[string]bool)

	for path, cp := range checkpoints {
		stats.FilesChecked++
		for _, id := range cp.ChunkIDs {
			referenced[id] = true
		}

		present, err := e.vecs.HasIDs(cp.ChunkIDs)
		if err != nil {
			return nil, fmt.Errorf("check chunks for %s: %w", path, err)
		}
		missing := false
		for _, ok := range present {
			if !ok {
				missing = true
				break
			}
		}
		if !missing {
			continue
		}

		// Clearing the hash makes the change detector treat the file as
		// modified on the next run, forcing a clean re-embed.
		repaired := cp
		repaired.Hash = ""
		if err := e.store.UpsertCheckpoint(repaired); err != nil {
			return nil, fmt.Errorf("repair checkpoint for %s: %w", path, err)
		}
		stats.FilesRepaired++
		e.logger.Warn("checkpoint references missing chunks, forcing re-embed",
			"repo", repo.Name, "path", path)
	}

	// Orphans: vectors nothing points at.
	var orphans []string
	for _, ids := range liveByFile {
		for _, id := range ids {
			if !referenced[id] {
				orphans = append(orphans, id)
			}
		}
	}
	if len(orphans) > 0 {
		if err := e.vecs.DeleteByIDs(orphans); err != nil {
			return nil, fmt.Errorf("remove orphaned chunks: %w", err)
		}
		stats.OrphansRemoved = len(orphans)
		e.logger.Info("removed orphaned chunks", "repo", repo.Name, "count", len(orphans))
	}

	return stats, nil
}
