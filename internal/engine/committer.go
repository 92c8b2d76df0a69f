package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"repograph/internal/chunker"
	"repograph/internal/embedder"
	"repograph/internal/metrics"
	"repograph/internal/store"
	"repograph/internal/vecstore"
)

// parsedFile is one changed file's parse output, waiting to be committed.
type parsedFile struct {
	Path    string
	Hash    string
	Chunks  []chunker.Chunk
	Outline *chunker.Outline
}

// committer turns parsed files into vectors and commits them with the
// ordering contract: no checkpoint update becomes visible until every chunk
// of that file's update is durable in the vector store. The vector store
// and the relational store share no transaction, so this ordering is the
// only safety net — a crash in between leaves vectors without a matching
// checkpoint, which the next run simply redoes.
type committer struct {
	store     store.Store
	vecs      *vecstore.VecStore
	embedder  embedder.Embedder
	batchSize int
	logger    *slog.Logger
}

// commit embeds and durably writes all changed files, then removes deleted
// files' checkpoints and chunks. onFile is called once per committed or
// deleted file for progress accounting.
func (c *committer) commit(
	ctx context.Context,
	repoID, commitSHA string,
	files []parsedFile,
	deleted []string,
	prior map[string]store.Checkpoint,
	onFile func(path string),
) error {
	// Flatten chunks for batching; remember which file each belongs to.
	var texts []string
	var owners []int // chunk index → files index
	for fi, f := range files {
		for _, ch := range f.Chunks {
			texts = append(texts, ch.Content)
			owners = append(owners, fi)
		}
	}

	vectors := make([][]float32, len(texts))
	if len(texts) > 0 {
		if err := c.embedAll(ctx, texts, vectors); err != nil {
			return fmt.Errorf("embedding stage: %w", err)
		}
	}

	// Every batch succeeded. Commit per file: vectors first, then the
	// checkpoint, with the prior chunk set removed in between so the
	// file's chunks are fully replaced, never merged.
	offset := 0
	for _, f := range files {
		n := len(f.Chunks)
		fileVectors := vectors[offset : offset+n]
		offset += n

		if err := c.vecs.Upsert(repoID, f.Chunks, fileVectors); err != nil {
			return fmt.Errorf("write vectors for %s: %w", f.Path, err)
		}
		if old, ok := prior[f.Path]; ok {
			if err := c.vecs.DeleteByIDs(old.ChunkIDs); err != nil {
				return fmt.Errorf("drop stale chunks for %s: %w", f.Path, err)
			}
		}

		ids := make([]string, n)
		for i, ch := range f.Chunks {
			ids[i] = ch.ID
		}
		if err := c.store.UpsertCheckpoint(store.Checkpoint{
			RepositoryID: repoID,
			Path:         f.Path,
			Hash:         f.Hash,
			CommitSHA:    commitSHA,
			ChunkIDs:     ids,
		}); err != nil {
			return fmt.Errorf("commit checkpoint for %s: %w", f.Path, err)
		}

		metrics.FilesIndexed.Inc()
		metrics.ChunksEmbedded.Add(float64(n))
		if onFile != nil {
			onFile(f.Path)
		}
	}

	return c.removeDeleted(repoID, deleted, prior, onFile)
}

// embedAll dispatches provider-size batches concurrently. Cancellation is
// observed between batches; an in-flight batch may run to completion, which
// is safe because nothing commits until all batches succeed.
func (c *committer) embedAll(ctx context.Context, texts []string, vectors [][]float32) error {
	g, gctx := errgroup.WithContext(ctx)

	for start := 0; start < len(texts); start += c.batchSize {
		if err := gctx.Err(); err != nil {
			break
		}
		start := start
		end := min(start+c.batchSize, len(texts))

		g.Go(func() error {
			began := time.Now()
			embs, err := c.embedder.Embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			metrics.EmbedBatches.Observe(time.Since(began).Seconds())
			copy(vectors[start:end], embs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// removeDeleted drops deleted files' checkpoints and every chunk id they
// reference, from both stores, as one logical step.
func (c *committer) removeDeleted(repoID string, deleted []string, prior map[string]store.Checkpoint, onFile func(path string)) error {
	if len(deleted) == 0 {
		return nil
	}
	sort.Strings(deleted)

	var staleIDs []string
	for _, path := range deleted {
		if cp, ok := prior[path]; ok {
			staleIDs = append(staleIDs, cp.ChunkIDs...)
		}
	}
	if err := c.vecs.DeleteByIDs(staleIDs); err != nil {
		return fmt.Errorf("drop chunks of deleted files: %w", err)
	}
	if err := c.store.DeleteCheckpoints(repoID, deleted); err != nil {
		return fmt.Errorf("drop checkpoints of deleted files: %w", err)
	}

	c.logger.Info("removed deleted files from index",
		"files", len(deleted), "chunks", len(staleIDs))
	for _, path := range deleted {
		if onFile != nil {
			onFile(path)
		}
	}
	return nil
}
