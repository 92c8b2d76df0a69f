package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"repograph/internal/embedder"
	"repograph/internal/metrics"
	"repograph/internal/store"
	"repograph/internal/walker"
)

// runTask drives one task to a terminal status, retrying transient stage
// failures with backoff. Each retry resets the task to pending so observers
// see it as a fresh attempt.
func (e *Engine) runTask(ctx context.Context, repo *store.Repository, task *store.Task) {
	logger := e.logger.With("task", task.ID, "repo", repo.Name, "type", task.Type)

	var err error
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		err = e.runPipeline(ctx, repo, task)
		if err == nil {
			metrics.TasksFinished.WithLabelValues(string(store.StatusCompleted)).Inc()
			return
		}
		if ctx.Err() != nil {
			e.finishTask(task, store.StatusCancelled, "", "task cancelled")
			metrics.TasksFinished.WithLabelValues(string(store.StatusCancelled)).Inc()
			logger.Info("task cancelled")
			return
		}
		if !isTransient(err) || attempt >= e.cfg.Pipeline.StageRetries {
			break
		}

		metrics.StageRetries.WithLabelValues(string(task.Status)).Inc()
		logger.Warn("transient stage failure, retrying",
			"attempt", attempt+1, "err", err)
		e.transition(task, store.StatusPending, "Retrying after transient failure", 0)

		select {
		case <-ctx.Done():
			e.finishTask(task, store.StatusCancelled, "", "task cancelled")
			metrics.TasksFinished.WithLabelValues(string(store.StatusCancelled)).Inc()
			return
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	failedStage := string(task.Status)
	e.finishTask(task, store.StatusFailed, failedStage, err.Error())
	metrics.TasksFinished.WithLabelValues(string(store.StatusFailed)).Inc()
	logger.Error("task failed", "stage", failedStage, "err", err)
}

// isTransient reports whether a stage failure is worth retrying: provider
// and network trouble is, bad input is not.
func isTransient(err error) bool {
	if errors.Is(err, ErrNoChunks) {
		return false
	}
	return errors.Is(err, embedder.ErrProviderFailed)
}

// runPipeline executes the ordered stages for one attempt.
func (e *Engine) runPipeline(ctx context.Context, repo *store.Repository, task *store.Task) error {
	// --- acquire ---
	e.transition(task, store.StatusAcquiring, "Scanning repository", 5)

	files, err := walker.List(repo.RootPath, e.registry.Extensions())
	if err != nil {
		return fmt.Errorf("acquire stage: %w", err)
	}

	hashes, err := e.store.CheckpointHashes(repo.ID)
	if err != nil {
		return fmt.Errorf("acquire stage: %w", err)
	}

	forceFull := task.Type == store.TaskFull
	modelKey := "embedding_model:" + repo.ID
	if last, err := e.store.GetMeta(modelKey); err == nil && last != "" && last != e.embedder.Model() {
		e.logger.Info("embedding model changed, forcing full reindex",
			"repo", repo.Name, "from", last, "to", e.embedder.Model())
		forceFull = true
	}

	cs, err := e.detector.Detect(files, hashes, forceFull)
	if err != nil {
		return fmt.Errorf("acquire stage: %w", err)
	}

	commitSHA := headCommit(repo.RootPath) // audit only
	changed := cs.Changed()
	task.FilesTotal = len(changed) + len(cs.Deleted)
	task.FilesProcessed = 0

	if task.Type == store.TaskArtifacts {
		return e.generateArtifacts(task, repo, nil, nil, true, modelKey)
	}

	// Incremental sync with nothing to do is a success: fast-forward past
	// parsing and embedding. Nothing was embedded, so the recorded model is
	// left alone; overwriting it here would mask a model switch that the
	// acquire check above is supposed to turn into a full reindex.
	if task.Type == store.TaskIncremental && !cs.HasChanges() {
		e.transition(task, store.StatusArtifacts, "No changes detected", 95)
		return e.completeTask(task, repo, modelKey, false)
	}

	// --- parse ---
	e.transition(task, store.StatusParsing, "Parsing changed files", 10)

	var parsed []parsedFile
	chunkTotal := 0
	for _, rel := range changed {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := os.ReadFile(filepath.Join(repo.RootPath, filepath.FromSlash(rel)))
		if err != nil {
			e.logger.Warn("skipping unreadable file", "path", rel, "err", err)
			continue
		}
		chunks, outline, err := e.extractor.Extract(rel, src)
		if err != nil {
			// Permanently bad input degrades to a skip, not a task abort.
			e.logger.Warn("skipping unparseable file", "path", rel, "err", err)
			continue
		}
		parsed = append(parsed, parsedFile{
			Path:    rel,
			Hash:    cs.Hashes[rel],
			Chunks:  chunks,
			Outline: outline,
		})
		chunkTotal += len(chunks)
	}

	if task.Type == store.TaskFull && chunkTotal == 0 {
		return fmt.Errorf("parsing stage: %w", ErrNoChunks)
	}

	// --- embed + commit ---
	e.transition(task, store.StatusEmbedding, "Embedding chunks", 40)

	prior, err := e.store.Checkpoints(repo.ID)
	if err != nil {
		return fmt.Errorf("embedding stage: %w", err)
	}

	cm := &committer{
		store:     e.store,
		vecs:      e.vecs,
		embedder:  e.embedder,
		batchSize: e.cfg.Embedding.BatchSize,
		logger:    e.logger,
	}
	err = cm.commit(ctx, repo.ID, commitSHA, parsed, cs.Deleted, prior, func(string) {
		task.FilesProcessed++
		progress := 40
		if task.FilesTotal > 0 {
			progress += 50 * task.FilesProcessed / task.FilesTotal
		}
		e.transition(task, store.StatusEmbedding, "Embedding chunks", progress)
	})
	if err != nil {
		return err
	}

	// --- derived artifacts ---
	return e.generateArtifacts(task, repo, parsed, cs.Deleted, task.Type == store.TaskFull, modelKey)
}

// generateArtifacts maintains the structural index and finishes the task.
// A full reindex rebuilds the index wholesale; an incremental sync patches
// it file by file. An artifacts-only task re-derives outlines for every
// file on disk without touching embeddings.
func (e *Engine) generateArtifacts(task *store.Task, repo *store.Repository, parsed []parsedFile, deleted []string, rebuild bool, modelKey string) error {
	e.transition(task, store.StatusArtifacts, "Updating structural index", 92)

	if task.Type == store.TaskArtifacts {
		files, err := walker.List(repo.RootPath, e.registry.Extensions())
		if err != nil {
			return fmt.Errorf("artifacts stage: %w", err)
		}
		for _, fi := range files {
			src, err := os.ReadFile(fi.Path)
			if err != nil {
				continue
			}
			_, outline, err := e.extractor.Extract(fi.RelPath, src)
			if err != nil || outline == nil {
				continue
			}
			parsed = append(parsed, parsedFile{Path: fi.RelPath, Outline: outline})
		}
	}

	if rebuild {
		if err := e.store.DeleteAllFileStructures(repo.ID); err != nil {
			return fmt.Errorf("artifacts stage: %w", err)
		}
	}
	for _, f := range parsed {
		if f.Outline == nil {
			continue
		}
		outline, err := json.Marshal(f.Outline)
		if err != nil {
			return fmt.Errorf("artifacts stage: %w", err)
		}
		if err := e.store.UpsertFileStructure(store.FileStructure{
			RepositoryID: repo.ID,
			Path:         f.Path,
			Outline:      string(outline),
		}); err != nil {
			return fmt.Errorf("artifacts stage: %w", err)
		}
	}
	if err := e.store.DeleteFileStructures(repo.ID, deleted); err != nil {
		return fmt.Errorf("artifacts stage: %w", err)
	}

	// Artifacts-only tasks embed nothing; only runs that actually wrote
	// vectors may claim the current model for the index.
	return e.completeTask(task, repo, modelKey, task.Type != store.TaskArtifacts)
}

// completeTask records the terminal success state. recordModel is set only
// when this run embedded with the current model.
func (e *Engine) completeTask(task *store.Task, repo *store.Repository, modelKey string, recordModel bool) error {
	if recordModel {
		if err := e.store.SetMeta(modelKey, e.embedder.Model()); err != nil {
			return fmt.Errorf("record embedding model: %w", err)
		}
	}
	now := time.Now().UTC()
	if err := e.store.UpdateRepositoryStatus(repo.ID, "ready", &now); err != nil {
		return fmt.Errorf("update repository: %w", err)
	}
	task.StageLabel = "Completed"
	e.transition(task, store.StatusCompleted, "Completed", 100)
	return nil
}

// transition persists a status change and then publishes it. Persist-first
// means an observer can always reconcile against the task record.
func (e *Engine) transition(task *store.Task, status store.TaskStatus, label string, progress int) {
	task.Status = status
	task.StageLabel = label
	task.Progress = progress
	if err := e.store.UpdateTask(*task); err != nil {
		e.logger.Error("persist task transition", "task", task.ID, "err", err)
	}
	e.events.publish(eventFromTask(task))
}

// finishTask records a terminal failure or cancellation with a scrubbed
// error message.
func (e *Engine) finishTask(task *store.Task, status store.TaskStatus, failedStage, msg string) {
	task.FailedStage = failedStage
	task.Error = scrubError(msg)
	e.transition(task, status, task.StageLabel, task.Progress)
}

// headCommit returns the repository's HEAD commit for audit trails, or ""
// outside a git checkout. Never load-bearing.
func headCommit(root string) string {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
