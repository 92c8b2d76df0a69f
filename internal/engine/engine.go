// Package engine is the repository indexing engine: it drives tasks
// through acquire → parse → embed → derived-artifacts, persists stage
// transitions, and exposes the search/graph/chunk surface its consumers
// build on.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"repograph/internal/chunker"
	"repograph/internal/chunker/languages"
	"repograph/internal/config"
	"repograph/internal/detect"
	"repograph/internal/embedder"
	"repograph/internal/graph"
	"repograph/internal/metrics"
	"repograph/internal/store"
	"repograph/internal/vecstore"
)

// RepoRef identifies a repository to the engine. Name is the stable handle;
// RootPath is where the snapshot lives on disk.
type RepoRef struct {
	Name          string
	URL           string
	DefaultBranch string
	RootPath      string
}

// SubmitOptions selects what a submitted task does.
type SubmitOptions struct {
	// ForceFull reprocesses every file regardless of checkpoints.
	ForceFull bool
	// ArtifactsOnly rebuilds derived artifacts without re-embedding.
	ArtifactsOnly bool
}

// Engine owns the pipeline and both stores.
type Engine struct {
	store     store.Store
	vecs      *vecstore.VecStore
	registry  *chunker.Registry
	extractor *chunker.Extractor
	detector  *detect.Detector
	embedder  embedder.Embedder
	cfg       config.Config
	logger    *slog.Logger
	events    *eventBus

	mu      sync.Mutex
	running map[string]context.CancelFunc // task id → cancel
	wg      sync.WaitGroup
}

// New wires an engine from its parts. The caller owns store and vecs
// lifetimes; Close releases them.
func New(st store.Store, vecs *vecstore.VecStore, emb embedder.Embedder, cfg config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine")

	reg := chunker.NewRegistry()
	languages.RegisterGo(reg)
	languages.RegisterPython(reg)
	languages.RegisterJavaScript(reg)
	languages.RegisterTypeScript(reg)

	splitter := chunker.NewSplitter(cfg.Chunking.MaxTokens, cfg.Chunking.OverlapLines)

	return &Engine{
		store:     st,
		vecs:      vecs,
		registry:  reg,
		extractor: chunker.NewExtractor(reg, splitter, cfg.Chunking.ModelBaseClasses),
		detector:  detect.New(logger),
		embedder:  emb,
		cfg:       cfg,
		logger:    logger,
		events:    newEventBus(),
		running:   make(map[string]context.CancelFunc),
	}
}

// Submit enqueues a pipeline run for the repository. It rejects with a
// *TaskActiveError while another task is non-terminal — check-then-create,
// a soft guard: two near-simultaneous submissions can race past it, an
// accepted gap.
func (e *Engine) Submit(ctx context.Context, ref RepoRef, opts SubmitOptions) (string, error) {
	repo, err := e.resolveRepo(ref, true)
	if err != nil {
		return "", err
	}

	if active, err := e.store.ActiveTask(repo.ID); err != nil {
		return "", fmt.Errorf("check active task: %w", err)
	} else if active != nil {
		return "", &TaskActiveError{ExistingTaskID: active.ID}
	}

	taskType := store.TaskIncremental
	switch {
	case opts.ArtifactsOnly:
		taskType = store.TaskArtifacts
	case opts.ForceFull:
		taskType = store.TaskFull
	}

	// First run of a repository is always a full reindex.
	if taskType == store.TaskIncremental {
		if hashes, err := e.store.CheckpointHashes(repo.ID); err == nil && len(hashes) == 0 {
			taskType = store.TaskFull
		}
	}

	task := store.Task{
		ID:           uuid.NewString(),
		RepositoryID: repo.ID,
		Type:         taskType,
		Status:       store.StatusPending,
		StageLabel:   "Queued",
	}
	if err := e.store.CreateTask(task); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	metrics.TasksStarted.WithLabelValues(string(taskType)).Inc()
	e.events.publish(eventFromTask(&task))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.running[task.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.running, task.ID)
			e.mu.Unlock()
			cancel()
		}()
		e.runTask(runCtx, repo, &task)
	}()

	return task.ID, nil
}

// Status returns the current task record.
func (e *Engine) Status(ctx context.Context, taskID string) (*store.Task, error) {
	return e.store.GetTask(taskID)
}

// Cancel requests cooperative cancellation of a running task. The in-flight
// embedding batch is allowed to finish; partial vector writes without a
// checkpoint commit are safe.
func (e *Engine) Cancel(taskID string) error {
	e.mu.Lock()
	cancel, ok := e.running[taskID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, store.ErrTaskNotFound)
	}
	cancel()
	return nil
}

// keepAliveInterval is how often an idle progress stream re-reads the task
// record and emits a keep-alive.
var keepAliveInterval = 15 * time.Second

// StreamProgress returns the task's event stream: a snapshot first, then
// one event per stage transition plus periodic keep-alives. The channel
// closes once a terminal status has been delivered. Bus events can be
// dropped under backpressure, so the terminal status is also detected from
// the keep-alive re-read; the store record, not the bus, decides when the
// stream ends.
func (e *Engine) StreamProgress(ctx context.Context, taskID string) (<-chan Event, error) {
	// Subscribe before the snapshot so a transition between the two is
	// seen on the bus rather than lost.
	sub, unsubscribe := e.events.subscribe(taskID)
	task, err := e.store.GetTask(taskID)
	if err != nil {
		unsubscribe()
		return nil, err
	}

	out := make(chan Event, 64)

	go func() {
		defer close(out)
		defer unsubscribe()

		snapshot := eventFromTask(task)
		out <- snapshot
		if snapshot.Terminal() {
			return
		}

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				out <- ev
				if ev.Terminal() {
					return
				}
			case <-keepAlive.C:
				t, err := e.store.GetTask(taskID)
				if err != nil {
					continue
				}
				ev := eventFromTask(t)
				if ev.Terminal() {
					// The bus event for this transition was missed;
					// deliver the terminal state and end the stream.
					out <- ev
					return
				}
				ev.KeepAlive = true
				out <- ev
			}
		}
	}()
	return out, nil
}

// Search is a thin pass-through to the vector store.
func (e *Engine) Search(ctx context.Context, ref RepoRef, queryVector []float32, topK int) ([]vecstore.Summary, error) {
	repo, err := e.resolveRepo(ref, false)
	if err != nil {
		return nil, err
	}
	return e.vecs.Search(repo.ID, queryVector, topK)
}

// SearchText embeds the query text and searches.
func (e *Engine) SearchText(ctx context.Context, ref RepoRef, query string, topK int) ([]vecstore.Summary, error) {
	vec, err := e.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.Search(ctx, ref, vec, topK)
}

// Chunks returns full chunk content for summary-first retrieval.
func (e *Engine) Chunks(ctx context.Context, ref RepoRef, chunkIDs []string) ([]chunker.Chunk, error) {
	repo, err := e.resolveRepo(ref, false)
	if err != nil {
		return nil, err
	}
	return e.vecs.Chunks(repo.ID, chunkIDs)
}

// DependencyGraph rebuilds the call graph from the live chunk set,
// optionally restricted to the given files.
func (e *Engine) DependencyGraph(ctx context.Context, ref RepoRef, fileFilter []string) (*graph.Graph, error) {
	repo, err := e.resolveRepo(ref, false)
	if err != nil {
		return nil, err
	}
	chunks, err := e.vecs.ChunksByRepo(repo.ID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	return graph.Build(chunks).FilterFiles(fileFilter), nil
}

// FileStructures returns the structural index rows for a repository.
func (e *Engine) FileStructures(ctx context.Context, ref RepoRef) ([]store.FileStructure, error) {
	repo, err := e.resolveRepo(ref, false)
	if err != nil {
		return nil, err
	}
	return e.store.FileStructures(repo.ID)
}

// DeleteRepository removes the repository and everything that hangs off it,
// in both stores. Explicit user action only.
func (e *Engine) DeleteRepository(ctx context.Context, ref RepoRef) error {
	repo, err := e.resolveRepo(ref, false)
	if err != nil {
		return err
	}
	if err := e.vecs.DeleteRepository(repo.ID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return e.store.DeleteRepository(repo.ID)
}

// Close waits for running tasks and releases both stores.
func (e *Engine) Close() error {
	e.mu.Lock()
	for _, cancel := range e.running {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()

	verr := e.vecs.Close()
	serr := e.store.Close()
	if verr != nil {
		return verr
	}
	return serr
}

// resolveRepo finds the repository by name, creating it when create is set
// and it doesn't exist yet.
func (e *Engine) resolveRepo(ref RepoRef, create bool) (*store.Repository, error) {
	if ref.Name == "" {
		return nil, fmt.Errorf("repository name is required")
	}
	repo, err := e.store.GetRepositoryByName(ref.Name)
	if err == nil {
		return repo, nil
	}
	if err != store.ErrRepoNotFound || !create {
		return nil, err
	}

	repo = &store.Repository{
		ID:            uuid.NewString(),
		Name:          ref.Name,
		URL:           ref.URL,
		DefaultBranch: ref.DefaultBranch,
		RootPath:      ref.RootPath,
		Status:        "registered",
	}
	if err := e.store.CreateRepository(*repo); err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	return repo, nil
}
