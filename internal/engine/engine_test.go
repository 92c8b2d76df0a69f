package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repograph/internal/config"
	"repograph/internal/detect"
	"repograph/internal/embedder"
	"repograph/internal/store"
	"repograph/internal/vecstore"
)

const testDim = 8

// mockEmbedder produces deterministic vectors without a provider. failRemaining
// makes the next N calls fail with a provider error; gate, when set, blocks
// Embed until the channel is closed or the context is cancelled.
type mockEmbedder struct {
	mu            sync.Mutex
	calls         int
	failRemaining int
	model         string
	gate          chan struct{}
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", embedder.ErrProviderFailed, ctx.Err())
		}
	}

	m.mu.Lock()
	m.calls++
	fail := m.failRemaining > 0
	if fail {
		m.failRemaining--
	}
	m.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("%w: connection refused", embedder.ErrProviderFailed)
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, testDim)
		vec[0] = float32(len(text))
		out[i] = vec
	}
	return out, nil
}

func (m *mockEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *mockEmbedder) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == "" {
		return "mock-embed"
	}
	return m.model
}

func (m *mockEmbedder) setModel(name string) {
	m.mu.Lock()
	m.model = name
	m.mu.Unlock()
}

func (m *mockEmbedder) Dimension() int { return testDim }

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type testEnv struct {
	eng  *Engine
	st   *store.SQLiteStore
	vecs *vecstore.VecStore
	emb  *mockEmbedder
	ref  RepoRef
	root string
}

func newTestEnv(t *testing.T, emb *mockEmbedder) *testEnv {
	t.Helper()

	root := t.TempDir()
	dataDir := t.TempDir()

	st, err := store.Open(filepath.Join(dataDir, "index.db"))
	require.NoError(t, err)
	vecs, err := vecstore.Open(filepath.Join(dataDir, "vectors.db"), testDim)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.Embedding.Dimension = testDim
	cfg.Embedding.BatchSize = 4
	cfg.Pipeline.StageRetries = 0

	env := &testEnv{
		eng:  New(st, vecs, emb, cfg, nil),
		st:   st,
		vecs: vecs,
		emb:  emb,
		ref:  RepoRef{Name: "testrepo", RootPath: root},
		root: root,
	}
	t.Cleanup(func() { env.eng.Close() })
	return env
}

func (env *testEnv) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(env.root, name), []byte(content), 0o644))
}

func (env *testEnv) repoID(t *testing.T) string {
	t.Helper()
	repo, err := env.st.GetRepositoryByName(env.ref.Name)
	require.NoError(t, err)
	return repo.ID
}

func (env *testEnv) waitTerminal(t *testing.T, taskID string) *store.Task {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err := env.eng.Status(context.Background(), taskID)
		require.NoError(t, err)
		if task.Status.Terminal() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal status", taskID)
	return nil
}

func TestSubmit_FullIndexCommitsEverything(t *testing.T) {
	env := newTestEnv(t, &mockEmbedder{})
	env.write(t, "a.py", "def foo():\n    bar()\n")
	env.write(t, "b.py", "def bar():\n    pass\n")

	// First run of a repository is promoted to a full reindex.
	taskID, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)

	task := env.waitTerminal(t, taskID)
	assert.Equal(t, store.StatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, store.TaskFull, task.Type)
	assert.Equal(t, 2, task.FilesProcessed)

	repoID := env.repoID(t)

	// Checkpoints carry the content hash and the exact chunk ids, together.
	cps, err := env.st.Checkpoints(repoID)
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, detect.HashBytes([]byte("def foo():\n    bar()\n")), cps["a.py"].Hash)
	require.Len(t, cps["a.py"].ChunkIDs, 1)

	chunks, err := env.vecs.ChunksByRepo(repoID)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)

	// The call graph resolves foo → bar.
	g, err := env.eng.DependencyGraph(context.Background(), env.ref, nil)
	require.NoError(t, err)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "bar", g.Edges[0].CallName)

	structures, err := env.eng.FileStructures(context.Background(), env.ref)
	require.NoError(t, err)
	assert.Len(t, structures, 2)

	model, err := env.st.GetMeta("embedding_model:" + repoID)
	require.NoError(t, err)
	assert.Equal(t, "mock-embed", model)

	repo, err := env.st.GetRepository(repoID)
	require.NoError(t, err)
	assert.Equal(t, "ready", repo.Status)
	assert.NotNil(t, repo.LastSyncedAt)
}

func TestSubmit_NoChangesFastForwards(t *testing.T) {
	env := newTestEnv(t, &mockEmbedder{})
	env.write(t, "a.py", "def foo():\n    pass\n")

	first, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)
	env.waitTerminal(t, first)
	callsAfterFull := env.emb.callCount()

	second, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)

	task := env.waitTerminal(t, second)
	assert.Equal(t, store.StatusCompleted, task.Status)
	assert.Equal(t, store.TaskIncremental, task.Type)
	assert.Equal(t, 0, task.FilesTotal)
	// Nothing was re-embedded.
	assert.Equal(t, callsAfterFull, env.emb.callCount())
}

func TestSubmit_ModifiedFileReplacesItsChunks(t *testing.T) {
	env := newTestEnv(t, &mockEmbedder{})
	env.write(t, "a.py", "def foo():\n    bar()\n")
	env.write(t, "b.py", "def bar():\n    pass\n")

	first, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)
	env.waitTerminal(t, first)

	repoID := env.repoID(t)
	before, err := env.st.Checkpoints(repoID)
	require.NoError(t, err)
	oldAID := before["a.py"].ChunkIDs[0]
	oldBID := before["b.py"].ChunkIDs[0]

	env.write(t, "a.py", "def foo():\n    bar()\n    return 42\n")

	second, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)
	task := env.waitTerminal(t, second)
	require.Equal(t, store.StatusCompleted, task.Status)

	after, err := env.st.Checkpoints(repoID)
	require.NoError(t, err)

	// a.py got fresh chunk ids and a fresh hash; the old chunk is gone.
	assert.NotEqual(t, oldAID, after["a.py"].ChunkIDs[0])
	assert.NotEqual(t, before["a.py"].Hash, after["a.py"].Hash)
	present, err := env.vecs.HasIDs([]string{oldAID, after["a.py"].ChunkIDs[0]})
	require.NoError(t, err)
	assert.False(t, present[oldAID])
	assert.True(t, present[after["a.py"].ChunkIDs[0]])

	// b.py was untouched: same checkpoint, same chunk.
	assert.Equal(t, oldBID, after["b.py"].ChunkIDs[0])

	// The graph still resolves foo → bar across the new chunk set.
	g, err := env.eng.DependencyGraph(context.Background(), env.ref, nil)
	require.NoError(t, err)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "bar", g.Edges[0].CallName)
}

func TestSubmit_DeletedFileIsCleanedUp(t *testing.T) {
	env := newTestEnv(t, &mockEmbedder{})
	env.write(t, "a.py", "def foo():\n    pass\n")
	env.write(t, "b.py", "def bar():\n    pass\n")

	first, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)
	env.waitTerminal(t, first)

	repoID := env.repoID(t)
	before, err := env.st.Checkpoints(repoID)
	require.NoError(t, err)
	deadID := before["b.py"].ChunkIDs[0]

	require.NoError(t, os.Remove(filepath.Join(env.root, "b.py")))

	second, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)
	task := env.waitTerminal(t, second)
	require.Equal(t, store.StatusCompleted, task.Status)

	after, err := env.st.Checkpoints(repoID)
	require.NoError(t, err)
	assert.NotContains(t, after, "b.py")

	present, err := env.vecs.HasIDs([]string{deadID})
	require.NoError(t, err)
	assert.False(t, present[deadID])

	structures, err := env.eng.FileStructures(context.Background(), env.ref)
	require.NoError(t, err)
	for _, fs := range structures {
		assert.NotEqual(t, "b.py", fs.Path)
	}
}

func TestSubmit_FullIndexWithNoChunksFails(t *testing.T) {
	env := newTestEnv(t, &mockEmbedder{})
	env.write(t, "notes.txt", "nothing parseable here")

	taskID, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{ForceFull: true})
	require.NoError(t, err)

	task := env.waitTerminal(t, taskID)
	assert.Equal(t, store.StatusFailed, task.Status)
	assert.Equal(t, string(store.StatusParsing), task.FailedStage)
	assert.Contains(t, task.Error, "no parseable chunks")
}

func TestSubmit_RejectsSecondTaskWhileActive(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, &mockEmbedder{gate: gate})
	env.write(t, "a.py", "def foo():\n    pass\n")

	first, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)

	// The running task is parked inside the embed call; a second submission
	// must be rejected and point at the existing task.
	require.Eventually(t, func() bool {
		task, err := env.eng.Status(context.Background(), first)
		return err == nil && task.Status == store.StatusEmbedding
	}, 5*time.Second, 10*time.Millisecond)

	_, err = env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTaskActive))
	var active *TaskActiveError
	require.ErrorAs(t, err, &active)
	assert.Equal(t, first, active.ExistingTaskID)

	close(gate)
	task := env.waitTerminal(t, first)
	assert.Equal(t, store.StatusCompleted, task.Status)
}

func TestSubmit_ProviderFailureLeavesNoCheckpoints(t *testing.T) {
	env := newTestEnv(t, &mockEmbedder{failRemaining: 100})
	env.write(t, "a.py", "def foo():\n    pass\n")

	taskID, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)

	task := env.waitTerminal(t, taskID)
	assert.Equal(t, store.StatusFailed, task.Status)
	assert.Equal(t, string(store.StatusEmbedding), task.FailedStage)

	// No vectors committed means no checkpoints either; the next run starts
	// from scratch instead of trusting a half-written index.
	cps, err := env.st.Checkpoints(env.repoID(t))
	require.NoError(t, err)
	assert.Empty(t, cps)
	chunks, err := env.vecs.ChunksByRepo(env.repoID(t))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSubmit_TransientFailureRetriesThenSucceeds(t *testing.T) {
	env := newTestEnv(t, &mockEmbedder{failRemaining: 1})
	env.eng.cfg.Pipeline.StageRetries = 2
	env.write(t, "a.py", "def foo():\n    pass\n")

	taskID, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)

	task := env.waitTerminal(t, taskID)
	assert.Equal(t, store.StatusCompleted, task.Status)
	assert.GreaterOrEqual(t, env.emb.callCount(), 2)
}

func TestCancel_MarksTaskCancelled(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, &mockEmbedder{gate: gate})
	env.write(t, "a.py", "def foo():\n    pass\n")

	taskID, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := env.eng.Status(context.Background(), taskID)
		return err == nil && task.Status == store.StatusEmbedding
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, env.eng.Cancel(taskID))

	task := env.waitTerminal(t, taskID)
	assert.Equal(t, store.StatusCancelled, task.Status)

	cps, err := env.st.Checkpoints(env.repoID(t))
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestStreamProgress_TerminalTaskYieldsSnapshotAndCloses(t *testing.T) {
	env := newTestEnv(t, &mockEmbedder{})
	env.write(t, "a.py", "def foo():\n    pass\n")

	taskID, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)
	env.waitTerminal(t, taskID)

	events, err := env.eng.StreamProgress(context.Background(), taskID)
	require.NoError(t, err)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, store.StatusCompleted, got[0].Status)
	assert.True(t, got[0].Terminal())
}

func TestStreamProgress_EndsOnTerminalStoreStateWithoutBusEvent(t *testing.T) {
	env := newTestEnv(t, &mockEmbedder{})

	old := keepAliveInterval
	keepAliveInterval = 20 * time.Millisecond
	t.Cleanup(func() { keepAliveInterval = old })

	require.NoError(t, env.st.CreateRepository(store.Repository{
		ID:       "repo-1",
		Name:     "direct",
		RootPath: env.root,
		Status:   "registered",
	}))
	task := store.Task{
		ID:           "task-1",
		RepositoryID: "repo-1",
		Type:         store.TaskFull,
		Status:       store.StatusEmbedding,
		StageLabel:   "Embedding chunks",
		Progress:     40,
	}
	require.NoError(t, env.st.CreateTask(task))

	events, err := env.eng.StreamProgress(context.Background(), task.ID)
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, store.StatusEmbedding, first.Status)

	// Flip the task to completed directly in the store, with no bus publish.
	// This is what a slow reader sees when its buffered event was dropped:
	// the record is terminal but no terminal event ever arrives.
	task.Status = store.StatusCompleted
	task.StageLabel = "Completed"
	task.Progress = 100
	require.NoError(t, env.st.UpdateTask(task))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed without a terminal event")
			if !ev.Terminal() {
				continue
			}
			assert.Equal(t, store.StatusCompleted, ev.Status)
			assert.False(t, ev.KeepAlive)
			select {
			case _, open := <-events:
				assert.False(t, open, "stream stayed open after the terminal event")
			case <-time.After(2 * time.Second):
				t.Fatal("stream did not close after the terminal event")
			}
			return
		case <-deadline:
			t.Fatal("stream never delivered a terminal event")
		}
	}
}

func TestSubmit_ArtifactsRunDoesNotClaimNewModel(t *testing.T) {
	env := newTestEnv(t, &mockEmbedder{})
	env.write(t, "a.py", "def foo():\n    pass\n")

	first, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, env.waitTerminal(t, first).Status)

	modelKey := "embedding_model:" + env.repoID(t)
	recorded, err := env.st.GetMeta(modelKey)
	require.NoError(t, err)
	require.Equal(t, "mock-embed", recorded)

	// Rebuild artifacts under a switched model. Nothing is embedded, so the
	// recorded model must keep naming what the stored vectors were embedded
	// with; otherwise the next sync would skip the forced full reindex.
	env.emb.setModel("mock-embed-v2")
	artifacts, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{ArtifactsOnly: true})
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, env.waitTerminal(t, artifacts).Status)

	recorded, err = env.st.GetMeta(modelKey)
	require.NoError(t, err)
	assert.Equal(t, "mock-embed", recorded)

	// The following sync sees the mismatch and re-embeds the unchanged file.
	callsBefore := env.emb.callCount()
	syncID, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)
	task := env.waitTerminal(t, syncID)
	require.Equal(t, store.StatusCompleted, task.Status)
	assert.Equal(t, 1, task.FilesTotal)
	assert.Greater(t, env.emb.callCount(), callsBefore)

	recorded, err = env.st.GetMeta(modelKey)
	require.NoError(t, err)
	assert.Equal(t, "mock-embed-v2", recorded)
}

func TestRepair_DetectsMissingChunksAndOrphans(t *testing.T) {
	env := newTestEnv(t, &mockEmbedder{})
	env.write(t, "a.py", "def foo():\n    pass\n")
	env.write(t, "b.py", "def bar():\n    pass\n")

	taskID, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)
	env.waitTerminal(t, taskID)

	repoID := env.repoID(t)
	cps, err := env.st.Checkpoints(repoID)
	require.NoError(t, err)

	// Simulate a crash that lost a.py's vectors after the checkpoint wrote.
	require.NoError(t, env.vecs.DeleteByIDs(cps["a.py"].ChunkIDs))

	stats, err := env.eng.Repair(context.Background(), env.ref)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesChecked)
	assert.Equal(t, 1, stats.FilesRepaired)
	assert.Equal(t, 0, stats.OrphansRemoved)

	// The cleared hash makes the next sync re-embed the file.
	after, err := env.st.Checkpoints(repoID)
	require.NoError(t, err)
	assert.Empty(t, after["a.py"].Hash)

	syncID, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)
	task := env.waitTerminal(t, syncID)
	require.Equal(t, store.StatusCompleted, task.Status)

	healed, err := env.st.Checkpoints(repoID)
	require.NoError(t, err)
	assert.NotEmpty(t, healed["a.py"].Hash)
	present, err := env.vecs.HasIDs(healed["a.py"].ChunkIDs)
	require.NoError(t, err)
	for id, ok := range present {
		assert.True(t, ok, "chunk %s should exist after re-sync", id)
	}
}

func TestDeleteRepository_RemovesBothStores(t *testing.T) {
	env := newTestEnv(t, &mockEmbedder{})
	env.write(t, "a.py", "def foo():\n    pass\n")

	taskID, err := env.eng.Submit(context.Background(), env.ref, SubmitOptions{})
	require.NoError(t, err)
	env.waitTerminal(t, taskID)

	repoID := env.repoID(t)
	require.NoError(t, env.eng.DeleteRepository(context.Background(), env.ref))

	_, err = env.st.GetRepository(repoID)
	assert.ErrorIs(t, err, store.ErrRepoNotFound)
	chunks, err := env.vecs.ChunksByRepo(repoID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
