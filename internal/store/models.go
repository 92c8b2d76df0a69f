package store

import "time"

// TaskType distinguishes what a task reprocesses.
type TaskType string

const (
	// TaskFull reprocesses every file regardless of checkpoint hashes.
	TaskFull TaskType = "full"
	// TaskIncremental reprocesses only files whose hash changed.
	TaskIncremental TaskType = "incremental"
	// TaskArtifacts rebuilds derived artifacts only.
	TaskArtifacts TaskType = "artifacts"
)

// TaskStatus is the orchestrator state machine's vocabulary. The store
// persists it; the engine owns the transitions.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusAcquiring TaskStatus = "acquiring"
	StatusParsing   TaskStatus = "parsing"
	StatusEmbedding TaskStatus = "embedding"
	StatusArtifacts TaskStatus = "generating-artifacts"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Repository is one indexed repository snapshot.
type Repository struct {
	ID            string
	Name          string
	URL           string
	DefaultBranch string
	RootPath      string
	Status        string
	LastSyncedAt  *time.Time
	CreatedAt     time.Time
}

// Task is one indexing execution attempt.
type Task struct {
	ID             string
	RepositoryID   string
	Type           TaskType
	Status         TaskStatus
	Progress       int // percent
	StageLabel     string
	FilesTotal     int
	FilesProcessed int
	FailedStage    string
	Error          string // scrubbed before persisting
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Checkpoint records that one file, at one content hash, is represented by
// exactly these chunk ids in the vector store. Hash and chunk ids are only
// ever written together, after the vectors are durable.
type Checkpoint struct {
	RepositoryID string
	Path         string
	Hash         string
	CommitSHA    string // audit only, never load-bearing
	ChunkIDs     []string
	ChunkCount   int
	UpdatedAt    time.Time
}

// FileStructure is one row of the structural index.
type FileStructure struct {
	RepositoryID string
	Path         string
	Outline      string // JSON: {language, functions[], classes[], constants[]}
	UpdatedAt    time.Time
}
