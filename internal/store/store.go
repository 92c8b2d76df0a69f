package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors.
var (
	ErrRepoNotFound = errors.New("repository not found")
	ErrTaskNotFound = errors.New("task not found")
)

// Store persists repositories, tasks, per-file checkpoints, and the
// structural index. It is the single source of truth for what has been
// durably indexed; the vector store is a rebuildable cache on top of it.
type Store interface {
	// Repositories.
	CreateRepository(r Repository) error
	GetRepository(id string) (*Repository, error)
	GetRepositoryByName(name string) (*Repository, error)
	UpdateRepositoryStatus(id, status string, lastSyncedAt *time.Time) error
	DeleteRepository(id string) error

	// Tasks.
	CreateTask(t Task) error
	GetTask(id string) (*Task, error)
	UpdateTask(t Task) error
	// ActiveTask returns the repository's non-terminal task, or nil.
	ActiveTask(repositoryID string) (*Task, error)

	// Checkpoints.
	Checkpoints(repositoryID string) (map[string]Checkpoint, error)
	CheckpointHashes(repositoryID string) (map[string]string, error)
	UpsertCheckpoint(cp Checkpoint) error
	DeleteCheckpoints(repositoryID string, paths []string) error

	// Structural index.
	UpsertFileStructure(fs FileStructure) error
	DeleteFileStructures(repositoryID string, paths []string) error
	DeleteAllFileStructures(repositoryID string) error
	FileStructures(repositoryID string) ([]FileStructure, error)

	// Meta key-value pairs (e.g. the embedding model of the index).
	GetMeta(key string) (string, error)
	SetMeta(key, value string) error

	Close() error
}

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and initializes
// the schema.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateRepository(r Repository) error {
	_, err := s.db.Exec(
		`INSERT INTO repositories (id, name, url, default_branch, root_path, status) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.URL, r.DefaultBranch, r.RootPath, r.Status,
	)
	return err
}

func (s *SQLiteStore) GetRepository(id string) (*Repository, error) {
	return s.scanRepository(s.db.QueryRow(
		`SELECT id, name, url, default_branch, root_path, status, last_synced_at, created_at
		 FROM repositories WHERE id = ?`, id))
}

func (s *SQLiteStore) GetRepositoryByName(name string) (*Repository, error) {
	return s.scanRepository(s.db.QueryRow(
		`SELECT id, name, url, default_branch, root_path, status, last_synced_at, created_at
		 FROM repositories WHERE name = ?`, name))
}

func (s *SQLiteStore) scanRepository(row *sql.Row) (*Repository, error) {
	var r Repository
	var lastSynced sql.NullTime
	err := row.Scan(&r.ID, &r.Name, &r.URL, &r.DefaultBranch, &r.RootPath, &r.Status, &lastSynced, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRepoNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastSynced.Valid {
		r.LastSyncedAt = &lastSynced.Time
	}
	return &r, nil
}

func (s *SQLiteStore) UpdateRepositoryStatus(id, status string, lastSyncedAt *time.Time) error {
	var res sql.Result
	var err error
	if lastSyncedAt != nil {
		res, err = s.db.Exec(`UPDATE repositories SET status = ?, last_synced_at = ? WHERE id = ?`, status, *lastSyncedAt, id)
	} else {
		res, err = s.db.Exec(`UPDATE repositories SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRepoNotFound
	}
	return nil
}

// DeleteRepository removes the repository; tasks, checkpoints, and
// structures cascade via foreign keys.
func (s *SQLiteStore) DeleteRepository(id string) error {
	res, err := s.db.Exec(`DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRepoNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateTask(t Task) error {
	_, err := s.db.Exec(
		`INSERT INTO tasks (id, repository_id, type, status, progress, stage_label, files_total, files_processed, failed_stage, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RepositoryID, t.Type, t.Status, t.Progress, t.StageLabel,
		t.FilesTotal, t.FilesProcessed, t.FailedStage, t.Error,
	)
	return err
}

func (s *SQLiteStore) GetTask(id string) (*Task, error) {
	return s.scanTask(s.db.QueryRow(
		`SELECT id, repository_id, type, status, progress, stage_label, files_total, files_processed, failed_stage, error, created_at, updated_at
		 FROM tasks WHERE id = ?`, id))
}

func (s *SQLiteStore) scanTask(row *sql.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.RepositoryID, &t.Type, &t.Status, &t.Progress, &t.StageLabel,
		&t.FilesTotal, &t.FilesProcessed, &t.FailedStage, &t.Error, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) UpdateTask(t Task) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, progress = ?, stage_label = ?, files_total = ?, files_processed = ?, failed_stage = ?, error = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		t.Status, t.Progress, t.StageLabel, t.FilesTotal, t.FilesProcessed, t.FailedStage, t.Error, t.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *SQLiteStore) ActiveTask(repositoryID string) (*Task, error) {
	t, err := s.scanTask(s.db.QueryRow(
		`SELECT id, repository_id, type, status, progress, stage_label, files_total, files_processed, failed_stage, error, created_at, updated_at
		 FROM tasks
		 WHERE repository_id = ? AND status NOT IN (?, ?, ?)
		 ORDER BY created_at DESC LIMIT 1`,
		repositoryID, StatusCompleted, StatusFailed, StatusCancelled))
	if errors.Is(err, ErrTaskNotFound) {
		return nil, nil
	}
	return t, err
}

func (s *SQLiteStore) Checkpoints(repositoryID string) (map[string]Checkpoint, error) {
	rows, err := s.db.Query(
		`SELECT repository_id, path, hash, commit_sha, chunk_ids, chunk_count, updated_at
		 FROM checkpoints WHERE repository_id = ?`, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Checkpoint)
	for rows.Next() {
		var cp Checkpoint
		var chunkIDs string
		if err := rows.Scan(&cp.RepositoryID, &cp.Path, &cp.Hash, &cp.CommitSHA, &chunkIDs, &cp.ChunkCount, &cp.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(chunkIDs), &cp.ChunkIDs); err != nil {
			return nil, fmt.Errorf("decode chunk ids for %s: %w", cp.Path, err)
		}
		out[cp.Path] = cp
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CheckpointHashes(repositoryID string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT path, hash FROM checkpoints WHERE repository_id = ?`, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		out[path] = hash
	}
	return out, rows.Err()
}

// UpsertCheckpoint writes hash, commit, and chunk ids in one statement.
// Callers only invoke this after the chunks are durable in the vector
// store — the ordering contract lives with the committer, not here.
func (s *SQLiteStore) UpsertCheckpoint(cp Checkpoint) error {
	chunkIDs, err := json.Marshal(cp.ChunkIDs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO checkpoints (repository_id, path, hash, commit_sha, chunk_ids, chunk_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(repository_id, path) DO UPDATE SET
		   hash = excluded.hash,
		   commit_sha = excluded.commit_sha,
		   chunk_ids = excluded.chunk_ids,
		   chunk_count = excluded.chunk_count,
		   updated_at = CURRENT_TIMESTAMP`,
		cp.RepositoryID, cp.Path, cp.Hash, cp.CommitSHA, string(chunkIDs), len(cp.ChunkIDs),
	)
	return err
}

func (s *SQLiteStore) DeleteCheckpoints(repositoryID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`DELETE FROM checkpoints WHERE repository_id = ? AND path = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range paths {
		if _, err := stmt.Exec(repositoryID, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpsertFileStructure(fs FileStructure) error {
	_, err := s.db.Exec(
		`INSERT INTO file_structures (repository_id, path, outline, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(repository_id, path) DO UPDATE SET
		   outline = excluded.outline,
		   updated_at = CURRENT_TIMESTAMP`,
		fs.RepositoryID, fs.Path, fs.Outline,
	)
	return err
}

func (s *SQLiteStore) DeleteFileStructures(repositoryID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`DELETE FROM file_structures WHERE repository_id = ? AND path = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range paths {
		if _, err := stmt.Exec(repositoryID, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteAllFileStructures(repositoryID string) error {
	_, err := s.db.Exec(`DELETE FROM file_structures WHERE repository_id = ?`, repositoryID)
	return err
}

func (s *SQLiteStore) FileStructures(repositoryID string) ([]FileStructure, error) {
	rows, err := s.db.Query(
		`SELECT repository_id, path, outline, updated_at FROM file_structures WHERE repository_id = ? ORDER BY path`,
		repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileStructure
	for rows.Next() {
		var fs FileStructure
		if err := rows.Scan(&fs.RepositoryID, &fs.Path, &fs.Outline, &fs.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
