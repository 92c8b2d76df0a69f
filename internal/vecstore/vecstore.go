// Package vecstore is the vector side of the index: chunk content,
// metadata, and embeddings keyed by chunk id. It lives in its own SQLite
// database with no shared transaction with the relational store — it is a
// disposable cache, fully reconstructable from checkpoints plus a forced
// re-embed.
package vecstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"repograph/internal/chunker"
)

func init() {
	sqlite_vec.Auto()
}

// Summary is a ranked search hit: enough to show a result list without
// shipping chunk bodies. Full content comes from Chunks on demand.
type Summary struct {
	ChunkID   string  `json:"chunk_id"`
	Path      string  `json:"path"`
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Language  string  `json:"language"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"` // distance; lower is closer
}

// VecStore stores (vector, metadata) pairs supporting nearest-neighbor
// search.
type VecStore struct {
	db *sql.DB
}

// Open creates or opens the vector database at the given path with the
// given embedding dimension.
func Open(dbPath string, dimension int) (*VecStore, error) {
	if dimension <= 0 {
		dimension = 768
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS chunks (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    chunk_id      TEXT NOT NULL UNIQUE,
    repository_id TEXT NOT NULL,
    path          TEXT NOT NULL,
    name          TEXT NOT NULL DEFAULT '',
    kind          TEXT NOT NULL DEFAULT '',
    language      TEXT NOT NULL DEFAULT '',
    start_line    INTEGER NOT NULL,
    end_line      INTEGER NOT NULL,
    content       TEXT NOT NULL,
    calls         TEXT NOT NULL DEFAULT '[]',
    decorators    TEXT NOT NULL DEFAULT '[]',
    is_model      INTEGER NOT NULL DEFAULT 0,
    part          INTEGER NOT NULL DEFAULT 0,
    parts         INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_chunks_repo_path ON chunks(repository_id, path);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_id INTEGER PRIMARY KEY,
    embedding float[%d]
);
`, dimension)
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("init vector schema: %w", err)
	}
	return &VecStore{db: db}, nil
}

// Upsert writes chunks and their embeddings. An existing row with the same
// chunk id is replaced; in practice ids are fresh per parse and stale ones
// are removed by checkpoint-driven deletes.
func (v *VecStore) Upsert(repositoryID string, chunks []chunker.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("mismatched chunks (%d) and embeddings (%d)", len(chunks), len(embeddings))
	}
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insert, err := tx.Prepare(`
		INSERT INTO chunks (chunk_id, repository_id, path, name, kind, language, start_line, end_line, content, calls, decorators, is_model, part, parts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
		  repository_id = excluded.repository_id,
		  path = excluded.path,
		  name = excluded.name,
		  kind = excluded.kind,
		  language = excluded.language,
		  start_line = excluded.start_line,
		  end_line = excluded.end_line,
		  content = excluded.content,
		  calls = excluded.calls,
		  decorators = excluded.decorators,
		  is_model = excluded.is_model,
		  part = excluded.part,
		  parts = excluded.parts`)
	if err != nil {
		return err
	}
	defer insert.Close()

	for i, c := range chunks {
		calls, _ := json.Marshal(c.Calls)
		decorators, _ := json.Marshal(c.Decorators)
		if _, err := insert.Exec(
			c.ID, repositoryID, c.File, c.Name, c.Kind, c.Language,
			c.StartLine, c.EndLine, c.Content, string(calls), string(decorators),
			boolToInt(c.IsModel), c.Part, c.Parts,
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}

		var rowID int64
		if err := tx.QueryRow(`SELECT id FROM chunks WHERE chunk_id = ?`, c.ID).Scan(&rowID); err != nil {
			return err
		}

		blob, err := sqlite_vec.SerializeFloat32(embeddings[i])
		if err != nil {
			return fmt.Errorf("serialize embedding for %s: %w", c.ID, err)
		}
		if _, err := tx.Exec(`DELETE FROM vec_chunks WHERE chunk_id = ?`, rowID); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)`, rowID, blob); err != nil {
			return fmt.Errorf("insert embedding for %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteByIDs removes chunks and their vectors by chunk id.
func (v *VecStore) DeleteByIDs(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		var rowID int64
		err := tx.QueryRow(`SELECT id FROM chunks WHERE chunk_id = ?`, id).Scan(&rowID)
		if err == sql.ErrNoRows {
			continue // already gone; deletion is idempotent
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM vec_chunks WHERE chunk_id = ?`, rowID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM chunks WHERE id = ?`, rowID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Search returns the top-k chunks of a repository closest to the query
// vector, as lightweight summaries.
//
// The repository filter applies after the KNN scan, so a database shared by
// several repositories could return fewer than k repo-local hits. Each
// repository gets its own database file under its .repograph directory, so
// the scan is effectively repo-local already; revisit with an over-fetch
// factor if databases are ever shared.
func (v *VecStore) Search(repositoryID string, query []float32, k int) ([]Summary, error) {
	if k <= 0 {
		k = 10
	}
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	rows, err := v.db.Query(`
		SELECT c.chunk_id, c.path, c.name, c.kind, c.language, c.start_line, c.end_line, vc.distance
		FROM vec_chunks vc
		JOIN chunks c ON c.id = vc.chunk_id
		WHERE vc.embedding MATCH ? AND vc.k = ? AND c.repository_id = ?
		ORDER BY vc.distance
		LIMIT ?`,
		blob, k, repositoryID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ChunkID, &s.Path, &s.Name, &s.Kind, &s.Language, &s.StartLine, &s.EndLine, &s.Score); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Chunks returns full chunk content for the given ids, preserving the
// request order. Missing ids are skipped, not errors — the caller decides
// whether a gap matters.
func (v *VecStore) Chunks(repositoryID string, ids []string) ([]chunker.Chunk, error) {
	out := make([]chunker.Chunk, 0, len(ids))
	for _, id := range ids {
		c, err := v.chunkByID(id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// ChunksByRepo returns every live chunk of a repository, ordered by path
// and start line. The dependency graph is rebuilt from this set.
func (v *VecStore) ChunksByRepo(repositoryID string) ([]chunker.Chunk, error) {
	rows, err := v.db.Query(`
		SELECT chunk_id, path, name, kind, language, start_line, end_line, content, calls, decorators, is_model, part, parts
		FROM chunks WHERE repository_id = ? ORDER BY path, start_line`, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chunker.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// IDsByFile returns, per file path, the chunk ids currently present for a
// repository. Used by repair to reconcile checkpoints with reality.
func (v *VecStore) IDsByFile(repositoryID string) (map[string][]string, error) {
	rows, err := v.db.Query(
		`SELECT path, chunk_id FROM chunks WHERE repository_id = ? ORDER BY path, start_line, part`,
		repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var path, id string
		if err := rows.Scan(&path, &id); err != nil {
			return nil, err
		}
		out[path] = append(out[path], id)
	}
	return out, rows.Err()
}

// HasIDs reports which of the given chunk ids exist in the store.
func (v *VecStore) HasIDs(ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		var one int
		err := v.db.QueryRow(`SELECT 1 FROM chunks WHERE chunk_id = ?`, id).Scan(&one)
		if err == sql.ErrNoRows {
			out[id] = false
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, nil
}

// DeleteRepository drops every chunk and vector of a repository.
func (v *VecStore) DeleteRepository(repositoryID string) error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM vec_chunks WHERE chunk_id IN (SELECT id FROM chunks WHERE repository_id = ?)`,
		repositoryID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM chunks WHERE repository_id = ?`, repositoryID); err != nil {
		return err
	}
	return tx.Commit()
}

func (v *VecStore) Close() error {
	return v.db.Close()
}

func (v *VecStore) chunkByID(id string) (*chunker.Chunk, error) {
	row := v.db.QueryRow(`
		SELECT chunk_id, path, name, kind, language, start_line, end_line, content, calls, decorators, is_model, part, parts
		FROM chunks WHERE chunk_id = ?`, id)
	return scanChunk(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner) (*chunker.Chunk, error) {
	var c chunker.Chunk
	var calls, decorators string
	var isModel int
	err := row.Scan(&c.ID, &c.File, &c.Name, &c.Kind, &c.Language, &c.StartLine, &c.EndLine,
		&c.Content, &calls, &decorators, &isModel, &c.Part, &c.Parts)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(calls), &c.Calls); err != nil {
		return nil, fmt.Errorf("decode calls for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(decorators), &c.Decorators); err != nil {
		return nil, fmt.Errorf("decode decorators for %s: %w", c.ID, err)
	}
	c.IsModel = isModel != 0
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
