// Package sqlite is the durable vector store: one SQLite file holding chunk
// rows with float32 BLOB embeddings, searched by brute-force cosine similarity.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"docrag/internal/domain"
	"docrag/internal/embedding"
	"docrag/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS index_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        TEXT NOT NULL UNIQUE,
	source    TEXT NOT NULL,
	text      TEXT NOT NULL,
	metadata  TEXT NOT NULL,
	embedding BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);
`

// Storage is a SQLite-backed vector store.
type Storage struct {
	db   *sql.DB
	path string
	dim  int
}

var _ vectorstore.Storage = (*Storage)(nil)

// Open opens (creating if needed) the index database at path. ":memory:"
// gives a private in-memory database.
func Open(path string) (*Storage, error) {
	if path == "" {
		return nil, errors.New("sqlite index path is empty")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}
	return &Storage{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Storage) Path() string { return s.path }

// Init records spec on first use and verifies it on every later open.
func (s *Storage) Init(ctx context.Context, spec vectorstore.EmbeddingSpec) error {
	if spec.Dimension <= 0 {
		return errors.New("invalid dimension")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin init: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stored := make(map[string]string)
	rows, err := tx.QueryContext(ctx, `SELECT key, value FROM index_meta`)
	if err != nil {
		return fmt.Errorf("reading index meta: %w", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return fmt.Errorf("scanning index meta: %w", err)
		}
		stored[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading index meta: %w", err)
	}

	want := map[string]string{
		"embedder":  spec.Embedder,
		"dimension": strconv.Itoa(spec.Dimension),
	}
	if len(stored) > 0 {
		if stored["embedder"] != want["embedder"] || stored["dimension"] != want["dimension"] {
			return fmt.Errorf("%w: %s was built with %s/%s, got %s/%s", domain.ErrEmbedderMismatch, s.path,
				stored["embedder"], stored["dimension"], want["embedder"], want["dimension"])
		}
	} else {
		for k, v := range want {
			if _, err := tx.ExecContext(ctx, `INSERT INTO index_meta (key, value) VALUES (?, ?)`, k, v); err != nil {
				return fmt.Errorf("writing index meta: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit init: %w", err)
	}
	s.dim = spec.Dimension
	return nil
}

// Upsert inserts entries, replacing rows with the same id in place.
func (s *Storage) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, source, text, metadata, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			text = excluded.text,
			metadata = excluded.metadata,
			embedding = excluded.embedding
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if err := embedding.CheckDimension(s.dim, e.Embedding); err != nil {
			return err
		}
		meta, err := json.Marshal(e.Chunk.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		source := e.Chunk.Metadata[domain.MetaSource]
		if _, err := stmt.ExecContext(ctx, e.Chunk.ID, source, e.Chunk.Text, string(meta), encodeEmbedding(e.Embedding)); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", e.Chunk.ID, err)
		}
	}
	return tx.Commit()
}

// Search scans matching rows in insertion order and ranks them by cosine similarity.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int, filter domain.Filter) ([]domain.SearchResult, error) {
	where, args := filterClause(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT id, source, text, metadata, embedding FROM chunks`+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var candidates []domain.SearchResult
	for rows.Next() {
		var (
			c        domain.Chunk
			metaJSON string
			blob     []byte
		)
		if err := rows.Scan(&c.ID, &c.Source, &c.Text, &metaJSON, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", c.ID, err)
		}
		candidates = append(candidates, domain.SearchResult{Chunk: c, Score: embedding.Cosine(vector, decodeEmbedding(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return vectorstore.TopK(candidates, topK), nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (s *Storage) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source FROM chunks WHERE source != ''`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *Storage) DeleteSource(ctx context.Context, source string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("delete source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete source: %w", err)
	}
	return int(n), nil
}

// Clear deletes every chunk in one transaction. The embedding spec survives.
func (s *Storage) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// filterClause turns an exact-match metadata filter into a WHERE clause.
// The source key hits the indexed column; other keys go through json_extract.
func filterClause(f domain.Filter) (string, []any) {
	if len(f) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		if k == domain.MetaSource {
			conds = append(conds, "source = ?")
			args = append(args, f[k])
			continue
		}
		conds = append(conds, "json_extract(metadata, ?) = ?")
		args = append(args, "$."+strconv.Quote(k), f[k])
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
