// Package chatlog persists conversation turns in an append-only SQLite table.
package chatlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"docrag/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	role      TEXT NOT NULL,
	content   TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_role ON messages(role);
`

// Store is a SQLite chat log. Timestamps never decrease in insertion order,
// even if the wall clock steps backwards.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the chat log at path.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("chat log path is empty")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating chat log directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening chat log: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating chat log schema: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	var lastNanos sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(timestamp) FROM messages`).Scan(&lastNanos); err != nil {
		db.Close()
		return nil, fmt.Errorf("reading last timestamp: %w", err)
	}
	if lastNanos.Valid {
		s.last = time.Unix(0, lastNanos.Int64).UTC()
	}
	return s, nil
}

// Append records one turn and returns it with its id and timestamp.
func (s *Store) Append(ctx context.Context, role domain.Role, content string) (domain.ChatMessage, error) {
	if role != domain.RoleUser && role != domain.RoleAssistant {
		return domain.ChatMessage{}, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	if ts.Before(s.last) {
		ts = s.last
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (role, content, timestamp) VALUES (?, ?, ?)`,
		string(role), content, ts.UnixNano())
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("append message: %w", err)
	}
	s.last = ts
	return domain.ChatMessage{ID: id, Role: role, Content: content, Timestamp: ts}, nil
}

// List returns every message in insertion order.
func (s *Store) List(ctx context.Context) ([]domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, role, content, timestamp FROM messages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var (
			m     domain.ChatMessage
			role  string
			nanos int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &nanos); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = domain.Role(role)
		m.Timestamp = time.Unix(0, nanos).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// Clear deletes the whole history. It is only used by a full reset.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
