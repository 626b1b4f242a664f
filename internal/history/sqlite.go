package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	prompt      TEXT NOT NULL,
	provider    TEXT NOT NULL,
	model       TEXT NOT NULL,
	response    TEXT NOT NULL,
	latency_ms  INTEGER NOT NULL DEFAULT 0,
	tokens      INTEGER NOT NULL DEFAULT 0,
	cost        REAL NOT NULL DEFAULT 0,
	mode        TEXT NOT NULL DEFAULT 'chat',
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chats_created_at ON chats(created_at);
`

// SQLiteStore persists chat history in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the history database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database %q: %w", path, err)
	}

	// The driver serializes access per connection; a single connection
	// avoids SQLITE_BUSY on concurrent best-effort writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveChat inserts one exchange.
func (s *SQLiteStore) SaveChat(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (prompt, provider, model, response, latency_ms, tokens, cost, mode)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Prompt, entry.Provider, entry.Model, entry.Response,
		entry.LatencyMS, entry.Tokens, entry.Cost, entry.Mode,
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prompt, provider, model, response, latency_ms, tokens, cost, mode, created_at
		 FROM chats ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Prompt, &e.Provider, &e.Model, &e.Response,
			&e.LatencyMS, &e.Tokens, &e.Cost, &e.Mode, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
