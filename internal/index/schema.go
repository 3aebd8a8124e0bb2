// Package index holds the chunk store and the embedding index searched during retrieval.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS sources (
	path        TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	checksum    TEXT NOT NULL DEFAULT '',
	pages       INTEGER NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chunks (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	chunk_id      TEXT NOT NULL UNIQUE,
	source_id     TEXT NOT NULL REFERENCES sources(path) ON DELETE CASCADE,
	source_name   TEXT NOT NULL DEFAULT '',
	page_number   INTEGER NOT NULL DEFAULT 0,
	section_label TEXT NOT NULL DEFAULT '',
	text          TEXT NOT NULL,
	embedding     BLOB
);

CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_id);
`

// DB wraps a sql.DB with chunk-store operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
