// Package index maintains the derived search and backlink structures in a
// SQLite database. Everything here is reconstructible from the canonical
// store; the index file can be deleted at any time without data loss.
package index

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// formatVersion is stamped into PRAGMA user_version. A file carrying any
// other version is treated as corrupt and recreated empty (generation 0),
// which forces a full rebuild on the next read.
const formatVersion = 2

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	key TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS postings (
	term TEXT NOT NULL,
	key  TEXT NOT NULL,
	freq INTEGER NOT NULL,
	UNIQUE(term, key)
);

CREATE INDEX IF NOT EXISTS idx_postings_term ON postings(term);
CREATE INDEX IF NOT EXISTS idx_postings_key ON postings(key);

CREATE TABLE IF NOT EXISTS links (
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	UNIQUE(source, target)
);

CREATE INDEX IF NOT EXISTS idx_links_source ON links(source);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target);

CREATE TABLE IF NOT EXISTS meta (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	generation INTEGER NOT NULL
);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the index database. Any unreadable or
// format-mismatched file is deleted and recreated rather than surfaced: a
// lost index is a performance regression, never a data-loss event.
func Open(path string) (*DB, error) {
	conn, err := open(path)
	if err != nil {
		removeIndexFiles(path)
		conn, err = open(path)
		if err != nil {
			return nil, fmt.Errorf("index: open after recreate: %w", err)
		}
	}
	return &DB{conn: conn, path: path}, nil
}

func open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}

	var version int
	if err := conn.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: read format version: %w", err)
	}
	if version != 0 && version != formatVersion {
		conn.Close()
		return nil, fmt.Errorf("index: format version %d, want %d", version, formatVersion)
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	if _, err := conn.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, formatVersion)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: stamp format version: %w", err)
	}
	return conn, nil
}

// Reset discards all derived state by recreating the database file.
// The next generation comparison will report the index stale.
func (db *DB) Reset() error {
	_ = db.conn.Close()
	removeIndexFiles(db.path)
	conn, err := open(db.path)
	if err != nil {
		return fmt.Errorf("index: reset: %w", err)
	}
	db.conn = conn
	return nil
}

func removeIndexFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
