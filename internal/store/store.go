// Package store owns the local SQLite database shared by the source registry
// and the SQLite index store. It opens the connection pool, applies the
// schema, and classifies driver errors into the rag sentinel taxonomy.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/54b3r/semsearch/internal/rag"
)

// DB is a handle to the semsearch SQLite database. Components built on it
// (registry, index) borrow the handle; only the opener closes it.
type DB struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// path is the file path the database was opened from.
	path string
}

// DefaultDBPath returns the default path for the database.
// It resolves to ~/.semsearch/semsearch.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".semsearch")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "semsearch.db"), nil
}

// Open opens (or creates) the database at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*DB, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	d := &DB{db: db, path: path}
	if err := d.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// migrate creates the schema if it does not already exist.
// Timestamps are Unix nanoseconds so chunk recency ties break deterministically.
func (d *DB) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sources (
    id               TEXT    PRIMARY KEY,
    location         TEXT    NOT NULL,
    status           TEXT    NOT NULL CHECK(status IN ('PENDING','INDEXING','READY','FAILED')),
    last_indexed_at  INTEGER,
    error_message    TEXT    NOT NULL DEFAULT '',
    chunk_count      INTEGER NOT NULL DEFAULT 0,
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
    id               TEXT    PRIMARY KEY,
    source_id        TEXT    NOT NULL,
    sequence_index   INTEGER NOT NULL,
    text             TEXT    NOT NULL,
    embedding        BLOB    NOT NULL,
    created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_source_seq
    ON chunks (source_id, sequence_index);
`
	if _, err := d.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// SQL exposes the connection pool to the packages that own table access.
func (d *DB) SQL() *sql.DB { return d.db }

// Path returns the path the database was opened from.
func (d *DB) Path() string { return d.path }

// WithTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return Classify(fmt.Errorf("store: begin: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return Classify(fmt.Errorf("store: commit: %w", err))
	}
	return nil
}

// Ping verifies the database answers a trivial query. Used by the readiness check.
func (d *DB) Ping(ctx context.Context) error {
	var one int
	if err := d.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// Classify marks lock contention and I/O failures as rag.ErrStoreUnavailable
// so callers retry them. Other errors pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL:
			return fmt.Errorf("%w: %w", rag.ErrStoreUnavailable, err)
		}
	}
	return err
}
