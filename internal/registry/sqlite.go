package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/54b3r/semsearch/internal/rag"
	"github.com/54b3r/semsearch/internal/store"
)

// SQLiteRegistry is a rag.SourceRegistry over the shared SQLite database.
// Status transitions are single conditional UPDATE statements, so the
// INDEXING guard holds across processes sharing the file.
type SQLiteRegistry struct {
	db    *store.DB
	clock rag.Clock
}

// NewSQLiteRegistry returns a registry over db. The registry borrows db;
// closing the registry does not close it. A nil clock uses rag.SystemClock.
func NewSQLiteRegistry(db *store.DB, clock rag.Clock) *SQLiteRegistry {
	if clock == nil {
		clock = rag.SystemClock
	}
	return &SQLiteRegistry{db: db, clock: clock}
}

const sourceColumns = `id, location, status, last_indexed_at, error_message, chunk_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*rag.Source, error) {
	var (
		s                rag.Source
		status           string
		lastIndexed      sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&s.ID, &s.Location, &status, &lastIndexed, &s.ErrorMessage, &s.ChunkCount, &created, &updated); err != nil {
		return nil, err
	}
	s.Status = rag.Status(status)
	if lastIndexed.Valid {
		t := time.Unix(0, lastIndexed.Int64).UTC()
		s.LastIndexedAt = &t
	}
	s.CreatedAt = time.Unix(0, created).UTC()
	s.UpdatedAt = time.Unix(0, updated).UTC()
	return &s, nil
}

// Register creates a PENDING source.
func (r *SQLiteRegistry) Register(ctx context.Context, id, location string) (*rag.Source, error) {
	if err := validate(id, location); err != nil {
		return nil, err
	}
	now := r.clock().UnixNano()
	res, err := r.db.SQL().ExecContext(ctx, `
INSERT INTO sources (id, location, status, created_at, updated_at)
VALUES (?, ?, 'PENDING', ?, ?)
ON CONFLICT(id) DO NOTHING`, id, location, now, now)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("registry: register %s: %w", id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("registry: source %q: %w", id, rag.ErrAlreadyExists)
	}
	return r.Get(ctx, id)
}

// Get returns the source or rag.ErrNotFound.
func (r *SQLiteRegistry) Get(ctx context.Context, id string) (*rag.Source, error) {
	row := r.db.SQL().QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, store.Classify(fmt.Errorf("registry: get %s: %w", id, err))
	}
	return s, nil
}

// List returns all sources ordered by id.
func (r *SQLiteRegistry) List(ctx context.Context) ([]rag.Source, error) {
	rows, err := r.db.SQL().QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY id`)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("registry: list: %w", err))
	}
	defer rows.Close()

	out := []rag.Source{}
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: list scan: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Classify(fmt.Errorf("registry: list rows: %w", err))
	}
	return out, nil
}

// Delete removes a source held in INDEXING by the caller.
func (r *SQLiteRegistry) Delete(ctx context.Context, id string) error {
	res, err := r.db.SQL().ExecContext(ctx, `DELETE FROM sources WHERE id = ? AND status = 'INDEXING'`, id)
	if err != nil {
		return store.Classify(fmt.Errorf("registry: delete %s: %w", id, err))
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return notClaimed(id)
}

// BeginIndexing moves the source to INDEXING unless a run already owns it.
func (r *SQLiteRegistry) BeginIndexing(ctx context.Context, id string) (*rag.Source, error) {
	res, err := r.db.SQL().ExecContext(ctx,
		`UPDATE sources SET status = 'INDEXING', updated_at = ? WHERE id = ? AND status <> 'INDEXING'`,
		r.clock().UnixNano(), id)
	if err != nil {
		return nil, store.Classify(fmt.Errorf("registry: begin indexing %s: %w", id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, r.explainMiss(ctx, id)
	}
	return r.Get(ctx, id)
}

// explainMiss distinguishes a missing row from one held by another run
// after a guarded statement affected nothing.
func (r *SQLiteRegistry) explainMiss(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Status == rag.StatusIndexing {
		return alreadyIndexing(id)
	}
	return fmt.Errorf("registry: source %q changed concurrently: %w", id, rag.ErrAlreadyIndexing)
}

// MarkReady records a successful run and clears any previous error.
func (r *SQLiteRegistry) MarkReady(ctx context.Context, id string, indexedAt time.Time, chunkCount int) error {
	return r.update(ctx, id, `
UPDATE sources
SET status = 'READY', last_indexed_at = ?, chunk_count = ?, error_message = '', updated_at = ?
WHERE id = ?`, indexedAt.UnixNano(), chunkCount, r.clock().UnixNano(), id)
}

// MarkFailed records a failed run. last_indexed_at and chunk_count keep
// describing the previous successful run.
func (r *SQLiteRegistry) MarkFailed(ctx context.Context, id string, message string) error {
	return r.update(ctx, id, `
UPDATE sources SET status = 'FAILED', error_message = ?, updated_at = ? WHERE id = ?`,
		message, r.clock().UnixNano(), id)
}

func (r *SQLiteRegistry) update(ctx context.Context, id, query string, args ...any) error {
	res, err := r.db.SQL().ExecContext(ctx, strings.TrimSpace(query), args...)
	if err != nil {
		return store.Classify(fmt.Errorf("registry: update %s: %w", id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

// ResetStale moves every INDEXING source to FAILED.
func (r *SQLiteRegistry) ResetStale(ctx context.Context, message string) (int, error) {
	res, err := r.db.SQL().ExecContext(ctx,
		`UPDATE sources SET status = 'FAILED', error_message = ?, updated_at = ? WHERE status = 'INDEXING'`,
		message, r.clock().UnixNano())
	if err != nil {
		return 0, store.Classify(fmt.Errorf("registry: reset stale: %w", err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close is a no-op; the database belongs to whoever opened it.
func (r *SQLiteRegistry) Close() error { return nil }
