package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/54b3r/semsearch/internal/rag"
)

// openTestDB opens an in-memory DB for use in tests.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestStore_MigrateCreatesTables(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)

	for _, table := range []string{"sources", "chunks"} {
		var name string
		err := d.SQL().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "semsearch.db")

	d, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := d.SQL().Exec(`INSERT INTO sources (id, location, status, created_at, updated_at) VALUES ('a','file:///a','PENDING',1,1)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = d.Close()

	d, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	var n int
	if err := d.SQL().QueryRow(`SELECT COUNT(*) FROM sources`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("want 1 source after reopen, got %d", n)
	}
	if d.Path() != path {
		t.Errorf("Path() = %q, want %q", d.Path(), path)
	}
}

func TestStore_StatusCheckConstraint(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)

	_, err := d.SQL().Exec(`INSERT INTO sources (id, location, status, created_at, updated_at) VALUES ('a','x','BOGUS',1,1)`)
	if err == nil {
		t.Fatal("expected CHECK constraint violation")
	}
}

func TestStore_WithTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := d.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sources (id, location, status, created_at, updated_at) VALUES ('a','x','PENDING',1,1)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}

	var n int
	if err := d.SQL().QueryRow(`SELECT COUNT(*) FROM sources`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("want rollback to leave 0 rows, got %d", n)
	}
}

func TestStore_Ping(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)
	if err := d.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestStore_ClassifyPassesThroughPlainErrors(t *testing.T) {
	t.Parallel()
	plain := errors.New("plain")
	if got := Classify(plain); errors.Is(got, rag.ErrStoreUnavailable) {
		t.Error("plain error must not be classified as transient")
	}
	if Classify(nil) != nil {
		t.Error("nil must stay nil")
	}
}
