package db_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/BrandonDHaskell/lockgate/internal/codec"
	"github.com/BrandonDHaskell/lockgate/internal/db"
)

func openTemp(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(context.Background(), db.Config{
		Path: filepath.Join(t.TempDir(), "nested", "lockgate.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// ── Open / Migrate ───────────────────────────────────────────────────────────

func TestOpen_CreatesDirAndSchema(t *testing.T) {
	conn := openTemp(t)

	for _, table := range []string{"state_nodes", "accounts", "schema_migrations"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrate_IsIdempotent(t *testing.T) {
	conn := openTemp(t)

	if err := db.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 applied migration, got %d", n)
	}
}

// ── Worker ───────────────────────────────────────────────────────────────────

func TestWorker_CommitsAndRollsBack(t *testing.T) {
	conn := openTemp(t)
	w := db.NewWorker(conn)
	defer w.Close()
	ctx := context.Background()

	err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO state_nodes(path, value, updated_at_ms) VALUES ('a', x'00', 1)`)
		return err
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	boom := errors.New("boom")
	err = w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO state_nodes(path, value, updated_at_ms) VALUES ('b', x'00', 1)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM state_nodes`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the committed row, got %d rows", n)
	}
}

func TestWorker_SerializesConcurrentWriters(t *testing.T) {
	conn := openTemp(t)
	w := db.NewWorker(conn)
	defer w.Close()

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- w.Do(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
				var n int
				if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM state_nodes`).Scan(&n); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx,
					`INSERT INTO state_nodes(path, value, updated_at_ms) VALUES (?, x'00', 1)`,
					"n/"+strconv.Itoa(n))
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
	}

	var n int
	_ = conn.QueryRow(`SELECT COUNT(*) FROM state_nodes`).Scan(&n)
	if n != writers {
		t.Fatalf("expected %d rows, got %d", writers, n)
	}
}

func TestWorker_ClosedAndCancelled(t *testing.T) {
	conn := openTemp(t)
	w := db.NewWorker(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Do(ctx, func(context.Context, *sql.Tx) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	w.Close()
	w.Close()
	err = w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	if !errors.Is(err, db.ErrWorkerClosed) {
		t.Fatalf("expected ErrWorkerClosed, got %v", err)
	}
}

// ── SeedDev ──────────────────────────────────────────────────────────────────

func TestSeedDev_IdleCommandsWithoutOverwrite(t *testing.T) {
	conn := openTemp(t)
	ctx := context.Background()

	open, _ := codec.EncodeLeaf("1")
	if _, err := conn.Exec(`INSERT INTO state_nodes(path, value, updated_at_ms) VALUES ('lockers/B/open', ?, 1)`, open); err != nil {
		t.Fatalf("pre-seed: %v", err)
	}

	if err := db.SeedDev(ctx, conn, db.SeedDevOptions{Lockers: []string{"A", " B ", ""}}); err != nil {
		t.Fatalf("SeedDev: %v", err)
	}
	if err := db.SeedDev(ctx, conn, db.SeedDevOptions{Lockers: []string{"A"}}); err != nil {
		t.Fatalf("SeedDev again: %v", err)
	}

	read := func(path string) any {
		var b []byte
		if err := conn.QueryRow(`SELECT value FROM state_nodes WHERE path = ?`, path).Scan(&b); err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		v, err := codec.DecodeLeaf(b)
		if err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
		return v
	}
	if v := read("lockers/A/open"); v != "0" {
		t.Errorf("A = %#v, want \"0\"", v)
	}
	if v := read("lockers/B/open"); v != "1" {
		t.Errorf("B = %#v, existing value must be kept", v)
	}
}
