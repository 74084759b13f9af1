package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/BrandonDHaskell/lockgate/internal/codec"
	dbpkg "github.com/BrandonDHaskell/lockgate/internal/db"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
)

// StateStore keeps the state tree in the state_nodes table, one row per leaf.
// Writes from this process notify subscribers directly; writes from other
// processes sharing the database file are picked up by WatchExternal.
type StateStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
	hub    *store.Hub
}

func NewStateStore(db *sql.DB, writer *dbpkg.Worker) *StateStore {
	s := &StateStore{db: db, writer: writer}
	s.hub = store.NewHub(s.read)
	return s
}

func (s *StateStore) Set(ctx context.Context, path string, value any) error {
	w, err := store.PlanSet(path, value)
	if err != nil {
		return err
	}
	return s.apply(ctx, []store.Write{w})
}

func (s *StateStore) Update(ctx context.Context, base string, values map[string]any) error {
	writes, err := store.PlanUpdate(base, values)
	if err != nil {
		return err
	}
	return s.apply(ctx, writes)
}

func (s *StateStore) Push(ctx context.Context, path string, value any) (string, error) {
	id := store.NewID()
	w, err := store.PlanSet(store.Join(path, id), value)
	if err != nil {
		return "", err
	}
	if err := s.apply(ctx, []store.Write{w}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *StateStore) Get(ctx context.Context, path string) (store.Snapshot, error) {
	clean, err := store.CleanPath(path)
	if err != nil {
		return store.Snapshot{Path: path}, err
	}
	return s.read(ctx, clean)
}

func (s *StateStore) Subscribe(path string, fn store.SnapshotFunc) store.Subscription {
	return s.hub.Subscribe(path, fn)
}

// Close stops all subscriptions.  The *sql.DB and worker belong to the caller.
func (s *StateStore) Close() {
	s.hub.Close()
}

// WatchExternal polls PRAGMA data_version, which sqlite bumps whenever another
// connection commits, and wakes every subscriber when it moves.  It returns
// immediately; polling stops when ctx is cancelled.
func (s *StateStore) WatchExternal(ctx context.Context, interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		return
	}

	go func() {
		last, err := s.dataVersion(ctx)
		if err != nil && logger != nil {
			logger.Printf("state watch: initial data_version: %v", err)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			v, err := s.dataVersion(ctx)
			if err != nil {
				if logger != nil && ctx.Err() == nil {
					logger.Printf("state watch: data_version: %v", err)
				}
				continue
			}
			if v != last {
				last = v
				s.hub.NotifyAll()
			}
		}
	}()
}

func (s *StateStore) dataVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA data_version;").Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// subtreeClause matches path itself and everything below it.  '0' is the
// byte after '/', so the range covers exactly the "path/..." keys.
const subtreeClause = `(path = ? OR (path >= ? AND path < ?))`

func subtreeArgs(path string) []any {
	return []any{path, path + "/", path + "0"}
}

func (s *StateStore) read(ctx context.Context, path string) (store.Snapshot, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if path == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT path, value FROM state_nodes;`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT path, value FROM state_nodes WHERE `+subtreeClause+`;`,
			subtreeArgs(path)...)
	}
	if err != nil {
		return store.Snapshot{Path: path}, fmt.Errorf("state read %q: %w", path, err)
	}
	defer rows.Close()

	leaves := make(map[string]any)
	for rows.Next() {
		var (
			p   string
			raw []byte
		)
		if err := rows.Scan(&p, &raw); err != nil {
			return store.Snapshot{Path: path}, fmt.Errorf("state read %q scan: %w", path, err)
		}
		v, err := codec.DecodeLeaf(raw)
		if err != nil {
			return store.Snapshot{Path: path}, fmt.Errorf("state read %q decode %s: %w", path, p, err)
		}
		leaves[p] = v
	}
	if err := rows.Err(); err != nil {
		return store.Snapshot{Path: path}, fmt.Errorf("state read %q: %w", path, err)
	}

	return store.Snapshot{Path: path, Value: store.Assemble(path, leaves)}, nil
}

type encodedLeaf struct {
	path  string
	value []byte
}

func (s *StateStore) apply(ctx context.Context, writes []store.Write) error {
	encoded := make([][]encodedLeaf, len(writes))
	for i, w := range writes {
		for p, v := range w.Leaves {
			b, err := codec.EncodeLeaf(v)
			if err != nil {
				return fmt.Errorf("state write %q: %w", p, err)
			}
			encoded[i] = append(encoded[i], encodedLeaf{path: p, value: b})
		}
	}

	nowMs := time.Now().UTC().UnixMilli()
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for i, w := range writes {
			if w.Path == "" {
				if _, err := tx.ExecContext(ctx, `DELETE FROM state_nodes;`); err != nil {
					return fmt.Errorf("state write clear root: %w", err)
				}
			} else {
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM state_nodes WHERE `+subtreeClause+`;`,
					subtreeArgs(w.Path)...); err != nil {
					return fmt.Errorf("state write clear %q: %w", w.Path, err)
				}
				// A scalar stored above the target would shadow the new subtree.
				for _, a := range store.Ancestors(w.Path) {
					if _, err := tx.ExecContext(ctx, `DELETE FROM state_nodes WHERE path = ?;`, a); err != nil {
						return fmt.Errorf("state write clear ancestor %q: %w", a, err)
					}
				}
			}

			for _, leaf := range encoded[i] {
				if _, err := tx.ExecContext(ctx, `
INSERT INTO state_nodes(path, value, updated_at_ms) VALUES (?, ?, ?);
`, leaf.path, leaf.value, nowMs); err != nil {
					return fmt.Errorf("state write insert %q: %w", leaf.path, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.hub.Notify(store.Paths(writes)...)
	return nil
}
