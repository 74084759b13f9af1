package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
)

// StateStore is an in-memory state tree.  It is intended for tests and dev
// environments; semantics match the sqlite store leaf for leaf.
type StateStore struct {
	mu     sync.RWMutex
	leaves map[string]any
	hub    *store.Hub
}

func NewStateStore() *StateStore {
	s := &StateStore{leaves: make(map[string]any)}
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

// Close stops all subscriptions.
func (s *StateStore) Close() {
	s.hub.Close()
}

func (s *StateStore) read(ctx context.Context, path string) (store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return store.Snapshot{Path: path}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.Snapshot{Path: path, Value: store.Assemble(path, s.leaves)}, nil
}

func (s *StateStore) apply(ctx context.Context, writes []store.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	for _, w := range writes {
		for k := range s.leaves {
			if store.IsUnder(k, w.Path) {
				delete(s.leaves, k)
			}
		}
		for _, a := range store.Ancestors(w.Path) {
			delete(s.leaves, a)
		}
		for k, v := range w.Leaves {
			s.leaves[k] = v
		}
	}
	s.mu.Unlock()

	s.hub.Notify(store.Paths(writes)...)
	return nil
}
