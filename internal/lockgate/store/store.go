package store

import (
	"context"
	"errors"
)

var (
	ErrInvalidPath = errors.New("invalid state path")
	ErrClosed      = errors.New("state store closed")
)

// Snapshot is the full value of a subtree at the time it was read.  Value is
// nil when nothing is stored at or below Path; otherwise it is a scalar
// (string, bool, int64, float64) or a map[string]any of nested values.
type Snapshot struct {
	Path  string
	Value any
}

func (s Snapshot) Exists() bool {
	if s.Value == nil {
		return false
	}
	if m, ok := s.Value.(map[string]any); ok {
		return len(m) > 0
	}
	return true
}

// Children returns the child map of an object snapshot, or nil for scalars
// and absent values.
func (s Snapshot) Children() map[string]any {
	m, _ := s.Value.(map[string]any)
	return m
}

// String returns the scalar string value, if that is what is stored.
func (s Snapshot) String() (string, bool) {
	v, ok := s.Value.(string)
	return v, ok
}

// Subscription is returned by StateStore.Subscribe.
type Subscription interface {
	Unsubscribe()
}

// SnapshotFunc receives the full subtree under the subscribed path.  err is
// non-nil when the store could not read the subtree; Snapshot is then empty.
type SnapshotFunc func(Snapshot, error)

// StateStore is the shared, hierarchical key-value tree the gateway uses as
// both the command channel to lock hardware and the audit log.  Paths are
// "/"-separated; "" addresses the root.
//
// Writes replace the whole subtree at path.  Writing nil (or an empty map)
// deletes it.  Subscriptions receive a first snapshot at subscribe time and a
// fresh one after every write that touches the subscribed subtree, whoever the
// writer was.
type StateStore interface {
	Set(ctx context.Context, path string, value any) error
	// Update applies several Sets atomically.  Keys are paths relative to
	// base.
	Update(ctx context.Context, base string, values map[string]any) error
	// Push stores value under a new, store-generated, time-ordered child key
	// of path and returns that key.
	Push(ctx context.Context, path string, value any) (string, error)
	Get(ctx context.Context, path string) (Snapshot, error)
	Subscribe(path string, fn SnapshotFunc) Subscription
}
