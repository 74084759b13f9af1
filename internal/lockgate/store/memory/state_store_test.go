package memory_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store/memory"
)

func newStore(t *testing.T) *memory.StateStore {
	t.Helper()
	s := memory.NewStateStore()
	t.Cleanup(s.Close)
	return s
}

// snapshots collects subscription deliveries.
type snapshots chan store.Snapshot

func (c snapshots) fn(snap store.Snapshot, err error) {
	if err == nil {
		c <- snap
	}
}

func (c snapshots) next(t *testing.T) store.Snapshot {
	t.Helper()
	select {
	case s := <-c:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return store.Snapshot{}
	}
}

func (c snapshots) none(t *testing.T) {
	t.Helper()
	select {
	case s := <-c:
		t.Fatalf("unexpected snapshot: %#v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

// ── Set / Get ────────────────────────────────────────────────────────────────

func TestStateStore_SetGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "lockers/A/open", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	snap, err := s.Get(ctx, "lockers/A/open")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v, ok := snap.String(); !ok || v != "1" {
		t.Fatalf("expected \"1\", got %#v", snap.Value)
	}

	snap, err = s.Get(ctx, "lockers")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := map[string]any{"A": map[string]any{"open": "1"}}
	if !reflect.DeepEqual(snap.Value, want) {
		t.Fatalf("lockers = %#v", snap.Value)
	}
}

func TestStateStore_SetReplacesSubtree(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "users/u1", map[string]any{"name": "Ada", "settings": map[string]any{"autoLock": true}})
	if err := s.Set(ctx, "users/u1", map[string]any{"name": "Grace"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	snap, _ := s.Get(ctx, "users/u1")
	if !reflect.DeepEqual(snap.Value, map[string]any{"name": "Grace"}) {
		t.Fatalf("expected settings to be replaced, got %#v", snap.Value)
	}

	// A scalar written below an existing scalar replaces it.
	_ = s.Set(ctx, "x", "scalar")
	_ = s.Set(ctx, "x/y", true)
	snap, _ = s.Get(ctx, "x")
	if !reflect.DeepEqual(snap.Value, map[string]any{"y": true}) {
		t.Fatalf("x = %#v", snap.Value)
	}
}

func TestStateStore_SetNilDeletes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "lockers/A/open", "0")
	if err := s.Set(ctx, "lockers/A", nil); err != nil {
		t.Fatalf("Set nil: %v", err)
	}
	snap, _ := s.Get(ctx, "lockers")
	if snap.Exists() {
		t.Fatalf("expected lockers to be gone, got %#v", snap.Value)
	}
}

func TestStateStore_InvalidPath(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "bad.path", "x"); !errors.Is(err, store.ErrInvalidPath) {
		t.Fatalf("Set: expected ErrInvalidPath, got %v", err)
	}
	if _, err := s.Get(ctx, "a//b"); !errors.Is(err, store.ErrInvalidPath) {
		t.Fatalf("Get: expected ErrInvalidPath, got %v", err)
	}
}

func TestStateStore_CancelledContext(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Set(ctx, "a", "b"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// ── Update / Push ────────────────────────────────────────────────────────────

func TestStateStore_UpdateIsAtomic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "users/u1/name", "Ada")
	err := s.Update(ctx, "users/u1/settings", map[string]any{
		"autoLock":      false,
		"notifications": true,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	snap, _ := s.Get(ctx, "users/u1")
	want := map[string]any{
		"name":     "Ada",
		"settings": map[string]any{"autoLock": false, "notifications": true},
	}
	if !reflect.DeepEqual(snap.Value, want) {
		t.Fatalf("users/u1 = %#v", snap.Value)
	}

	// A rejected update writes nothing.
	err = s.Update(ctx, "users/u1", map[string]any{"name": "Grace", "bad.key": 1})
	if !errors.Is(err, store.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
	snap, _ = s.Get(ctx, "users/u1/name")
	if v, _ := snap.String(); v != "Ada" {
		t.Fatalf("name changed by rejected update: %q", v)
	}
}

func TestStateStore_PushOrdersKeys(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first, err := s.Push(ctx, "openings", map[string]any{"method": "remote"})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	second, err := s.Push(ctx, "openings", map[string]any{"method": "nfc"})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if first >= second {
		t.Fatalf("push keys not ordered: %s, %s", first, second)
	}

	snap, _ := s.Get(ctx, "openings")
	if n := len(snap.Children()); n != 2 {
		t.Fatalf("expected 2 openings, got %d", n)
	}
}

// ── Subscribe ────────────────────────────────────────────────────────────────

func TestStateStore_SubscribeInitialAndChanges(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "lockers/A/open", "0")

	got := make(snapshots, 8)
	sub := s.Subscribe("lockers/A", got.fn)
	defer sub.Unsubscribe()

	first := got.next(t)
	if !reflect.DeepEqual(first.Value, map[string]any{"open": "0"}) {
		t.Fatalf("initial snapshot = %#v", first.Value)
	}

	_ = s.Set(ctx, "lockers/A/open", "1")
	if v := got.next(t).Value; !reflect.DeepEqual(v, map[string]any{"open": "1"}) {
		t.Fatalf("after write = %#v", v)
	}

	// Writes elsewhere do not wake the subscriber.
	_ = s.Set(ctx, "lockers/B/open", "1")
	got.none(t)

	// Writes above the subscribed path do.
	_ = s.Set(ctx, "lockers", nil)
	if snap := got.next(t); snap.Exists() {
		t.Fatalf("expected empty snapshot after delete, got %#v", snap.Value)
	}
}

func TestStateStore_UnsubscribeStopsDelivery(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	got := make(snapshots, 8)
	sub := s.Subscribe("openings", got.fn)
	got.next(t)
	sub.Unsubscribe()

	_, _ = s.Push(ctx, "openings", map[string]any{"method": "remote"})
	got.none(t)
}

func TestStateStore_SubscribeInvalidPathReportsError(t *testing.T) {
	s := newStore(t)

	errs := make(chan error, 1)
	s.Subscribe("a.b", func(_ store.Snapshot, err error) { errs <- err })

	select {
	case err := <-errs:
		if !errors.Is(err, store.ErrInvalidPath) {
			t.Fatalf("expected ErrInvalidPath, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error delivered")
	}
}

func TestStateStore_CloseStopsSubscriptions(t *testing.T) {
	s := memory.NewStateStore()

	got := make(snapshots, 8)
	s.Subscribe("lockers", got.fn)
	got.next(t)
	s.Close()

	_ = s.Set(context.Background(), "lockers/A/open", "1")
	got.none(t)
}

func TestStateStore_UnsubscribeAfterClose(t *testing.T) {
	s := memory.NewStateStore()
	s.Close()

	got := make(snapshots, 1)
	sub := s.Subscribe("openings", got.fn)
	sub.Unsubscribe()
	sub.Unsubscribe()
	got.none(t)
}

func TestStateStore_UnsubscribeInvalidPath(t *testing.T) {
	s := newStore(t)

	errs := make(chan error, 1)
	sub := s.Subscribe("a/../b", func(_ store.Snapshot, err error) { errs <- err })
	sub.Unsubscribe()

	select {
	case err := <-errs:
		if !errors.Is(err, store.ErrInvalidPath) {
			t.Fatalf("err = %v, want ErrInvalidPath", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the path error")
	}
}
