package store_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
)

var errRead = errors.New("read failed")

type delivery struct {
	snap store.Snapshot
	err  error
}

func nextDelivery(t *testing.T, c <-chan delivery) delivery {
	t.Helper()
	select {
	case d := <-c:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return delivery{}
	}
}

// ── read errors ──────────────────────────────────────────────────────────────

func TestHub_ReadErrorDeliversEmptySnapshot(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	h := store.NewHub(func(_ context.Context, p string) (store.Snapshot, error) {
		if fail.Load() {
			return store.Snapshot{Path: "stale", Value: "partial"}, errRead
		}
		return store.Snapshot{Path: p, Value: "ok"}, nil
	})
	defer h.Close()

	got := make(chan delivery, 4)
	sub := h.Subscribe("/openings/", func(snap store.Snapshot, err error) {
		got <- delivery{snap, err}
	})
	defer sub.Unsubscribe()

	d := nextDelivery(t, got)
	if !errors.Is(d.err, errRead) {
		t.Fatalf("err = %v, want errRead", d.err)
	}
	if d.snap.Path != "openings" || d.snap.Value != nil {
		t.Fatalf("snapshot = %#v, want empty snapshot at openings", d.snap)
	}

	fail.Store(false)
	h.Notify("openings/x")
	d = nextDelivery(t, got)
	if d.err != nil || d.snap.Value != "ok" {
		t.Fatalf("delivery = %#v, want recovered read", d)
	}
}

func TestHub_SubscribeAfterCloseDoesNotDeliver(t *testing.T) {
	h := store.NewHub(func(_ context.Context, p string) (store.Snapshot, error) {
		return store.Snapshot{Path: p}, nil
	})
	h.Close()

	got := make(chan delivery, 1)
	sub := h.Subscribe("openings", func(snap store.Snapshot, err error) {
		got <- delivery{snap, err}
	})
	sub.Unsubscribe()

	select {
	case d := <-got:
		t.Fatalf("unexpected delivery: %#v", d)
	case <-time.After(50 * time.Millisecond):
	}
}
