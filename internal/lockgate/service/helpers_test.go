package service_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/service"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store/memory"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/types"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// ── manual scheduler ────────────────────────────────────────────────

// manualScheduler queues timers until the test fires them.  Fired callbacks
// run on the test goroutine.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	s       *manualScheduler
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) service.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (s *manualScheduler) pending() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for _, t := range s.timers {
		if !t.fired && !t.stopped {
			out = append(out, t.d)
		}
	}
	return out
}

// fire runs the oldest pending timer and returns its delay.
func (s *manualScheduler) fire(t *testing.T) time.Duration {
	t.Helper()
	s.mu.Lock()
	var next *manualTimer
	for _, tm := range s.timers {
		if !tm.fired && !tm.stopped {
			next = tm
			break
		}
	}
	if next == nil {
		s.mu.Unlock()
		t.Fatalf("no pending timer to fire")
		return 0
	}
	next.fired = true
	s.mu.Unlock()

	next.f()
	return next.d
}

// ── flaky store ─────────────────────────────────────────────────────

// flakyStore wraps the memory store, records every write, and fails the
// writes matched by its hooks.
type flakyStore struct {
	*memory.StateStore

	mu      sync.Mutex
	writes  []string
	failSet func(path string, value any) error
	failPut func(path string) error
}

func newFlakyStore(t *testing.T) *flakyStore {
	t.Helper()
	ms := memory.NewStateStore()
	t.Cleanup(ms.Close)
	return &flakyStore{StateStore: ms}
}

func (f *flakyStore) Set(ctx context.Context, path string, value any) error {
	f.mu.Lock()
	f.writes = append(f.writes, fmt.Sprintf("set %s=%v", path, value))
	hook := f.failSet
	f.mu.Unlock()
	if hook != nil {
		if err := hook(path, value); err != nil {
			return err
		}
	}
	return f.StateStore.Set(ctx, path, value)
}

func (f *flakyStore) Push(ctx context.Context, path string, value any) (string, error) {
	f.mu.Lock()
	f.writes = append(f.writes, "push "+path)
	hook := f.failPut
	f.mu.Unlock()
	if hook != nil {
		if err := hook(path); err != nil {
			return "", err
		}
	}
	return f.StateStore.Push(ctx, path, value)
}

func (f *flakyStore) writeLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *flakyStore) command(t *testing.T, lockerID string) string {
	t.Helper()
	snap, err := f.Get(context.Background(), store.Join(service.LockersPath, lockerID, "open"))
	if err != nil {
		t.Fatalf("read command: %v", err)
	}
	v, _ := snap.String()
	return v
}

func (f *flakyStore) openings(t *testing.T) map[string]any {
	t.Helper()
	snap, err := f.Get(context.Background(), service.OpeningsPath)
	if err != nil {
		t.Fatalf("read openings: %v", err)
	}
	return snap.Children()
}

// failOn returns a failSet hook that rejects writes of value to path.
func failOn(path, value string, err error) func(string, any) error {
	return func(p string, v any) error {
		if p == path && v == value {
			return err
		}
		return nil
	}
}

// ── identity ────────────────────────────────────────────────────────

type fixedIdentity struct {
	id *types.Identity
}

func (f fixedIdentity) Current() (types.Identity, bool) {
	if f.id == nil {
		return types.Identity{}, false
	}
	return *f.id, true
}

func signedIn(email string) fixedIdentity {
	return fixedIdentity{id: &types.Identity{UID: "uid-" + email, Email: email}}
}

// ── status recorder ─────────────────────────────────────────────────

type recorder struct {
	ch chan types.StatusChange
}

func record(m *service.Machine) *recorder {
	r := &recorder{ch: make(chan types.StatusChange, 64)}
	m.Subscribe(func(c types.StatusChange) { r.ch <- c })
	return r
}

func (r *recorder) next(t *testing.T) types.StatusChange {
	t.Helper()
	select {
	case c := <-r.ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for status change")
		return types.StatusChange{}
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-r.ch:
		t.Fatalf("unexpected status change: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

// ── machine fixture ─────────────────────────────────────────────────

const testLocker = "A"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestMachine(t *testing.T, st store.StateStore, identity service.IdentitySource) (*service.Machine, *manualScheduler) {
	t.Helper()
	sched := &manualScheduler{}
	m := service.NewMachine(service.MachineConfig{
		LockerID:  testLocker,
		Scheduler: sched,
		Now:       func() time.Time { return fixedNow },
	}, st, identity, service.AccessPolicy{}, silentLogger())
	t.Cleanup(m.Close)
	return m, sched
}
