package store

import (
	"context"
	"sync"
	"time"
)

// subscriptionReadTimeout bounds each snapshot read made on behalf of a
// subscriber.
const subscriptionReadTimeout = 5 * time.Second

// ReadFunc loads the snapshot of a cleaned path.
type ReadFunc func(ctx context.Context, path string) (Snapshot, error)

// Hub fans write notifications out to subscribers.  Each subscriber gets its
// own goroutine; wake-ups are coalesced, so a burst of writes costs at most
// one extra read per subscriber and the callback always sees the latest tree.
//
// Callbacks for a single subscription never run concurrently.
type Hub struct {
	read ReadFunc

	mu     sync.Mutex
	subs   map[*hubSub]struct{}
	closed bool
}

func NewHub(read ReadFunc) *Hub {
	return &Hub{read: read, subs: make(map[*hubSub]struct{})}
}

type hubSub struct {
	hub  *Hub
	path string
	fn   SnapshotFunc
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Subscribe registers fn for path and schedules the initial delivery.
func (h *Hub) Subscribe(path string, fn SnapshotFunc) Subscription {
	s := &hubSub{
		hub:  h,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	clean, err := CleanPath(path)
	if err != nil {
		go fn(Snapshot{Path: path}, err)
		s.stop()
		return s
	}
	s.path = clean

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.stop()
		return s
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	s.signal()
	go s.run()
	return s
}

// Notify wakes every subscriber whose subtree overlaps one of paths.
func (h *Hub) Notify(paths ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		for _, p := range paths {
			if Overlaps(p, s.path) {
				s.signal()
				break
			}
		}
	}
}

// NotifyAll wakes every subscriber.  Used when the store learns that something
// changed without knowing where.
func (h *Hub) NotifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.signal()
	}
}

// Close stops every subscription.  Subscribe after Close returns an inert
// subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*hubSub]struct{})
	h.closed = true
	h.mu.Unlock()

	for s := range subs {
		s.stop()
	}
}

func (s *hubSub) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *hubSub) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *hubSub) Unsubscribe() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()
	s.stop()
}

func (s *hubSub) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		ctx, cancel := context.WithTimeout(context.Background(), subscriptionReadTimeout)
		snap, err := s.hub.read(ctx, s.path)
		cancel()

		select {
		case <-s.done:
			return
		default:
		}
		if err != nil {
			snap = Snapshot{Path: s.path}
		}
		s.fn(snap, err)
	}
}
