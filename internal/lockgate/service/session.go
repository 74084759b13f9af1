package service

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/types"
)

// Session holds the signed-in identity of a single client (lockctl, or any
// embedding of the core) and implements IdentitySource for its Machines.
type Session struct {
	creds *CredentialService

	mu       sync.Mutex
	current  *types.Identity
	watchers map[int]func(*types.Identity)
	next     int
}

func NewSession(creds *CredentialService) *Session {
	return &Session{creds: creds, watchers: make(map[int]func(*types.Identity))}
}

func (s *Session) Current() (types.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return types.Identity{}, false
	}
	return *s.current, true
}

// SignIn verifies credentials and, on success, makes the account current.
// A failed attempt leaves the previous identity in place.
func (s *Session) SignIn(ctx context.Context, email, password string) (types.Identity, error) {
	id, err := s.creds.SignIn(ctx, email, password)
	if err != nil {
		return types.Identity{}, err
	}
	s.set(&id)
	return id, nil
}

// Adopt makes an already verified identity current, e.g. one recovered from
// a bearer token.
func (s *Session) Adopt(id types.Identity) {
	s.set(&id)
}

func (s *Session) SignOut() {
	s.set(nil)
}

// OnIdentityChange calls fn once with the current identity (nil when signed
// out) and again after every sign-in or sign-out.
func (s *Session) OnIdentityChange(fn func(*types.Identity)) (cancel func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.watchers[id] = fn
	cur := copyIdentity(s.current)
	s.mu.Unlock()

	fn(cur)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) set(id *types.Identity) {
	s.mu.Lock()
	s.current = copyIdentity(id)
	fns := make([]func(*types.Identity), 0, len(s.watchers))
	for i := 0; i < s.next; i++ {
		if fn, ok := s.watchers[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(copyIdentity(id))
	}
}

func copyIdentity(id *types.Identity) *types.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
