package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
)

type AccountStore struct {
	mu      sync.RWMutex
	byEmail map[string]store.AccountRecord
}

func NewAccountStore() *AccountStore {
	return &AccountStore{byEmail: make(map[string]store.AccountRecord)}
}

func (s *AccountStore) CreateAccount(_ context.Context, rec store.AccountRecord) error {
	key := strings.ToLower(strings.TrimSpace(rec.Email))
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[key]; ok {
		return store.ErrEmailTaken
	}
	s.byEmail[key] = rec
	return nil
}

func (s *AccountStore) AccountByEmail(_ context.Context, email string) (store.AccountRecord, error) {
	key := strings.ToLower(strings.TrimSpace(email))

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byEmail[key]
	if !ok {
		return store.AccountRecord{}, store.ErrAccountNotFound
	}
	return rec, nil
}
