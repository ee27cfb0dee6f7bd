package session

import (
	"context"
	"sync"
)

// Store keeps the active character of each account context.
type Store interface {
	Active(ctx context.Context, account string) (string, bool, error)
	SetActive(ctx context.Context, account, character string) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.RWMutex
	active map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{active: make(map[string]string)}
}

func (s *MemoryStore) Active(_ context.Context, account string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.active[account]
	return name, ok, nil
}

func (s *MemoryStore) SetActive(_ context.Context, account, character string) error {
	s.mu.Lock()
	s.active[account] = character
	s.mu.Unlock()
	return nil
}
