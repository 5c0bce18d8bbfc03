package memento

import "sync"

// memoryStore is an in-memory Store for tests and ephemeral sessions.
type memoryStore struct {
	mu     sync.Mutex
	scopes map[Scope]Memento
	saves  int
}

// NewInMemoryStore creates a Store that never touches disk.
func NewInMemoryStore() Store {
	return &memoryStore{scopes: make(map[Scope]Memento)}
}

func (s *memoryStore) GetMemento(scope Scope) Memento {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.scopes[scope]
	if !ok {
		m = make(Memento)
		s.scopes[scope] = m
	}
	return m
}

func (s *memoryStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

func (s *memoryStore) Close() error { return nil }
