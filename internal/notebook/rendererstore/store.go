// Package rendererstore holds output renderer registrations keyed by id
// and matches them by exact mime-type membership.
package rendererstore

import (
	"sync"

	"github.com/zjrosen/plume/internal/notebook"
)

// Store is the output renderer store. Renderer ids are unique; the first
// registration for an id wins.
type Store struct {
	mu        sync.RWMutex
	order     []string
	renderers map[string]notebook.RendererInfo
}

// New creates an empty renderer store.
func New() *Store {
	return &Store{renderers: make(map[string]notebook.RendererInfo)}
}

// Add inserts a renderer if its id is not present; otherwise it is a no-op.
func (s *Store) Add(info notebook.RendererInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.renderers[info.ID]; exists {
		return
	}
	s.renderers[info.ID] = info
	s.order = append(s.order, info.ID)
}

// Get returns the renderer registered under the id.
func (s *Store) Get(id string) (notebook.RendererInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.renderers[id]
	return info, ok
}

// GetContributedRenderer returns all renderers whose declared mime-type
// set contains the given value, preserving registration order. Matching
// is exact set membership; no globbing.
func (s *Store) GetContributedRenderer(mimeType string) []notebook.RendererInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []notebook.RendererInfo
	for _, id := range s.order {
		if info := s.renderers[id]; info.Handles(mimeType) {
			result = append(result, info)
		}
	}
	return result
}

// List returns all renderers in registration order.
func (s *Store) List() []notebook.RendererInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]notebook.RendererInfo, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.renderers[id])
	}
	return result
}

// Clear empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.renderers = make(map[string]notebook.RendererInfo)
}
