// Package providerstore holds the declarative notebook document-provider
// registrations and matches them against resource URIs. The store is
// durable: every mutation is written through to the memento store, and the
// persisted set is loaded at construction so cached associations are
// available before any extension finishes activating.
package providerstore

import (
	"encoding/json"
	"sync"

	"github.com/zjrosen/plume/internal/extensions"
	"github.com/zjrosen/plume/internal/log"
	"github.com/zjrosen/plume/internal/memento"
	"github.com/zjrosen/plume/internal/notebook"
)

// StorageKey is the fixed memento key under which provider infos persist,
// as a JSON-serializable array.
const StorageKey = "notebook.viewTypeProviders"

// Store is the provider info store. View types are unique; the first
// registration for a view type wins.
type Store struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]notebook.ProviderInfo
	mementos  memento.Store
	handled   bool
}

// New creates a Store backed by the given memento store and loads any
// previously persisted registrations.
func New(mementos memento.Store) *Store {
	s := &Store{
		providers: make(map[string]notebook.ProviderInfo),
		mementos:  mementos,
	}
	s.load()
	return s
}

func (s *Store) load() {
	m := s.mementos.GetMemento(memento.ScopeWorkspace)
	raw, ok := m[StorageKey]
	if !ok {
		return
	}

	// The memento value round-trips through JSON; re-encode to decode into
	// typed records regardless of whether it was just stored or loaded.
	data, err := json.Marshal(raw)
	if err != nil {
		log.Warn(log.CatProvider, "ignoring unreadable persisted providers", "error", err)
		return
	}
	var infos []notebook.ProviderInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		log.Warn(log.CatProvider, "ignoring malformed persisted providers", "error", err)
		return
	}

	for _, info := range infos {
		if _, exists := s.providers[info.ViewType]; exists {
			continue
		}
		s.providers[info.ViewType] = info
		s.order = append(s.order, info.ViewType)
	}
	log.Debug(log.CatProvider, "loaded persisted providers", "count", len(s.order))
}

// persist writes the current registration set through to the memento
// store. Callers must hold s.mu.
func (s *Store) persist() {
	infos := s.snapshotLocked()
	m := s.mementos.GetMemento(memento.ScopeWorkspace)
	m[StorageKey] = infos
	if err := s.mementos.Save(); err != nil {
		log.ErrorErr(log.CatProvider, "persisting providers failed", err)
	}
}

func (s *Store) snapshotLocked() []notebook.ProviderInfo {
	infos := make([]notebook.ProviderInfo, 0, len(s.order))
	for _, viewType := range s.order {
		infos = append(infos, s.providers[viewType])
	}
	return infos
}

// SetupHandler atomically replaces the whole registration set from a batch
// of extension-declared contributions and marks the store as handled,
// which suppresses the clear-on-first-activation fallback.
func (s *Store) SetupHandler(declarations []extensions.NotebookDocumentContribution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handled = true
	s.order = nil
	s.providers = make(map[string]notebook.ProviderInfo)

	for _, decl := range declarations {
		if _, exists := s.providers[decl.ViewType]; exists {
			continue
		}
		info := notebook.ProviderInfo{
			ViewType:    decl.ViewType,
			DisplayName: decl.DisplayName,
			Selectors:   decl.Selectors,
			Priority:    notebook.ParsePriority(decl.Priority),
			Extension:   decl.Extension,
			Exclusive:   decl.Exclusive,
		}
		s.providers[decl.ViewType] = info
		s.order = append(s.order, decl.ViewType)
	}

	log.Debug(log.CatProvider, "replaced provider registrations", "count", len(s.order))
	s.persist()
}

// Add inserts a provider if its view type is not present. Re-adding an
// existing view type is a no-op that leaves the original entry untouched.
func (s *Store) Add(info notebook.ProviderInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.providers[info.ViewType]; exists {
		return
	}
	s.providers[info.ViewType] = info
	s.order = append(s.order, info.ViewType)
	s.persist()
}

// UpdateSelectors refreshes the stored selectors of an existing entry.
// Used when a live controller re-registers with fresh view options.
func (s *Store) UpdateSelectors(viewType string, selectors []notebook.Selector) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, exists := s.providers[viewType]
	if !exists {
		return
	}
	info.Selectors = selectors
	s.providers[viewType] = info
	s.persist()
}

// Get returns the provider registered for the exact view type.
func (s *Store) Get(viewType string) (notebook.ProviderInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.providers[viewType]
	return info, ok
}

// GetContributedNotebook returns every provider whose selector set matches
// the resource, in registration order. Resources in the untitled scheme
// match unconditionally: a new, unsaved document has no path to match.
func (s *Store) GetContributedNotebook(resource notebook.Resource) []notebook.ProviderInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matchAll := resource.Scheme() == notebook.SchemeUntitled

	var result []notebook.ProviderInfo
	for _, viewType := range s.order {
		info := s.providers[viewType]
		if matchAll || info.MatchesResource(resource) {
			result = append(result, info)
		}
	}
	return result
}

// List returns all registrations in registration order.
func (s *Store) List() []notebook.ProviderInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Clear empties the registration set. Used when the extension host
// reports no declarations, so stale cached associations do not survive.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.providers = make(map[string]notebook.ProviderInfo)
	s.persist()
}

// OnExtensionsRegistered self-heals stale persisted state: if every
// installed extension registered without SetupHandler ever being called,
// nothing contributes notebooks anymore and the cache is cleared.
func (s *Store) OnExtensionsRegistered() {
	s.mu.Lock()
	handled := s.handled
	s.mu.Unlock()

	if !handled {
		log.Info(log.CatProvider, "no provider declarations after activation, clearing cache")
		s.Clear()
	}
}
