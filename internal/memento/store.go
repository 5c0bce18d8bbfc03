// Package memento provides durable key/value persistence for registry
// state that must survive restarts, keyed by scope. Values are arbitrary
// JSON-serializable data.
package memento

import "errors"

// ErrClosed is returned when operating on a closed store.
var ErrClosed = errors.New("memento store is closed")

// Scope partitions mementos by lifetime and visibility.
type Scope string

const (
	// ScopeApplication is shared across all workspaces.
	ScopeApplication Scope = "application"
	// ScopeWorkspace is private to a single workspace.
	ScopeWorkspace Scope = "workspace"
)

// Memento is a mutable key/value bag. Mutations are visible immediately to
// other holders of the same scope; Save flushes them to durable storage.
type Memento map[string]any

// Store hands out scoped mementos and persists them on demand.
type Store interface {
	// GetMemento returns the mutable memento for a scope. Repeated calls
	// with the same scope return the same underlying map.
	GetMemento(scope Scope) Memento

	// Save durably persists all scopes.
	Save() error

	// Close releases underlying resources. The store must not be used
	// after Close.
	Close() error
}
