// Package editortypes is the registration sink through which subsystems
// announce the editor types and kernel providers they contribute. External
// consumers (schema description, editor pickers) read the aggregated view;
// they never talk to the individual stores.
package editortypes

import (
	"sync"
)

// EditorType is one selectable editor surface.
type EditorType struct {
	ID          string
	DisplayName string
}

// Handler exposes the editor types a subsystem currently contributes.
type Handler interface {
	GetEditorTypes() []EditorType
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func() []EditorType

func (f HandlerFunc) GetEditorTypes() []EditorType { return f() }

// KernelRecord pairs a kernel provider's extension id with its description.
// Records are published as one ordered sequence so position i always
// describes a single provider.
type KernelRecord struct {
	ID          string
	Description string
}

// SchemaSink receives the current kernel provider records whenever the
// kernel store changes.
type SchemaSink interface {
	SetKernelRecords(records []KernelRecord)
}

// Registry aggregates editor-type handlers and the latest kernel records.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	handlers map[string]Handler
	kernels  []KernelRecord
}

// NewRegistry creates an empty editor-types registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// RegisterEditorTypesHandler registers a named handler. The returned
// function unregisters it. Registering the same name twice replaces the
// handler but keeps its original position.
func (r *Registry) RegisterEditorTypesHandler(name string, h Handler) func() {
	r.mu.Lock()
	if _, exists := r.handlers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.handlers[name] = h
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
}

// EditorTypes returns every contributed editor type, handler registration
// order first, then each handler's own order.
func (r *Registry) EditorTypes() []EditorType {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.order))
	for _, name := range r.order {
		handlers = append(handlers, r.handlers[name])
	}
	r.mu.RUnlock()

	var types []EditorType
	for _, h := range handlers {
		types = append(types, h.GetEditorTypes()...)
	}
	return types
}

// SetKernelRecords replaces the kernel provider records.
func (r *Registry) SetKernelRecords(records []KernelRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kernels = make([]KernelRecord, len(records))
	copy(r.kernels, records)
}

// KernelRecords returns a snapshot of the current kernel records.
func (r *Registry) KernelRecords() []KernelRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := make([]KernelRecord, len(r.kernels))
	copy(records, r.kernels)
	return records
}

var _ SchemaSink = (*Registry)(nil)
