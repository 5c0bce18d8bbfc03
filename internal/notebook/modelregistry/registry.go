// Package modelregistry owns the set of live notebook document models,
// keyed by resource URI. It is the only component that creates and disposes
// documents; everyone else borrows them through Get.
package modelregistry

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/zjrosen/plume/internal/log"
	"github.com/zjrosen/plume/internal/notebook"
	"github.com/zjrosen/plume/internal/pubsub"
)

// ErrAlreadyExists indicates a model is already registered for the URI.
var ErrAlreadyExists = errors.New("a notebook model already exists for this URI")

// Registry is the URI-keyed document model registry. Removal is two-phase:
// a document leaves the index while it is still fully readable, then its
// state is torn down. Lookups therefore never observe a half-disposed model.
type Registry struct {
	mu     sync.RWMutex
	models map[notebook.Resource]*notebook.Document
	broker *pubsub.Broker[*notebook.Document]
}

// New creates an empty model registry.
func New() *Registry {
	return &Registry{
		models: make(map[notebook.Resource]*notebook.Document),
		broker: pubsub.NewBroker[*notebook.Document](),
	}
}

// Create builds a document from an opened payload and indexes it. The add
// event is published before Create returns. Creating a second model for the
// same URI fails with ErrAlreadyExists.
func (r *Registry) Create(viewType string, uri notebook.Resource, data notebook.NotebookData, transient notebook.TransientOptions) (*notebook.Document, error) {
	r.mu.Lock()
	if _, exists := r.models[uri]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	doc := notebook.NewDocument(viewType, uri, data, transient)
	r.models[uri] = doc
	r.mu.Unlock()

	// Phase one of removal: the will-dispose signal fires before document
	// state is released, so the model leaves the index while still readable.
	doc.OnWillDispose(func() {
		r.mu.Lock()
		delete(r.models, uri)
		r.mu.Unlock()
		r.broker.Publish(pubsub.RemovedEvent, doc)
		log.Debug(log.CatModel, "notebook model removed", "uri", uri)
	})

	log.Debug(log.CatModel, "notebook model created", "uri", uri, "viewType", viewType, "cells", doc.CellCount())
	r.broker.Publish(pubsub.AddedEvent, doc)
	return doc, nil
}

// Get returns the live model for the URI, if any.
func (r *Registry) Get(uri notebook.Resource) (*notebook.Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.models[uri]
	return doc, ok
}

// GetAll iterates over the live models. The snapshot is taken once, so
// disposal during iteration does not panic the loop.
func (r *Registry) GetAll() iter.Seq[*notebook.Document] {
	r.mu.RLock()
	docs := make([]*notebook.Document, 0, len(r.models))
	for _, doc := range r.models {
		docs = append(docs, doc)
	}
	r.mu.RUnlock()

	return func(yield func(*notebook.Document) bool) {
		for _, doc := range docs {
			if !yield(doc) {
				return
			}
		}
	}
}

// List returns the URIs of all live models.
func (r *Registry) List() []notebook.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uris := make([]notebook.Resource, 0, len(r.models))
	for uri := range r.models {
		uris = append(uris, uri)
	}
	return uris
}

// Len returns the number of live models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// Destroy disposes the model for the URI. It reports whether a model was
// found; destroying an unknown URI is a no-op.
func (r *Registry) Destroy(uri notebook.Resource) bool {
	r.mu.RLock()
	doc, ok := r.models[uri]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	doc.Dispose()
	return true
}

// Subscribe delivers add and remove events for document models. The
// subscription ends when ctx is done.
func (r *Registry) Subscribe(ctx context.Context) <-chan pubsub.Event[*notebook.Document] {
	return r.broker.Subscribe(ctx)
}
