// Package kernelstore holds live kernel-provider registrations. Unlike the
// provider info store these are not persisted; a provider exists only while
// the caller holds the disposal handle returned by Add.
package kernelstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/zjrosen/plume/internal/editortypes"
	"github.com/zjrosen/plume/internal/log"
	"github.com/zjrosen/plume/internal/notebook"
	"github.com/zjrosen/plume/internal/pubsub"
)

// Provider is a live kernel-provider registration. ProvideKernels
// enumerates the kernels the provider offers for a resource.
type Provider struct {
	ViewType       string
	Selector       notebook.Selector
	Extension      notebook.ExtensionMeta
	Description    string
	ProvideKernels func(ctx context.Context, resource notebook.Resource) ([]notebook.Kernel, error)
}

// Store is the kernel provider store. Every add and remove republishes the
// full record sequence to the schema sink and emits a change event, which
// downstream caches use for invalidation.
type Store struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]Provider
	sink      editortypes.SchemaSink
	broker    *pubsub.Broker[struct{}]
}

// New creates a kernel store that republishes records into sink.
func New(sink editortypes.SchemaSink) *Store {
	return &Store{
		providers: make(map[string]Provider),
		sink:      sink,
		broker:    pubsub.NewBroker[struct{}](),
	}
}

// Add registers a provider and returns a disposal handle that removes it.
// Disposing twice is safe.
func (s *Store) Add(p Provider) func() {
	handle := uuid.NewString()

	s.mu.Lock()
	s.providers[handle] = p
	s.order = append(s.order, handle)
	s.mu.Unlock()

	log.Debug(log.CatKernel, "kernel provider added", "extension", p.Extension.ID, "viewType", p.ViewType)
	s.republish()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(handle) })
	}
}

func (s *Store) remove(handle string) {
	s.mu.Lock()
	p, exists := s.providers[handle]
	if exists {
		delete(s.providers, handle)
		for i, h := range s.order {
			if h == handle {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if !exists {
		return
	}
	log.Debug(log.CatKernel, "kernel provider removed", "extension", p.Extension.ID)
	s.republish()
}

// republish rebuilds the ordered record sequence for the schema sink and
// notifies change subscribers. Record order mirrors registration order.
func (s *Store) republish() {
	s.mu.RLock()
	records := make([]editortypes.KernelRecord, 0, len(s.order))
	for _, handle := range s.order {
		p := s.providers[handle]
		records = append(records, editortypes.KernelRecord{
			ID:          p.Extension.ID,
			Description: p.Description,
		})
	}
	s.mu.RUnlock()

	s.sink.SetKernelRecords(records)
	s.broker.Publish(pubsub.ChangedEvent, struct{}{})
}

// Get returns all providers matching the view type and resource, in
// registration order. A provider with an empty view type matches any view
// type; an empty selector matches any resource.
func (s *Store) Get(viewType string, resource notebook.Resource) []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Provider
	for _, handle := range s.order {
		p := s.providers[handle]
		if p.ViewType != "" && p.ViewType != viewType {
			continue
		}
		if p.Selector != (notebook.Selector{}) && !p.Selector.Matches(resource) {
			continue
		}
		result = append(result, p)
	}
	return result
}

// GetContributedKernelProviders returns a snapshot of every registered
// provider. Mutating the snapshot does not affect the store.
func (s *Store) GetContributedKernelProviders() []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Provider, 0, len(s.order))
	for _, handle := range s.order {
		result = append(result, s.providers[handle])
	}
	return result
}

// Subscribe delivers a change event whenever the registration set mutates.
// The subscription ends when ctx is done.
func (s *Store) Subscribe(ctx context.Context) <-chan pubsub.Event[struct{}] {
	return s.broker.Subscribe(ctx)
}
