package extensions

import "sync"

// Feed is a full-replace declaration feed with a single-handler
// subscription contract: SetHandler replaces any previous handler, and a
// batch published before a handler exists is replayed to the handler on
// subscription so late subscribers never miss the current state.
type Feed[T any] struct {
	mu      sync.Mutex
	handler func([]T)
	last    []T
	seeded  bool
}

// NewFeed creates an empty feed.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{}
}

// SetHandler installs the batch handler, replaying the most recent batch
// if one was published already.
func (f *Feed[T]) SetHandler(handler func([]T)) {
	f.mu.Lock()
	f.handler = handler
	replay := f.seeded
	batch := f.last
	f.mu.Unlock()

	if replay && handler != nil {
		handler(batch)
	}
}

// Publish delivers a full-replace batch to the subscribed handler.
func (f *Feed[T]) Publish(batch []T) {
	f.mu.Lock()
	f.last = batch
	f.seeded = true
	handler := f.handler
	f.mu.Unlock()

	if handler != nil {
		handler(batch)
	}
}
