// Package activation models lazy extension activation. Providers are not
// registered up front; an activation event names the capability a caller
// needs, and any extensions subscribed to that event get a chance to
// register their controllers before the caller proceeds.
package activation

import (
	"context"
	"fmt"
	"sync"

	"github.com/zjrosen/plume/internal/log"
)

// Service is the capability surface the notebook service consumes.
type Service interface {
	// ActivateByEvent runs every handler subscribed to the event.
	// Each event activates at most once; later calls are no-ops.
	ActivateByEvent(ctx context.Context, event string) error

	// WhenInstalledExtensionsRegistered blocks until the extension host
	// reports that all installed extensions have been registered.
	WhenInstalledExtensionsRegistered(ctx context.Context) error
}

// Host is an in-process activation service. Extensions register handlers
// keyed by activation event; the host runs them on first activation.
type Host struct {
	mu        sync.Mutex
	handlers  map[string][]func(ctx context.Context) error
	activated map[string]bool
	registered chan struct{}
	regOnce    sync.Once
}

// NewHost creates an activation host. FinishRegistration must be called
// once the set of installed extensions is known.
func NewHost() *Host {
	return &Host{
		handlers:   make(map[string][]func(ctx context.Context) error),
		activated:  make(map[string]bool),
		registered: make(chan struct{}),
	}
}

// Handle subscribes a handler to an activation event.
func (h *Host) Handle(event string, fn func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = append(h.handlers[event], fn)
}

// FinishRegistration marks all installed extensions as registered,
// releasing every WhenInstalledExtensionsRegistered waiter.
func (h *Host) FinishRegistration() {
	h.regOnce.Do(func() { close(h.registered) })
}

// ActivateByEvent runs the handlers for the event, once per event.
func (h *Host) ActivateByEvent(ctx context.Context, event string) error {
	h.mu.Lock()
	if h.activated[event] {
		h.mu.Unlock()
		return nil
	}
	h.activated[event] = true
	fns := make([]func(ctx context.Context) error, len(h.handlers[event]))
	copy(fns, h.handlers[event])
	h.mu.Unlock()

	log.Debug(log.CatExt, "activating by event", "event", event, "handlers", len(fns))

	for _, fn := range fns {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx); err != nil {
			return fmt.Errorf("activation handler for %q: %w", event, err)
		}
	}
	return nil
}

// WhenInstalledExtensionsRegistered blocks until FinishRegistration or
// context cancellation.
func (h *Host) WhenInstalledExtensionsRegistered(ctx context.Context) error {
	select {
	case <-h.registered:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Service = (*Host)(nil)
