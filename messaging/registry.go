package messaging

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/glimte/domainbus/contracts"
)

// EventHandler handles one decoded envelope. Returning an error rejects the
// message without requeue.
type EventHandler func(ctx context.Context, env contracts.Envelope) error

// Registry maps event types to their single handler. It is populated at
// startup and frozen before consumption starts.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
	frozen   bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]EventHandler)}
}

// Register installs handler for eventType
func (r *Registry) Register(eventType string, handler EventHandler) error {
	if eventType == "" || handler == nil {
		return ErrInvalidHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot register %s", ErrRegistryFrozen, eventType)
	}
	if _, exists := r.handlers[eventType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, eventType)
	}
	r.handlers[eventType] = handler
	return nil
}

// Freeze rejects further registrations
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup returns the handler for eventType
func (r *Registry) Lookup(eventType string) (EventHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventType]
	return h, ok
}

// EventTypes returns the registered event types in sorted order
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
