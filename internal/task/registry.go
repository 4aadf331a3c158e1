package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler executes one task type. Implementations must be safe for
// concurrent use: the worker pool invokes one handler instance from many
// workers at once.
//
// Handlers classify their failures with Transient/Permanent wrappers;
// unwrapped errors are treated as transient. Long-running handlers must
// honor ctx cancellation: that is how timeouts and cooperative
// cancellation reach them.
type Handler interface {
	// Handle executes the task. The context carries the bound
	// TenantContext of the envelope's tenant and the execution deadline.
	// The returned payload, if any, is stored as the task result.
	Handle(ctx context.Context, payload []byte) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// Registry maps task types to handlers. All registrations happen during
// startup; Seal freezes the registry before the worker pool starts, so an
// unknown task type fails at assembly time, never at dispatch time in
// production.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	sealed   bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a task type. Returns ErrRegistrySealed
// after Seal, and ErrDuplicateHandler if the type is already bound.
func (r *Registry) Register(taskType string, handler Handler) error {
	if taskType == "" {
		return fmt.Errorf("task type cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for %q cannot be nil", taskType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %q", ErrRegistrySealed, taskType)
	}
	if _, exists := r.handlers[taskType]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateHandler, taskType)
	}

	r.handlers[taskType] = handler
	return nil
}

// Seal freezes the registry. Called once at startup after all handlers
// are registered.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Lookup returns the handler for a task type.
// Returns ErrUnknownTaskType if no handler is registered.
func (r *Registry) Lookup(taskType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}
	return handler, nil
}

// Known reports whether a handler is registered for the task type. The
// envelope factory checks this before accepting an enqueue.
func (r *Registry) Known(taskType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[taskType]
	return ok
}

// TaskTypes returns the registered task types in sorted order.
func (r *Registry) TaskTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
