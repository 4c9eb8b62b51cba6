package task

import (
	"context"
	"sort"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/iliyamo/cinema-order-saga/internal/model"
)

// Handler runs one task.  It receives the task's data payload and must be
// safe to run more than once with the same payload.
type Handler func(ctx context.Context, data json.RawMessage) error

// Registry maps task names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[model.TaskName]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[model.TaskName]Handler{}}
}

// Register binds h to name, replacing any previous handler.
func (r *Registry) Register(name model.TaskName, h Handler) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

func (r *Registry) Lookup(name model.TaskName) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered task names in lexical order.
func (r *Registry) Names() []model.TaskName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]model.TaskName, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
