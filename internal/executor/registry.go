package executor

import (
	"context"
	"sort"
	"sync"

	"taskforge/internal/domain"
)

// Func executes one task attempt. The context carries the task's
// cancellation signal; a cooperative executor observes it, the engine
// never force-terminates the call.
type Func func(ctx context.Context, task domain.Task) (result any, err error)

// Registry maps task types to execution functions. One function per
// type; registering a type again replaces the previous function.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Func)}
}

// Register binds fn to taskType.
func (r *Registry) Register(taskType string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[taskType] = fn
}

// Get returns the executor for taskType, if one is registered.
func (r *Registry) Get(taskType string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[taskType]
	return fn, ok
}

// Types lists the registered task types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fns))
	for t := range r.fns {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
