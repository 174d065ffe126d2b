// Package handler implements the payload side effects invoked once a job's
// work loop completes, one handler per job type.
package handler

import (
	"sync"

	"kernelq/internal/job"
	"kernelq/internal/sched"
)

// Registry maps job types to handlers. It satisfies sched.HandlerResolver.
type Registry struct {
	mu       sync.RWMutex
	handlers map[job.Type]sched.Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[job.Type]sched.Handler{}}
}

// Register binds a handler to a type, replacing any previous binding.
func (r *Registry) Register(t job.Type, h sched.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

func (r *Registry) Resolve(t job.Type) (sched.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types lists the registered job types (dashboard input validation).
func (r *Registry) Types() []job.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]job.Type, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
