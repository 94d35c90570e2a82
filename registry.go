package jobqueue

import (
	"fmt"
	"sort"
	"sync"
)

type descriptor struct {
	processorAdded bool
	manager        *Manager
}

// Registry is the table of known queues and their attached processors.
// A queue name can have at most one processor for the registry's lifetime.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*descriptor)}
}

func (r *Registry) ensure(name string) {
	r.mu.Lock()
	if _, ok := r.queues[name]; !ok {
		r.queues[name] = &descriptor{}
	}
	r.mu.Unlock()
}

// attach records m as the processor for name. It fails without touching the
// existing registration when one is already present.
func (r *Registry) attach(name string, m *Manager) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.queues[name]
	if !ok {
		d = &descriptor{}
		r.queues[name] = d
	}
	if d.processorAdded {
		return fmt.Errorf("%w %s, can only be set once per queue", ErrProcessorConflict, name)
	}
	d.processorAdded = true
	d.manager = m
	return nil
}

// HasProcessor reports whether a processor was attached to name.
func (r *Registry) HasProcessor(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.queues[name]
	return ok && d.processorAdded
}

func (r *Registry) manager(name string) *Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.queues[name]; ok {
		return d.manager
	}
	return nil
}

func (r *Registry) managers() []*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Manager, 0, len(r.queues))
	for _, d := range r.queues {
		if d.manager != nil {
			out = append(out, d.manager)
		}
	}
	return out
}

// Names returns the known queue names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
