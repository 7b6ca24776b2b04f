package defs

import (
	"sync"
)

// Registry is the read-only definition store handed to handlers. Lookups
// are keyed by namespace + name. Reload swaps the whole definition set
// atomically; in-flight decisions keep the snapshot they started with.
type Registry struct {
	mu  sync.RWMutex
	set *Set
}

// Set is an immutable snapshot of all loaded definitions.
type Set struct {
	agents    map[string]*Agent
	pipelines map[string]*Pipeline
	queues    map[string]*Queue
	workers   map[string]*Worker
	crons     map[string]*Cron
}

func key(ns, name string) string { return ns + "/" + name }

func newSet() *Set {
	return &Set{
		agents:    make(map[string]*Agent),
		pipelines: make(map[string]*Pipeline),
		queues:    make(map[string]*Queue),
		workers:   make(map[string]*Worker),
		crons:     make(map[string]*Cron),
	}
}

// NewRegistry creates a registry over the given files. The files must have
// passed Validate.
func NewRegistry(files []File) *Registry {
	r := &Registry{}
	r.Reload(files)
	return r
}

// Reload replaces the registry contents.
func (r *Registry) Reload(files []File) {
	set := newSet()
	for i := range files {
		f := &files[i]
		for j := range f.Agents {
			set.agents[key(f.Namespace, f.Agents[j].Name)] = &f.Agents[j]
		}
		for j := range f.Pipelines {
			set.pipelines[key(f.Namespace, f.Pipelines[j].Name)] = &f.Pipelines[j]
		}
		for j := range f.Queues {
			set.queues[key(f.Namespace, f.Queues[j].Name)] = &f.Queues[j]
		}
		for j := range f.Workers {
			set.workers[key(f.Namespace, f.Workers[j].Name)] = &f.Workers[j]
		}
		for j := range f.Crons {
			set.crons[key(f.Namespace, f.Crons[j].Name)] = &f.Crons[j]
		}
	}
	r.mu.Lock()
	r.set = set
	r.mu.Unlock()
}

// Snapshot returns the current definition set.
func (r *Registry) Snapshot() *Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set
}

func (r *Registry) Agent(ns, name string) (*Agent, bool) {
	a, ok := r.Snapshot().agents[key(ns, name)]
	return a, ok
}

func (r *Registry) Pipeline(ns, name string) (*Pipeline, bool) {
	p, ok := r.Snapshot().pipelines[key(ns, name)]
	return p, ok
}

func (r *Registry) Queue(ns, name string) (*Queue, bool) {
	q, ok := r.Snapshot().queues[key(ns, name)]
	return q, ok
}

func (r *Registry) Worker(ns, name string) (*Worker, bool) {
	w, ok := r.Snapshot().workers[key(ns, name)]
	return w, ok
}

func (r *Registry) Cron(ns, name string) (*Cron, bool) {
	c, ok := r.Snapshot().crons[key(ns, name)]
	return c, ok
}

// Workers returns every worker definition with its namespace. Used for
// autostart at boot.
func (r *Registry) Workers() map[string]*Worker {
	set := r.Snapshot()
	out := make(map[string]*Worker, len(set.workers))
	for k, w := range set.workers {
		out[k] = w
	}
	return out
}

// Queues returns every queue definition with its namespace key. Used to
// build external queue sources at boot.
func (r *Registry) Queues() map[string]*Queue {
	set := r.Snapshot()
	out := make(map[string]*Queue, len(set.queues))
	for k, q := range set.queues {
		out[k] = q
	}
	return out
}

// Crons returns every cron definition with its namespace key.
func (r *Registry) Crons() map[string]*Cron {
	set := r.Snapshot()
	out := make(map[string]*Cron, len(set.crons))
	for k, c := range set.crons {
		out[k] = c
	}
	return out
}
