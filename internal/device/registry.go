package device

import (
	"sort"
	"sync"
)

// Registry is the coordinator's table of known descriptors keyed by ID.
//
// An ID can be pinned while a connection attempt for it is in flight.
// Descriptors that would supersede a pinned entry are held back and applied
// when the pin is released.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Descriptor
	pinned  map[string]bool
	pending map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]Descriptor),
		pinned:  make(map[string]bool),
		pending: make(map[string]Descriptor),
	}
}

// Put inserts d or supersedes the entry with the same ID. It reports false
// when the ID is pinned and d was queued instead.
func (r *Registry) Put(d Descriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pinned[d.ID] {
		r.pending[d.ID] = d
		return false
	}
	r.devices[d.ID] = d
	return true
}

func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	return d, ok
}

// List returns the descriptors of the given kinds ordered by ID, or every
// descriptor when no kind is given.
func (r *Registry) List(kinds ...Kind) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.devices))
	for _, d := range r.devices {
		if len(kinds) > 0 && !containsKind(kinds, d.Kind) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Pin freezes the descriptor for id and returns it.
func (r *Registry) Pin(id string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if ok {
		r.pinned[id] = true
	}
	return d, ok
}

// Unpin releases id and applies any descriptor queued while it was pinned.
func (r *Registry) Unpin(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.pinned, id)
	if d, ok := r.pending[id]; ok {
		r.devices[id] = d
		delete(r.pending, id)
	}
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, kk := range kinds {
		if kk == k {
			return true
		}
	}
	return false
}
