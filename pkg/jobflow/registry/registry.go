package registry

import (
	"sync"
	"sync/atomic"
)

// Registry is a copy-on-write table of values indexed by key.
//
// Writers serialize on a mutex and publish a fresh immutable map; readers
// load the current map atomically and never wait for a writer. The table is
// tuned for a wire-once-at-startup, read-on-every-dispatch workload.
type Registry[K comparable, V any] struct {
	mu      sync.Mutex
	current atomic.Pointer[map[K]V]
}

// New creates a new empty registry.
func New[K comparable, V any]() *Registry[K, V] {
	r := &Registry[K, V]{}
	empty := make(map[K]V)
	r.current.Store(&empty)
	return r
}

func (r *Registry[K, V]) snapshot() map[K]V {
	return *r.current.Load()
}

// mutate copies the current map, applies fn and publishes the result.
func (r *Registry[K, V]) mutate(fn func(next map[K]V)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.snapshot()
	next := make(map[K]V, len(prev)+1)
	for k, v := range prev {
		next[k] = v
	}
	fn(next)
	r.current.Store(&next)
}

// Register adds or replaces the value for key.
func (r *Registry[K, V]) Register(key K, value V) {
	r.mutate(func(next map[K]V) {
		next[key] = value
	})
}

// RegisterMany adds multiple entries in a single publication.
func (r *Registry[K, V]) RegisterMany(entries map[K]V) {
	if len(entries) == 0 {
		return
	}
	r.mutate(func(next map[K]V) {
		for k, v := range entries {
			next[k] = v
		}
	})
}

// Update replaces the value for key with fn(current, exists).
// fn runs under the writer lock and must not call back into the registry.
func (r *Registry[K, V]) Update(key K, fn func(current V, exists bool) V) {
	r.mutate(func(next map[K]V) {
		cur, ok := next[key]
		next[key] = fn(cur, ok)
	})
}

// Get returns the value for a key and whether it exists.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	v, ok := r.snapshot()[key]
	return v, ok
}

// Lookup returns the value for key, or fallback when it is absent.
func (r *Registry[K, V]) Lookup(key K, fallback V) V {
	if v, ok := r.snapshot()[key]; ok {
		return v
	}
	return fallback
}

// Has returns true if the key exists in the registry.
func (r *Registry[K, V]) Has(key K) bool {
	_, ok := r.snapshot()[key]
	return ok
}

// Delete removes a key from the registry.
func (r *Registry[K, V]) Delete(key K) {
	if !r.Has(key) {
		return
	}
	r.mutate(func(next map[K]V) {
		delete(next, key)
	})
}

// Keys returns all keys in the registry in no particular order.
func (r *Registry[K, V]) Keys() []K {
	snap := r.snapshot()
	keys := make([]K, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of entries in the registry.
func (r *Registry[K, V]) Len() int {
	return len(r.snapshot())
}

// Range calls fn for every entry of the current snapshot until fn returns
// false. Mutations made during iteration are not observed.
func (r *Registry[K, V]) Range(fn func(K, V) bool) {
	for k, v := range r.snapshot() {
		if !fn(k, v) {
			return
		}
	}
}
