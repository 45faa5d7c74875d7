// Package registry provides a generic name-to-implementation registry used
// for pluggable sources, authenticators, downloaders and progress reporters.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps names to implementations of type T. The zero value is not
// usable; create instances with New.
type Registry[T any] struct {
	kind string

	mu    sync.RWMutex
	items map[string]T
}

// New creates a registry for the given kind of implementation. The kind
// appears in lookup error messages ("downloader", "source", ...).
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:  kind,
		items: make(map[string]T),
	}
}

// Register adds an implementation under the given name, replacing any
// previous entry.
func (r *Registry[T]) Register(name string, item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[name] = item
}

// Get returns the implementation registered under name. Unknown names
// produce an error listing the registered alternatives.
func (r *Registry[T]) Get(name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %q not found, specify one of: %s",
			r.kind, name, strings.Join(r.namesLocked(), ", "))
	}
	return item, nil
}

// List returns the registered names in sorted order.
func (r *Registry[T]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// IsRegistered reports whether name has an entry.
func (r *Registry[T]) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[name]
	return ok
}

func (r *Registry[T]) namesLocked() []string {
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
