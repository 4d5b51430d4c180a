package collection

import "fmt"

// Registry holds one collection per entity, built once at startup.
// Lookups after construction are read-only and need no locking.
type Registry struct {
	cols map[string]*Collection
}

// NewRegistry builds a registry from collections. Duplicate entity
// names are a configuration error.
func NewRegistry(cols ...*Collection) (*Registry, error) {
	r := &Registry{cols: make(map[string]*Collection, len(cols))}
	for _, c := range cols {
		if _, ok := r.cols[c.Entity()]; ok {
			return nil, fmt.Errorf("duplicate collection for entity %q", c.Entity())
		}
		r.cols[c.Entity()] = c
	}
	return r, nil
}

// Get returns the collection for an entity, or nil.
func (r *Registry) Get(entityName string) *Collection {
	return r.cols[entityName]
}

// Close tears down every collection.
func (r *Registry) Close() {
	for _, c := range r.cols {
		c.Close()
	}
}
