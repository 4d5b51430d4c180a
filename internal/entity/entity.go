// Package entity defines the static entity model the sync layer is
// configured with at process start.
//
// A Definition binds together everything one synchronized entity needs:
// the storage table name, the primary-key extractor, create/update
// payload schemas, the per-principal sync filter, and the three access
// predicates. Definitions are immutable after construction and shared
// by reference between the server endpoints and the client stores.
package entity

import (
	"fmt"

	"github.com/driftline/driftline/internal/access"
	"github.com/driftline/driftline/internal/filter"
)

// Row is an entity row. Alias of filter.Row so the two packages agree
// on the value model without an import cycle.
type Row = filter.Row

// TreeSpec marks an entity as hierarchical and names the fields that
// carry the container relationship. Uniqueness scope is
// (ContainerField, ParentField, NameField); the parent relation must
// stay acyclic.
type TreeSpec struct {
	ContainerField string
	ParentField    string
	NameField      string

	// ParentEntity names the entity parent ids refer to. Empty means
	// the entity itself (a self-referential tree); leaf entities like
	// files set it to the entity they nest under.
	ParentEntity string
}

// ParentEntityName resolves the parent entity, defaulting to self.
func (t *TreeSpec) ParentEntityName(self string) string {
	if t.ParentEntity != "" {
		return t.ParentEntity
	}
	return self
}

// Definition is the static description of one synchronized entity.
type Definition struct {
	// Name is the entity (and storage table) name. Unique per Set.
	Name string

	// Key extracts the primary key from a row. Returns "" when the row
	// carries no key yet (server-assigned keys on create).
	Key func(Row) string

	// CreateSchema and UpdateSchema validate incoming payloads. The
	// update schema validates partial payloads (only supplied fields).
	CreateSchema *Schema
	UpdateSchema *Schema

	// SyncFilter scopes which rows a principal's change-feed
	// subscription (and list reads) receive.
	SyncFilter func(access.Principal) filter.Expr

	// Create, Update and Delete gate the three mutating operations.
	// Update and Delete are evaluated against the EXISTING row.
	Create access.Predicate
	Update access.Predicate
	Delete access.Predicate

	// Normalize, when non-nil, canonicalizes a validated payload before
	// it is checked and written (e.g. Unicode-normalizing names so
	// uniqueness compares canonical forms). Must return a new row or
	// the same row unchanged, never mutate shared state.
	Normalize func(Row) Row

	// Tree is non-nil for hierarchical entities.
	Tree *TreeSpec
}

// KeyField returns a key extractor reading a single string field.
func KeyField(name string) func(Row) string {
	return func(row Row) string {
		if s, ok := row[name].(string); ok {
			return s
		}
		return ""
	}
}

// Scope evaluates the sync filter for a principal. A definition without
// a sync filter scopes to nothing - entities must opt in to syncing.
func (d *Definition) Scope(p access.Principal) filter.Expr {
	if d.SyncFilter == nil {
		return filter.Or{} // matches nothing
	}
	return d.SyncFilter(p)
}

// ExtractKey returns the primary key of a row, defaulting to the "id"
// field when no extractor is configured.
func (d *Definition) ExtractKey(row Row) string {
	if d.Key != nil {
		return d.Key(row)
	}
	if s, ok := row["id"].(string); ok {
		return s
	}
	return ""
}

// Predicate returns the access predicate for a mutating operation.
func (d *Definition) Predicate(op access.Op) access.Predicate {
	switch op {
	case access.OpCreate:
		return d.Create
	case access.OpUpdate:
		return d.Update
	case access.OpDelete:
		return d.Delete
	default:
		return access.DenyAll()
	}
}

// Set is an immutable collection of definitions keyed by name.
// Constructed once at startup; duplicate names are rejected.
type Set struct {
	defs map[string]*Definition
}

// NewSet builds a Set from definitions, rejecting duplicates and
// definitions without a name.
func NewSet(defs ...*Definition) (*Set, error) {
	m := make(map[string]*Definition, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("entity definition without a name")
		}
		if _, dup := m[d.Name]; dup {
			return nil, fmt.Errorf("duplicate entity definition: %q", d.Name)
		}
		m[d.Name] = d
	}
	return &Set{defs: m}, nil
}

// Get returns the definition for an entity name.
func (s *Set) Get(name string) (*Definition, bool) {
	d, ok := s.defs[name]
	return d, ok
}

// Names returns the defined entity names in unspecified order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.defs))
	for name := range s.defs {
		names = append(names, name)
	}
	return names
}
