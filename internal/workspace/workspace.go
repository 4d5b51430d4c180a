// Package workspace defines the built-in hierarchical entities: folders
// and files, both scoped to a workspace the principal is a member of.
//
// Membership comes from the principal's "workspaces" claim. A row is
// visible to and mutable by members of its workspace; there is no
// per-row ownership below that. Names are normalized to Unicode NFC
// before validation so "café" spelled with a combining accent and with
// a precomposed one cannot coexist under the same parent.
package workspace

import (
	"golang.org/x/text/unicode/norm"

	"github.com/driftline/driftline/internal/access"
	"github.com/driftline/driftline/internal/entity"
	"github.com/driftline/driftline/internal/filter"
)

// ClaimWorkspaces is the principal claim listing workspace memberships.
const ClaimWorkspaces = "workspaces"

// member admits principals whose workspaces claim contains the row's
// workspace id.
func member() access.Predicate {
	return access.FromExpr(func(p access.Principal) filter.Expr {
		ids := p.StringsClaim(ClaimWorkspaces)
		values := make([]any, len(ids))
		for i, id := range ids {
			values[i] = id
		}
		return filter.In{Field: "workspace_id", Values: values}
	})
}

// normalizeName rewrites the name field to NFC when present.
func normalizeName(row entity.Row) entity.Row {
	if name, ok := row["name"].(string); ok {
		row["name"] = norm.NFC.String(name)
	}
	return row
}

// Folders returns the folder entity definition. Folders nest under an
// optional parent folder within a workspace; a folder with children
// cannot be deleted, and re-parenting cannot create a cycle.
func Folders() *entity.Definition {
	m := member()
	return &entity.Definition{
		Name: "folders",
		CreateSchema: entity.MustCompileSchema("folders/create", `close({
			id?:          string
			workspace_id: string & !=""
			parent_id?:   string & !=""
			name:         string & !=""
		})`),
		UpdateSchema: entity.MustCompileSchema("folders/update", `close({
			parent_id?: string | null
			name?:      string & !=""
		})`),
		SyncFilter: m.Fragment,
		Create:     m,
		Update:     m,
		Delete:     m,
		Normalize:  normalizeName,
		Tree: &entity.TreeSpec{
			ContainerField: "workspace_id",
			ParentField:    "parent_id",
			NameField:      "name",
		},
	}
}

// Files returns the file entity definition. Files live in a folder (or
// at the workspace root) and carry opaque content; they never have
// children, so the parent relation points at folders and deletion is
// unconditional for members.
func Files() *entity.Definition {
	m := member()
	return &entity.Definition{
		Name: "files",
		CreateSchema: entity.MustCompileSchema("files/create", `close({
			id?:          string
			workspace_id: string & !=""
			parent_id?:   string & !=""
			name:         string & !=""
			content:      string | *""
		})`),
		UpdateSchema: entity.MustCompileSchema("files/update", `close({
			parent_id?: string | null
			name?:      string & !=""
			content?:   string
		})`),
		SyncFilter: m.Fragment,
		Create:     m,
		Update:     m,
		Delete:     m,
		Normalize:  normalizeName,
		Tree: &entity.TreeSpec{
			ContainerField: "workspace_id",
			ParentField:    "parent_id",
			NameField:      "name",
			ParentEntity:   "folders",
		},
	}
}

// Definitions returns both built-in entity definitions.
func Definitions() []*entity.Definition {
	return []*entity.Definition{Folders(), Files()}
}
