package store

import (
	"testing"

	"github.com/driftline/driftline/internal/entity"
)

// folderDef returns a hierarchical test entity.
func folderDef() *entity.Definition {
	return &entity.Definition{
		Name: "folders",
		Tree: &entity.TreeSpec{
			ContainerField: "container_id",
			ParentField:    "parent_id",
			NameField:      "name",
		},
	}
}

// noteDef returns a flat test entity.
func noteDef() *entity.Definition {
	return &entity.Definition{Name: "notes"}
}

// openTestStore opens a fresh in-memory store.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func folderRow(id, container string, parent any, name string) entity.Row {
	return entity.Row{
		"id":           id,
		"container_id": container,
		"parent_id":    parent,
		"name":         name,
	}
}
