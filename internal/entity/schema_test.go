package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/syncerr"
)

const folderCreateSchema = `close({
	id?:          string
	container_id: string & !=""
	parent_id:    string | null
	name:         string & =~"^[^/]{1,200}$"
})`

func TestSchema_ValidPayload(t *testing.T) {
	s := MustCompileSchema("folders/create", folderCreateSchema)

	out, err := s.Validate(Row{
		"container_id": "ws-1",
		"parent_id":    nil,
		"name":         "docs",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws-1", out["container_id"])
	assert.Equal(t, "docs", out["name"])
	assert.Nil(t, out["parent_id"])
}

func TestSchema_RejectsMissingRequiredField(t *testing.T) {
	s := MustCompileSchema("folders/create", folderCreateSchema)

	_, err := s.Validate(Row{
		"container_id": "ws-1",
		"parent_id":    nil,
	})
	require.Error(t, err)
	assert.True(t, syncerr.IsValidation(err))
}

func TestSchema_RejectsConstraintViolation(t *testing.T) {
	s := MustCompileSchema("folders/create", folderCreateSchema)

	_, err := s.Validate(Row{
		"container_id": "ws-1",
		"parent_id":    nil,
		"name":         "a/b",
	})
	require.Error(t, err)
	assert.True(t, syncerr.IsValidation(err))

	_, err = s.Validate(Row{
		"container_id": "",
		"parent_id":    nil,
		"name":         "docs",
	})
	require.Error(t, err)
	assert.True(t, syncerr.IsValidation(err))
}

func TestSchema_RejectsUnknownField(t *testing.T) {
	s := MustCompileSchema("folders/create", folderCreateSchema)

	_, err := s.Validate(Row{
		"container_id": "ws-1",
		"parent_id":    nil,
		"name":         "docs",
		"sneaky":       true,
	})
	require.Error(t, err)
	assert.True(t, syncerr.IsValidation(err))
}

func TestSchema_RejectsWrongType(t *testing.T) {
	s := MustCompileSchema("folders/create", folderCreateSchema)

	_, err := s.Validate(Row{
		"container_id": "ws-1",
		"parent_id":    nil,
		"name":         int64(42),
	})
	require.Error(t, err)
	assert.True(t, syncerr.IsValidation(err))
}

func TestSchema_AppliesDefaults(t *testing.T) {
	s := MustCompileSchema("files/create", `close({
		container_id: string & !=""
		parent_id:    string | null
		name:         string & !=""
		content:      string | *""
	})`)

	out, err := s.Validate(Row{
		"container_id": "ws-1",
		"parent_id":    "f-1",
		"name":         "f.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, "", out["content"])
}

func TestSchema_PartialUpdateSchema(t *testing.T) {
	// Update schemas mark every field optional: a patch supplies only
	// the fields it changes.
	s := MustCompileSchema("files/update", `close({
		parent_id?: string | null
		name?:      string & !=""
		content?:   string
	})`)

	out, err := s.Validate(Row{"content": "aGVsbG8="})
	require.NoError(t, err)
	assert.Equal(t, Row{"content": "aGVsbG8="}, out)

	_, err = s.Validate(Row{"container_id": "ws-2"})
	require.Error(t, err, "update must not smuggle immutable fields")
	assert.True(t, syncerr.IsValidation(err))
}

func TestSchema_NilPassthrough(t *testing.T) {
	var s *Schema
	payload := Row{"anything": "goes"}
	out, err := s.Validate(payload)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestCompileSchema_BadSource(t *testing.T) {
	_, err := CompileSchema("broken", `close({`)
	assert.Error(t, err)

	assert.Panics(t, func() { MustCompileSchema("broken", `close({`) })
}
