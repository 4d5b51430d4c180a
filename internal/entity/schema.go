package entity

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/driftline/driftline/internal/syncerr"
)

// Schema validates entity payloads against a compiled CUE definition.
//
// The schema source is a single CUE struct expression. Payloads are
// unified with it; unification failures (wrong type, missing required
// field, constraint violation, unknown field on a closed struct) become
// VALIDATION errors. Defaults declared in the schema are materialized
// into the returned value.
//
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
type Schema struct {
	name string
	val  cue.Value
}

// CompileSchema compiles a CUE struct expression into a Schema.
//
// Example:
//
//	s, err := entity.CompileSchema("folders/create", `close({
//	    id?:          string
//	    container_id: string & !=""
//	    parent_id:    string | null
//	    name:         string & =~"^[^/]{1,200}$"
//	})`)
func CompileSchema(name, source string) (*Schema, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(source)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", name, err)
	}
	return &Schema{name: name, val: val}, nil
}

// MustCompileSchema is CompileSchema that panics on error. Entity
// schemas are static program data compiled at process start; a broken
// schema is a programming error, not a runtime condition.
func MustCompileSchema(name, source string) *Schema {
	s, err := CompileSchema(name, source)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema's diagnostic name.
func (s *Schema) Name() string {
	return s.name
}

// Validate checks a payload against the schema and returns the
// validated value with schema defaults applied, or a VALIDATION error.
// The input payload is not modified.
func (s *Schema) Validate(payload Row) (Row, error) {
	if s == nil {
		// No schema configured: pass the payload through untouched.
		return payload, nil
	}

	encoded := s.val.Context().Encode(payload)
	if err := encoded.Err(); err != nil {
		return nil, s.validationError(err)
	}

	unified := s.val.Unify(encoded)
	if err := unified.Err(); err != nil {
		return nil, s.validationError(err)
	}
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return nil, s.validationError(err)
	}

	var out Row
	if err := unified.Decode(&out); err != nil {
		return nil, s.validationError(err)
	}
	return out, nil
}

// validationError converts a CUE error into the taxonomy, keeping the
// individual CUE messages as audit detail.
func (s *Schema) validationError(err error) error {
	se := syncerr.Newf(syncerr.CodeValidation, "payload does not satisfy schema %s", s.name)
	se.Err = err

	details := make(map[string]string)
	for i, cueErr := range cueerrors.Errors(err) {
		details[fmt.Sprintf("cue_%d", i)] = cueErr.Error()
	}
	se.Details = details
	return se
}
