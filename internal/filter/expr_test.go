package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval_Eq(t *testing.T) {
	row := Row{"name": "docs", "size": int64(42), "hidden": false}

	tests := []struct {
		name string
		expr Expr
		want bool
	}{
		{"string match", Eq{Field: "name", Value: "docs"}, true},
		{"string mismatch", Eq{Field: "name", Value: "notes"}, false},
		{"int64 vs int", Eq{Field: "size", Value: 42}, true},
		{"int64 vs float64", Eq{Field: "size", Value: 42.0}, true},
		{"bool match", Eq{Field: "hidden", Value: false}, true},
		{"missing field never matches", Eq{Field: "owner", Value: "alice"}, false},
		{"cross-type string vs int", Eq{Field: "size", Value: "42"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(tt.expr, row)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_NullSemantics(t *testing.T) {
	// NULL follows SQL three-valued logic: neither = nor <> is true
	// against NULL; only IS NULL matches.
	row := Row{"parent_id": nil, "name": "root"}

	got, err := Eval(Eq{Field: "parent_id", Value: "p1"}, row)
	require.NoError(t, err)
	assert.False(t, got, "NULL = x must not match")

	got, err = Eval(Ne{Field: "parent_id", Value: "p1"}, row)
	require.NoError(t, err)
	assert.False(t, got, "NULL <> x must not match")

	got, err = Eval(IsNull{Field: "parent_id"}, row)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Eval(IsNull{Field: "name"}, row)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = Eval(IsNull{Field: "absent"}, row)
	require.NoError(t, err)
	assert.True(t, got, "absent field is NULL")

	// Unknown survives negation: NOT(NULL = x) is still unknown, not
	// true, so NOT over a NULL comparison must not match either.
	got, err = Eval(Not{Expr: Eq{Field: "parent_id", Value: "p1"}}, row)
	require.NoError(t, err)
	assert.False(t, got, "NOT (NULL = x) must not match")

	got, err = Eval(Not{Expr: Ne{Field: "parent_id", Value: "p1"}}, row)
	require.NoError(t, err)
	assert.False(t, got, "NOT (NULL <> x) must not match")

	got, err = Eval(Not{Expr: In{Field: "parent_id", Values: []any{"p1"}}}, row)
	require.NoError(t, err)
	assert.False(t, got, "NOT (NULL IN (...)) must not match")

	got, err = Eval(Eq{Field: "name", Value: nil}, row)
	require.NoError(t, err)
	assert.False(t, got, "x = NULL must not match")

	// Unknown propagates through junctions the SQL way: OR needs a
	// true arm, AND treats unknown as non-false.
	got, err = Eval(Or{Exprs: []Expr{
		Eq{Field: "parent_id", Value: "p1"},
		Eq{Field: "name", Value: "root"},
	}}, row)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Eval(Not{Expr: And{Exprs: []Expr{
		Eq{Field: "name", Value: "root"},
		Eq{Field: "parent_id", Value: "p1"},
	}}}, row)
	require.NoError(t, err)
	assert.False(t, got, "NOT (true AND unknown) is unknown")
}

func TestEval_In(t *testing.T) {
	row := Row{"container_id": "ws-1"}

	got, err := Eval(In{Field: "container_id", Values: []any{"ws-1", "ws-2"}}, row)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Eval(In{Field: "container_id", Values: []any{"ws-3"}}, row)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = Eval(In{Field: "container_id", Values: nil}, row)
	require.NoError(t, err)
	assert.False(t, got, "IN over empty set matches nothing")
}

func TestEval_Junctions(t *testing.T) {
	row := Row{"container_id": "ws-1", "name": "docs"}

	and := And{Exprs: []Expr{
		Eq{Field: "container_id", Value: "ws-1"},
		Eq{Field: "name", Value: "docs"},
	}}
	got, err := Eval(and, row)
	require.NoError(t, err)
	assert.True(t, got)

	and.Exprs = append(and.Exprs, Eq{Field: "name", Value: "notes"})
	got, err = Eval(and, row)
	require.NoError(t, err)
	assert.False(t, got)

	or := Or{Exprs: []Expr{
		Eq{Field: "name", Value: "notes"},
		Eq{Field: "name", Value: "docs"},
	}}
	got, err = Eval(or, row)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Eval(Not{Expr: or}, row)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEval_VacuousTruth(t *testing.T) {
	row := Row{}

	got, err := Eval(And{}, row)
	require.NoError(t, err)
	assert.True(t, got, "empty And is vacuously true")

	got, err = Eval(Or{}, row)
	require.NoError(t, err)
	assert.False(t, got, "empty Or is vacuously false")

	got, err = Eval(All{}, row)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Eval(nil, row)
	require.NoError(t, err)
	assert.True(t, got, "nil expression matches everything")
}

func TestEval_PointerForms(t *testing.T) {
	row := Row{"name": "docs"}

	got, err := Eval(&Eq{Field: "name", Value: "docs"}, row)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Eval(&And{Exprs: []Expr{&Not{Expr: &IsNull{Field: "name"}}}}, row)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEval_UnsupportedValueType(t *testing.T) {
	row := Row{"payload": map[string]any{"nested": true}}

	_, err := Eval(Eq{Field: "payload", Value: map[string]any{"nested": true}}, row)
	assert.Error(t, err, "non-scalar comparison must fail loudly")
}
