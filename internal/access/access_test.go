package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/driftline/driftline/internal/filter"
)

func member(workspaces ...string) Principal {
	claims := make([]any, len(workspaces))
	for i, w := range workspaces {
		claims[i] = w
	}
	return Principal{ID: "u-1", Claims: map[string]any{"workspaces": claims}}
}

func TestStringsClaim(t *testing.T) {
	p := member("ws-1", "ws-2")
	assert.Equal(t, []string{"ws-1", "ws-2"}, p.StringsClaim("workspaces"))

	p = Principal{Claims: map[string]any{"workspaces": []string{"ws-3"}}}
	assert.Equal(t, []string{"ws-3"}, p.StringsClaim("workspaces"))

	assert.Nil(t, Principal{}.StringsClaim("workspaces"))
}

func TestDecide_FromExpr(t *testing.T) {
	pred := FromExpr(func(p Principal) filter.Expr {
		values := make([]any, 0)
		for _, w := range p.StringsClaim("workspaces") {
			values = append(values, w)
		}
		return filter.In{Field: "container_id", Values: values}
	})

	row := filter.Row{"container_id": "ws-1", "name": "docs"}

	d := pred.Decide(member("ws-1"), row)
	assert.True(t, d.Allowed)

	d = pred.Decide(member("ws-2"), row)
	assert.False(t, d.Allowed)
	assert.NotEmpty(t, d.Reason)
}

// The check and the fragment of a FromExpr predicate must agree for
// every principal and row, because the check IS the fragment.
func TestFromExpr_CheckMatchesFragment(t *testing.T) {
	pred := FromExpr(func(p Principal) filter.Expr {
		return filter.And{Exprs: []filter.Expr{
			filter.Eq{Field: "owner", Value: p.ID},
			filter.Not{Expr: filter.IsNull{Field: "container_id"}},
		}}
	})

	principals := []Principal{
		{ID: "u-1"},
		{ID: "u-2"},
	}
	rows := []filter.Row{
		{"owner": "u-1", "container_id": "ws-1"},
		{"owner": "u-1", "container_id": nil},
		{"owner": "u-2", "container_id": "ws-1"},
		{},
	}

	for _, p := range principals {
		for _, row := range rows {
			fromCheck := pred.Check(p, row)
			fromFragment, err := filter.Eval(pred.Fragment(p), row)
			assert.NoError(t, err)
			assert.Equal(t, fromFragment, fromCheck,
				"principal %s row %v", p.ID, row)
		}
	}
}

func TestDecide_FailsClosed(t *testing.T) {
	d := Predicate{}.Decide(Principal{ID: "u-1"}, filter.Row{})
	assert.False(t, d.Allowed)
	assert.Equal(t, "no predicate configured", d.Reason)
}

func TestAllowAll_DenyAll(t *testing.T) {
	row := filter.Row{"anything": "at all"}
	assert.True(t, AllowAll().Decide(Principal{}, row).Allowed)
	assert.False(t, DenyAll().Decide(Principal{}, row).Allowed)
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "update", OpUpdate.String())
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "list", OpList.String())
	assert.Equal(t, "unknown", Op(0).String())
}
