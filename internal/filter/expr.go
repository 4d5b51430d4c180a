package filter

import (
	"fmt"
)

// Row is a single entity row: field name to value. Values are the JSON
// scalar types (string, bool, int64, float64, nil) plus whatever opaque
// payload fields the entity carries.
type Row = map[string]any

// Expr represents a filter expression.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and
// enables exhaustive type switches in Eval and the SQL backend.
type Expr interface {
	exprNode() // Marker method - seals interface to this package
}

// All matches every row (vacuous truth). The zero filter.
type All struct{}

// Eq matches rows where Field equals Value.
type Eq struct {
	Field string
	Value any
}

// Ne matches rows where Field does not equal Value.
// A row lacking the field (or holding nil) does not match - this mirrors
// SQL three-valued logic, where NULL <> x is not true.
type Ne struct {
	Field string
	Value any
}

// In matches rows where Field equals any of Values.
type In struct {
	Field  string
	Values []any
}

// IsNull matches rows where Field is nil or absent.
type IsNull struct {
	Field string
}

// And matches rows matching every sub-expression.
// An empty And is vacuously true.
type And struct {
	Exprs []Expr
}

// Or matches rows matching at least one sub-expression.
// An empty Or is vacuously false.
type Or struct {
	Exprs []Expr
}

// Not matches rows not matching the sub-expression.
type Not struct {
	Expr Expr
}

func (All) exprNode()    {}
func (Eq) exprNode()     {}
func (Ne) exprNode()     {}
func (In) exprNode()     {}
func (IsNull) exprNode() {}
func (And) exprNode()    {}
func (Or) exprNode()     {}
func (Not) exprNode()    {}

// truth is a three-valued logic value. Comparisons over NULL fields
// evaluate to truthUnknown, which connectives propagate the way SQL
// does: AND treats it as non-false, OR as non-true, NOT leaves it
// unknown. Eval reads unknown as "does not match", the same reading a
// WHERE clause gives it.
type truth int

const (
	truthFalse truth = iota
	truthTrue
	truthUnknown
)

// Eval evaluates an expression against a row in-process.
//
// Comparison semantics match SQLite affinity for the supported scalar
// types: int, int64 and float64 compare numerically across types;
// string and bool compare by equality. A NULL (nil or absent) operand
// makes the comparison unknown rather than false, so NOT over a NULL
// field still does not match. Comparing a non-scalar value is an
// error, not a silent false - the same expression would have failed to
// compile to SQL.
func Eval(e Expr, row Row) (bool, error) {
	t, err := eval(e, row)
	if err != nil {
		return false, err
	}
	return t == truthTrue, nil
}

func eval(e Expr, row Row) (truth, error) {
	if e == nil {
		return truthTrue, nil
	}

	switch x := e.(type) {
	case All:
		return truthTrue, nil
	case *All:
		return truthTrue, nil
	case Eq:
		return evalCmp(x.Field, x.Value, false, row)
	case *Eq:
		return evalCmp(x.Field, x.Value, false, row)
	case Ne:
		return evalCmp(x.Field, x.Value, true, row)
	case *Ne:
		return evalCmp(x.Field, x.Value, true, row)
	case In:
		return evalIn(x, row)
	case *In:
		return evalIn(*x, row)
	case IsNull:
		return toTruth(row[x.Field] == nil), nil
	case *IsNull:
		return toTruth(row[x.Field] == nil), nil
	case And:
		return evalAnd(x, row)
	case *And:
		return evalAnd(*x, row)
	case Or:
		return evalOr(x, row)
	case *Or:
		return evalOr(*x, row)
	case Not:
		return evalNot(x, row)
	case *Not:
		return evalNot(*x, row)
	default:
		return truthFalse, fmt.Errorf("unsupported expression type: %T", e)
	}
}

func evalCmp(field string, value any, negate bool, row Row) (truth, error) {
	got, ok := row[field]
	if !ok || got == nil || value == nil {
		// NULL = x and NULL <> x are both unknown (SQL semantics).
		return truthUnknown, nil
	}
	eq, err := valuesEqual(got, value)
	if err != nil {
		return truthFalse, err
	}
	return toTruth(eq != negate), nil
}

func evalIn(in In, row Row) (truth, error) {
	if len(in.Values) == 0 {
		// IN over an empty set matches nothing, NULL field included.
		return truthFalse, nil
	}
	got, ok := row[in.Field]
	if !ok || got == nil {
		return truthUnknown, nil
	}
	sawNull := false
	for _, v := range in.Values {
		if v == nil {
			sawNull = true
			continue
		}
		eq, err := valuesEqual(got, v)
		if err != nil {
			return truthFalse, err
		}
		if eq {
			return truthTrue, nil
		}
	}
	if sawNull {
		return truthUnknown, nil
	}
	return truthFalse, nil
}

func evalAnd(and And, row Row) (truth, error) {
	out := truthTrue
	for _, sub := range and.Exprs {
		t, err := eval(sub, row)
		if err != nil {
			return truthFalse, err
		}
		if t == truthFalse {
			return truthFalse, nil
		}
		if t == truthUnknown {
			out = truthUnknown
		}
	}
	return out, nil
}

func evalOr(or Or, row Row) (truth, error) {
	out := truthFalse
	for _, sub := range or.Exprs {
		t, err := eval(sub, row)
		if err != nil {
			return truthFalse, err
		}
		if t == truthTrue {
			return truthTrue, nil
		}
		if t == truthUnknown {
			out = truthUnknown
		}
	}
	return out, nil
}

func evalNot(not Not, row Row) (truth, error) {
	if not.Expr == nil {
		return truthFalse, fmt.Errorf("Not with nil sub-expression")
	}
	t, err := eval(not.Expr, row)
	if err != nil {
		return truthFalse, err
	}
	switch t {
	case truthTrue:
		return truthFalse, nil
	case truthFalse:
		return truthTrue, nil
	default:
		return truthUnknown, nil
	}
}

func toTruth(b bool) truth {
	if b {
		return truthTrue
	}
	return truthFalse
}

// valuesEqual compares two scalar values with numeric cross-type
// equality (int64 vs float64 vs int), matching SQLite comparison
// affinity so Eval and the compiled SQL agree.
func valuesEqual(a, b any) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}

	an, aIsNum, err := asNumber(a)
	if err != nil {
		return false, err
	}
	bn, bIsNum, err := asNumber(b)
	if err != nil {
		return false, err
	}
	if aIsNum && bIsNum {
		return an == bn, nil
	}
	if aIsNum != bIsNum {
		return false, nil
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv, nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv, nil
	default:
		return false, fmt.Errorf("unsupported value type in comparison: %T", a)
	}
}

// asNumber reports whether v is a supported numeric type and returns
// its float64 widening. Returns an error for unsupported non-scalar
// types so callers fail loudly instead of silently not matching.
func asNumber(v any) (float64, bool, error) {
	switch n := v.(type) {
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case float64:
		return n, true, nil
	case string, bool:
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("unsupported value type in comparison: %T", v)
	}
}
