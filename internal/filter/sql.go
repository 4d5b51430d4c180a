package filter

import (
	"fmt"
	"strings"
)

// FieldMapper translates a field name into a SQL column expression.
// The storage engine maps tree fields (id, container, parent, name) to
// real columns and every other field to a json_extract over the row
// payload. Returning an error rejects fields that cannot be addressed.
type FieldMapper func(field string) (string, error)

// IdentityMapper maps every field to itself. Suitable for tables whose
// columns are named exactly like the filter fields (tests, flat tables).
func IdentityMapper(field string) (string, error) {
	return field, nil
}

// SQL compiles an expression to a parameterized WHERE-clause fragment.
// Returns (sql, params, error).
//
// CRITICAL: values are NEVER interpolated - always ? placeholders.
// The fragment is parenthesized where needed so it can be embedded in a
// larger WHERE clause with AND/OR.
func SQL(e Expr, mapper FieldMapper) (string, []any, error) {
	if mapper == nil {
		mapper = IdentityMapper
	}
	if e == nil {
		return "1 = 1", nil, nil // Always true
	}

	switch x := e.(type) {
	case All:
		return "1 = 1", nil, nil
	case *All:
		return "1 = 1", nil, nil
	case Eq:
		return compileCmp(x.Field, "=", x.Value, mapper)
	case *Eq:
		return compileCmp(x.Field, "=", x.Value, mapper)
	case Ne:
		return compileCmp(x.Field, "<>", x.Value, mapper)
	case *Ne:
		return compileCmp(x.Field, "<>", x.Value, mapper)
	case In:
		return compileIn(x, mapper)
	case *In:
		return compileIn(*x, mapper)
	case IsNull:
		return compileIsNull(x, mapper)
	case *IsNull:
		return compileIsNull(*x, mapper)
	case And:
		return compileJunction(x.Exprs, " AND ", "1 = 1", mapper)
	case *And:
		return compileJunction(x.Exprs, " AND ", "1 = 1", mapper)
	case Or:
		return compileJunction(x.Exprs, " OR ", "1 = 0", mapper)
	case *Or:
		return compileJunction(x.Exprs, " OR ", "1 = 0", mapper)
	case Not:
		return compileNot(x, mapper)
	case *Not:
		return compileNot(*x, mapper)
	default:
		return "", nil, fmt.Errorf("unsupported expression type: %T", e)
	}
}

func compileCmp(field, op string, value any, mapper FieldMapper) (string, []any, error) {
	col, err := mapper(field)
	if err != nil {
		return "", nil, fmt.Errorf("map field %q: %w", field, err)
	}
	param, err := toParam(value)
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", field, err)
	}
	return fmt.Sprintf("%s %s ?", col, op), []any{param}, nil
}

func compileIn(in In, mapper FieldMapper) (string, []any, error) {
	col, err := mapper(in.Field)
	if err != nil {
		return "", nil, fmt.Errorf("map field %q: %w", in.Field, err)
	}
	if len(in.Values) == 0 {
		// IN over an empty set matches nothing.
		return "1 = 0", nil, nil
	}

	placeholders := make([]string, len(in.Values))
	params := make([]any, len(in.Values))
	for i, v := range in.Values {
		param, err := toParam(v)
		if err != nil {
			return "", nil, fmt.Errorf("field %q: %w", in.Field, err)
		}
		placeholders[i] = "?"
		params[i] = param
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")), params, nil
}

func compileIsNull(n IsNull, mapper FieldMapper) (string, []any, error) {
	col, err := mapper(n.Field)
	if err != nil {
		return "", nil, fmt.Errorf("map field %q: %w", n.Field, err)
	}
	return fmt.Sprintf("%s IS NULL", col), nil, nil
}

func compileJunction(exprs []Expr, joiner, empty string, mapper FieldMapper) (string, []any, error) {
	if len(exprs) == 0 {
		return empty, nil, nil
	}

	var parts []string
	var allParams []any
	for _, sub := range exprs {
		sql, params, err := SQL(sub, mapper)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		allParams = append(allParams, params...)
	}
	if len(parts) == 1 {
		return parts[0], allParams, nil
	}
	return "(" + strings.Join(parts, joiner) + ")", allParams, nil
}

func compileNot(not Not, mapper FieldMapper) (string, []any, error) {
	if not.Expr == nil {
		return "", nil, fmt.Errorf("Not with nil sub-expression")
	}
	sql, params, err := SQL(not.Expr, mapper)
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", params, nil
}

// toParam converts a filter value to a Go native type usable as a SQL
// parameter. Supports the same scalar set as Eval; everything else is
// rejected so the two backends cannot diverge on exotic types.
func toParam(v any) (any, error) {
	switch val := v.(type) {
	case string, bool, int64, float64, nil:
		return val, nil
	case int:
		return int64(val), nil
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}
