// Package access implements row-level access control.
//
// A Predicate decides whether a principal may perform an operation on a
// row. Predicates carry two views of the same decision:
//
//   - Check: an in-process boolean over (principal, row)
//   - Fragment: a filter expression enforceable at the storage layer
//
// Where a predicate is built with FromExpr, the Check is derived from
// the Fragment itself and the two cannot diverge. Hand-written pairs
// must keep them semantically equivalent - the sync feed scopes rows by
// Fragment while mutations are checked by Check, and divergence means a
// row visible through sync but not writable, or the reverse.
package access

import (
	"github.com/driftline/driftline/internal/filter"
)

// Principal is an authenticated identity: an opaque id plus arbitrary
// claims (group membership, roles) consumed by predicates. The sync
// layer never interprets claims itself.
type Principal struct {
	ID     string
	Claims map[string]any
}

// Claim returns a claim value by name.
func (p Principal) Claim(name string) (any, bool) {
	v, ok := p.Claims[name]
	return v, ok
}

// StringClaim returns a string-valued claim, or "" if absent or not a
// string.
func (p Principal) StringClaim(name string) string {
	if s, ok := p.Claims[name].(string); ok {
		return s
	}
	return ""
}

// StringsClaim returns a list-of-strings claim. Accepts both []string
// and []any (the shape YAML and JSON decoders produce).
func (p Principal) StringsClaim(name string) []string {
	switch v := p.Claims[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Op identifies the kind of operation being checked.
type Op int

const (
	// OpList is the read/sync path. Scoped by the entity's sync filter.
	OpList Op = iota + 1
	// OpCreate checks the proposed payload.
	OpCreate
	// OpUpdate checks the EXISTING row, never the proposed payload.
	OpUpdate
	// OpDelete checks the existing row.
	OpDelete
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpList:
		return "list"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool
	// Reason explains a denial. Recorded for audit; callers must not
	// forward it to the denied principal.
	Reason string
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision with an audit reason.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Predicate is an access rule for one operation on one entity.
//
// Check decides in-process. Fragment, when non-nil, expresses the same
// rule as a storage-layer filter for the given principal; it is used
// where the rule must scope a bulk query (sync feeds) rather than gate
// a single row.
type Predicate struct {
	Check    func(p Principal, row filter.Row) bool
	Fragment func(p Principal) filter.Expr
}

// Decide evaluates the predicate for a principal and row.
//
// A predicate with neither Check nor Fragment denies everything - an
// unconfigured rule must fail closed.
func (pr Predicate) Decide(p Principal, row filter.Row) Decision {
	switch {
	case pr.Check != nil:
		if pr.Check(p, row) {
			return Allow()
		}
		return Deny("predicate rejected row")
	case pr.Fragment != nil:
		ok, err := filter.Eval(pr.Fragment(p), row)
		if err != nil {
			return Deny("predicate evaluation failed: " + err.Error())
		}
		if ok {
			return Allow()
		}
		return Deny("predicate rejected row")
	default:
		return Deny("no predicate configured")
	}
}

// FromExpr builds a predicate whose in-process check is derived from
// the fragment itself, making check/fragment divergence impossible.
func FromExpr(fragment func(p Principal) filter.Expr) Predicate {
	return Predicate{
		Check: func(p Principal, row filter.Row) bool {
			ok, err := filter.Eval(fragment(p), row)
			return err == nil && ok
		},
		Fragment: fragment,
	}
}

// AllowAll permits every principal and row.
func AllowAll() Predicate {
	return FromExpr(func(Principal) filter.Expr { return filter.All{} })
}

// DenyAll rejects every principal and row.
func DenyAll() Predicate {
	return Predicate{
		Check: func(Principal, filter.Row) bool { return false },
	}
}
