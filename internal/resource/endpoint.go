// Package resource builds the uniform server-side API for an entity.
//
// Given an entity definition, New produces an Endpoint with four
// operations: list, create, update, delete. Each mutating operation
// validates the payload, evaluates the entity's access predicate,
// performs the write, and returns the transaction id that will later
// appear on the change feed for exactly this write.
//
// ACCESS RULES:
//
// Create checks the predicate against the proposed payload. Update and
// delete check it against the EXISTING row - never the incoming payload,
// which would let a caller escalate privileges by writing themselves
// into the row first. The existing-row check runs inside the store's
// write transaction (store.Guard), so the checked snapshot is the
// written snapshot.
//
// Denials are logged with row key and principal for audit; the error
// returned to the caller carries no row state.
package resource

import (
	"context"
	"log/slog"

	"github.com/driftline/driftline/internal/access"
	"github.com/driftline/driftline/internal/entity"
	"github.com/driftline/driftline/internal/store"
	"github.com/driftline/driftline/internal/syncerr"
)

// WriteResult reports a completed write: the row key (server-assigned
// on create when the payload carried none), the transaction id, and the
// change-log position of the write.
type WriteResult struct {
	Key      string
	TxnID    string
	Position int64
}

// Endpoint exposes the four operations for one entity.
type Endpoint struct {
	def    *entity.Definition
	store  *store.Store
	tokens TokenSource
	keys   TokenSource
	logger *slog.Logger
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithTokenSource overrides the transaction-id source (tests).
func WithTokenSource(ts TokenSource) Option {
	return func(e *Endpoint) { e.tokens = ts }
}

// WithKeySource overrides the server-assigned key source (tests).
func WithKeySource(ks TokenSource) Option {
	return func(e *Endpoint) { e.keys = ks }
}

// WithLogger sets the audit logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) { e.logger = l }
}

// New builds the endpoint for an entity definition.
func New(def *entity.Definition, s *store.Store, opts ...Option) *Endpoint {
	e := &Endpoint{
		def:    def,
		store:  s,
		tokens: UUIDv7Source{},
		keys:   UUIDv7Source{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Definition returns the entity definition this endpoint serves.
func (e *Endpoint) Definition() *entity.Definition {
	return e.def
}

// List returns all rows the principal's sync filter admits.
// Read-only; no transaction id.
func (e *Endpoint) List(ctx context.Context, p access.Principal) ([]entity.Row, error) {
	return e.store.List(ctx, e.def, e.def.Scope(p))
}

// Create validates the payload, checks the create predicate against it,
// and performs the write. Returns the new row's key and transaction id.
func (e *Endpoint) Create(ctx context.Context, p access.Principal, payload entity.Row) (WriteResult, error) {
	validated, err := e.def.CreateSchema.Validate(payload)
	if err != nil {
		return WriteResult{}, err
	}
	validated = e.normalize(validated)

	if d := e.def.Create.Decide(p, validated); !d.Allowed {
		return WriteResult{}, e.deny(access.OpCreate, p, e.def.ExtractKey(validated), d)
	}

	key := e.def.ExtractKey(validated)
	if key == "" {
		key = e.keys.Next()
		validated["id"] = key
	}

	txnID := e.tokens.Next()
	position, err := e.store.Insert(ctx, e.def, validated, txnID)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Key: key, TxnID: txnID, Position: position}, nil
}

// Update validates the patch and applies it to an existing row. The
// update predicate is evaluated against the existing row inside the
// write transaction; NOT_FOUND if the key is absent.
func (e *Endpoint) Update(ctx context.Context, p access.Principal, key string, patch entity.Row) (WriteResult, error) {
	validated, err := e.def.UpdateSchema.Validate(patch)
	if err != nil {
		return WriteResult{}, err
	}
	validated = e.normalize(validated)

	txnID := e.tokens.Next()
	guard := func(current entity.Row) error {
		if d := e.def.Update.Decide(p, current); !d.Allowed {
			return e.deny(access.OpUpdate, p, key, d)
		}
		return nil
	}

	position, _, err := e.store.Update(ctx, e.def, key, validated, guard, txnID)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Key: key, TxnID: txnID, Position: position}, nil
}

// Delete removes a row after checking the delete predicate against the
// existing row inside the write transaction.
func (e *Endpoint) Delete(ctx context.Context, p access.Principal, key string) (WriteResult, error) {
	txnID := e.tokens.Next()
	guard := func(current entity.Row) error {
		if d := e.def.Delete.Decide(p, current); !d.Allowed {
			return e.deny(access.OpDelete, p, key, d)
		}
		return nil
	}

	position, err := e.store.Delete(ctx, e.def, key, guard, txnID)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Key: key, TxnID: txnID, Position: position}, nil
}

// normalize applies the definition's normalization hook, if any.
func (e *Endpoint) normalize(row entity.Row) entity.Row {
	if e.def.Normalize != nil {
		return e.def.Normalize(row)
	}
	return row
}

// deny logs the denial with full audit context and returns the
// taxonomy error without it.
func (e *Endpoint) deny(op access.Op, p access.Principal, key string, d access.Decision) error {
	e.logger.Warn("access denied",
		"entity", e.def.Name,
		"op", op.String(),
		"key", key,
		"principal", p.ID,
		"reason", d.Reason,
	)
	return syncerr.New(syncerr.CodeAccessDenied, "operation not permitted").
		WithEntity(e.def.Name, key)
}
