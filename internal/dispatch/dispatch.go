// Package dispatch sends pending local mutations to the server and
// feeds the results back into the optimistic collections.
//
// Delivery is at most once. A mutation is sent exactly one time; when
// the call errors before a transaction id is issued the mutation is
// rolled back and the error surfaced. The dispatcher never retries on
// its own - a transport error is ambiguous (the write may have landed)
// and resending it could apply the mutation twice. Recovery from an
// ambiguous failure is the feed's job: a write that did land arrives as
// a delta, and MarkTimedOut keeps the overlay alive long enough for a
// late transaction id to reconcile.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/driftline/driftline/internal/access"
	"github.com/driftline/driftline/internal/collection"
	"github.com/driftline/driftline/internal/entity"
	"github.com/driftline/driftline/internal/syncerr"
)

// Method names a mutating server operation.
type Method int

const (
	MethodCreate Method = iota + 1
	MethodUpdate
	MethodDelete
)

// String returns the method name.
func (m Method) String() string {
	switch m {
	case MethodCreate:
		return "create"
	case MethodUpdate:
		return "update"
	case MethodDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Request is one mutation on the wire.
type Request struct {
	Method    Method
	Entity    string
	Key       string
	Payload   entity.Row
	Principal access.Principal
}

// Response carries the server's acknowledgement of a write.
type Response struct {
	Key   string
	TxnID string
}

// Transport delivers a request to the server. Implementations return
// taxonomy errors as-is; anything else is wrapped as a transport error
// by the dispatcher.
type Transport interface {
	Call(ctx context.Context, req Request) (Response, error)
}

// Dispatcher submits pending mutations over a transport on behalf of
// one principal.
type Dispatcher struct {
	transport Transport
	principal access.Principal
	logger    *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatch logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// New builds a dispatcher for one principal.
func New(t Transport, p access.Principal, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		transport: t,
		principal: p,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit sends one pending mutation from a collection. On success the
// server's transaction id is attached and the mutation waits for its
// feed delta. On error the mutation is rolled back and the taxonomy
// error returned.
func (d *Dispatcher) Submit(ctx context.Context, col *collection.Collection, p *collection.Pending) error {
	req := Request{
		Entity:    col.Entity(),
		Key:       p.Key,
		Payload:   p.Delta,
		Principal: d.principal,
	}
	switch p.Kind {
	case collection.MutationInsert:
		req.Method = MethodCreate
	case collection.MutationUpdate:
		req.Method = MethodUpdate
	case collection.MutationDelete:
		req.Method = MethodDelete
	default:
		return fmt.Errorf("unknown mutation kind %d", p.Kind)
	}

	col.MarkInFlight(p)

	resp, err := d.transport.Call(ctx, req)
	if err != nil {
		if syncerr.CodeOf(err) == "" {
			err = syncerr.Newf(syncerr.CodeTransport, "%s %s: %v", req.Method, req.Entity, err).
				WithEntity(req.Entity, req.Key)
		}
		d.logger.Warn("mutation rejected",
			"entity", req.Entity,
			"method", req.Method.String(),
			"key", req.Key,
			"code", string(syncerr.CodeOf(err)),
		)
		col.Fail(p, err)
		return err
	}

	col.AttachTxn(p, resp.TxnID)
	d.logger.Debug("mutation acknowledged",
		"entity", req.Entity,
		"method", req.Method.String(),
		"key", resp.Key,
		"txn_id", resp.TxnID,
	)
	return nil
}
