// Package feed maintains one resumable, filtered change-feed
// subscription per entity and principal.
//
// A Subscriber converts raw change-log entries into typed deltas,
// scopes them by the entity's sync filter for its principal, and
// delivers them to its Sink strictly in log order: no reordering, no
// drops. Delivery is at-least-once - after a failed delivery the same
// delta is re-delivered on the next poll, so sinks must apply deltas
// idempotently. The cursor advances only after a successful delivery.
//
// Scoping mirrors List exactly: an insert outside the principal's
// scope is skipped, and an update whose new value falls outside the
// scope is delivered as a delete, so a row that leaves the scope also
// leaves the client. A row reachable through sync but not through list
// would be an access leak.
//
// When the subscriber's cursor falls behind the store's retention
// horizon the history needed to catch up is gone. The subscriber then
// escalates to Sink.Resync (discard local state, reload via list) and
// resumes from the current head of the log.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/driftline/driftline/internal/access"
	"github.com/driftline/driftline/internal/entity"
	"github.com/driftline/driftline/internal/filter"
	"github.com/driftline/driftline/internal/store"
	"github.com/driftline/driftline/internal/syncerr"
)

// Kind is the type of a delta.
type Kind int

const (
	// KindInsert introduces a new key.
	KindInsert Kind = iota + 1
	// KindUpdate replaces the value of an existing key.
	KindUpdate
	// KindDelete removes a key. Value is nil.
	KindDelete
)

// String returns the delta kind as a string.
func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Delta is one typed change delivered to a sink.
type Delta struct {
	Kind     Kind
	Key      string
	Value    entity.Row // nil for deletes
	Position int64
	TxnID    string
}

// Sink receives deltas in log order. Implemented by the collection
// store.
type Sink interface {
	// ApplyDelta applies one delta. Must be idempotent: the same delta
	// may be delivered twice after a transient failure.
	ApplyDelta(Delta) error

	// Resync tells the sink its local state is unrecoverable: discard
	// everything (including pending mutations) and reload via list.
	Resync() error
}

// DefaultInterval is the poll interval between change-log reads.
const DefaultInterval = 250 * time.Millisecond

// DefaultBatch is the maximum deltas fetched per poll.
const DefaultBatch = 256

// Subscriber tails the change log of one entity on behalf of one
// principal.
//
// Run must be called from exactly one goroutine. Position is safe from
// any goroutine.
type Subscriber struct {
	store     *store.Store
	def       *entity.Definition
	principal access.Principal
	scope     filter.Expr
	sink      Sink
	interval  time.Duration
	batch     int
	logger    *slog.Logger

	pos atomic.Int64
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) SubscriberOption {
	return func(s *Subscriber) { s.interval = d }
}

// WithBatch sets the per-poll fetch limit.
func WithBatch(n int) SubscriberOption {
	return func(s *Subscriber) { s.batch = n }
}

// WithLogger sets the subscriber's logger.
func WithLogger(l *slog.Logger) SubscriberOption {
	return func(s *Subscriber) { s.logger = l }
}

// StartAt resumes the subscription from a saved cursor position.
func StartAt(pos int64) SubscriberOption {
	return func(s *Subscriber) { s.pos.Store(pos) }
}

// New creates a subscriber for one entity and principal, starting at
// the beginning of the log unless StartAt is given. The principal's
// sync filter is fixed at creation; a membership change takes effect on
// the next subscription.
func New(st *store.Store, def *entity.Definition, p access.Principal, sink Sink, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		store:     st,
		def:       def,
		principal: p,
		scope:     def.Scope(p),
		sink:      sink,
		interval:  DefaultInterval,
		batch:     DefaultBatch,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Position returns the current cursor: the highest log position whose
// delta has been delivered. Replaying from this position reproduces the
// sink's state exactly.
func (s *Subscriber) Position() int64 {
	return s.pos.Load()
}

// Run polls the change log until the context is cancelled. Transient
// store errors are logged and retried on the next tick; nothing is
// skipped. Returns the context's error on cancellation.
func (s *Subscriber) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Poll(ctx); err != nil {
			s.logger.Warn("feed poll failed; will retry",
				"entity", s.def.Name,
				"position", s.Position(),
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll performs one fetch-and-deliver step. Exported so tests (and
// callers that want synchronous catch-up) can drive the subscriber
// deterministically without the timer loop.
func (s *Subscriber) Poll(ctx context.Context) error {
	for {
		changes, err := s.store.Changes(ctx, s.def.Name, s.pos.Load(), s.batch)
		if syncerr.IsResyncRequired(err) {
			return s.resync(ctx)
		}
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}

		for _, c := range changes {
			delta, deliver := s.scoped(toDelta(c))
			if deliver {
				if err := s.sink.ApplyDelta(delta); err != nil {
					// Cursor not advanced: the delta is re-delivered
					// next poll. Sinks apply idempotently.
					return fmt.Errorf("apply delta at %d: %w", c.Position, err)
				}
			}
			s.pos.Store(c.Position)
		}

		if len(changes) < s.batch {
			return nil
		}
		// Full batch: more may be waiting, keep draining.
	}
}

// resync escalates a stale cursor to the sink and jumps to the log
// head. The head is captured BEFORE the sink reloads: a write committed
// between the head read and the reload appears both in the reload and
// on the feed afterwards, which is safe because delta application is
// idempotent. Capturing after the reload could skip such a write.
func (s *Subscriber) resync(ctx context.Context) error {
	head, err := s.store.HeadPosition(ctx, s.def.Name)
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	if err := s.sink.Resync(); err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	s.pos.Store(head)
	s.logger.Info("feed resynced",
		"entity", s.def.Name,
		"position", head,
	)
	return nil
}

// scoped applies the principal's sync filter to a delta. Deletes pass
// through unchanged (the value is gone; removing an unknown key is an
// idempotent no-op). An out-of-scope insert is dropped; an out-of-scope
// update becomes a delete so the row leaves the client too. A filter
// that fails to evaluate scopes to nothing.
func (s *Subscriber) scoped(d Delta) (Delta, bool) {
	if d.Kind == KindDelete {
		return d, true
	}
	ok, err := filter.Eval(s.scope, d.Value)
	if err != nil {
		s.logger.Warn("sync filter evaluation failed; row scoped out",
			"entity", s.def.Name,
			"key", d.Key,
			"principal", s.principal.ID,
			"error", err,
		)
		ok = false
	}
	if ok {
		return d, true
	}
	if d.Kind == KindUpdate {
		d.Kind = KindDelete
		d.Value = nil
		return d, true
	}
	return d, false
}

// toDelta converts a raw change-log entry into a typed delta.
func toDelta(c store.Change) Delta {
	d := Delta{
		Key:      c.Key,
		Value:    c.Value,
		Position: c.Position,
		TxnID:    c.TxnID,
	}
	switch c.Op {
	case store.OpInsert:
		d.Kind = KindInsert
	case store.OpUpdate:
		d.Kind = KindUpdate
	case store.OpDelete:
		d.Kind = KindDelete
	}
	return d
}
