// Package collection implements the client-side optimistic store for
// one entity.
//
// A Collection holds the last confirmed value per key plus an ordered
// list of pending local mutations. The externally observable value for
// a key is always the confirmed value with the key's pending deltas
// layered on top in submission order - never a torn intermediate.
//
// PENDING MUTATION LIFECYCLE:
//
//	local -> in-flight -> awaiting-sync -> settled
//	                  \-> failed (rolled back)
//
// Reconciliation is strict: a feed delta settles a pending mutation if
// and only if the delta's transaction id equals the id the server
// returned for that mutation. A delta for the same key with a different
// id is a concurrent edit by someone else; it updates confirmed state
// and leaves the pending mutation waiting for its own confirmation.
// Confirmation adopts the feed's value as ground truth even when it
// differs from what was sent - server defaults and concurrent edits
// win over the optimistic guess.
//
// CONCURRENCY:
//
// One mutex serializes mutations, feed deltas, and reads. Observers are
// notified outside the lock so a slow observer cannot stall delta
// application, and re-entrant reads from an observer cannot deadlock.
package collection

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftline/driftline/internal/entity"
	"github.com/driftline/driftline/internal/feed"
	"github.com/driftline/driftline/internal/syncerr"
)

// State is the lifecycle state of a pending mutation.
type State int

const (
	// StateLocal: applied optimistically, not yet sent.
	StateLocal State = iota + 1
	// StateInFlight: sent, awaiting the transaction id.
	StateInFlight
	// StateAwaitingSync: transaction id received, waiting for the feed.
	StateAwaitingSync
	// StateSettled: confirmed by the feed and removed.
	StateSettled
	// StateFailed: server rejected; optimistic change rolled back.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateLocal:
		return "local"
	case StateInFlight:
		return "in-flight"
	case StateAwaitingSync:
		return "awaiting-sync"
	case StateSettled:
		return "settled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MutationKind is the kind of a pending mutation.
type MutationKind int

const (
	// MutationInsert materializes a new key.
	MutationInsert MutationKind = iota + 1
	// MutationUpdate merges a delta onto the last known value.
	MutationUpdate
	// MutationDelete tombstones a key until settled.
	MutationDelete
)

// String returns the mutation kind name.
func (k MutationKind) String() string {
	switch k {
	case MutationInsert:
		return "insert"
	case MutationUpdate:
		return "update"
	case MutationDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Pending is one local mutation not yet settled. Owned exclusively by
// its Collection; callers hold it only as a handle for the dispatcher.
type Pending struct {
	Seq      int64
	Kind     MutationKind
	Key      string
	Delta    entity.Row // insert: full payload; update: patch; delete: nil
	TxnID    string
	State    State
	TimedOut bool

	sentAt time.Time
}

// EventKind classifies observer notifications.
type EventKind int

const (
	// EventChanged: the observable value for Key changed.
	EventChanged EventKind = iota + 1
	// EventFailed: a mutation for Key failed (or timed out). Err is set.
	EventFailed
	// EventResync: the whole collection was reloaded; per-key events
	// are not emitted.
	EventResync
)

// Event is an observer notification.
type Event struct {
	Kind EventKind
	Key  string
	Err  error
}

// KeySource generates provisional keys for inserts without one.
type KeySource interface {
	Next() string
}

type uuidKeys struct{}

func (uuidKeys) Next() string { return uuid.Must(uuid.NewV7()).String() }

// Loader reloads the full confirmed state, used after a resync signal.
// Typically wired to the entity endpoint's list operation.
type Loader func() ([]entity.Row, error)

// Collection is the optimistic store for one entity.
type Collection struct {
	mu sync.Mutex

	entityName string
	keys       KeySource
	loader     Loader
	now        func() time.Time

	confirmed map[string]entity.Row
	pending   []*Pending
	seq       int64

	observers map[int]func(Event)
	nextObs   int
	closed    bool
}

// CollectionOption configures a Collection.
type CollectionOption func(*Collection)

// WithKeySource overrides provisional key generation (tests).
func WithKeySource(ks KeySource) CollectionOption {
	return func(c *Collection) { c.keys = ks }
}

// WithLoader sets the full-reload hook used on resync.
func WithLoader(l Loader) CollectionOption {
	return func(c *Collection) { c.loader = l }
}

// WithClock overrides the wall clock (timeout tests).
func WithClock(now func() time.Time) CollectionOption {
	return func(c *Collection) { c.now = now }
}

// New creates an empty collection for one entity.
func New(entityName string, opts ...CollectionOption) *Collection {
	c := &Collection{
		entityName: entityName,
		keys:       uuidKeys{},
		now:        time.Now,
		confirmed:  make(map[string]entity.Row),
		observers:  make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Entity returns the entity name this collection holds.
func (c *Collection) Entity() string {
	return c.entityName
}

// Get returns the observable value for a key: last confirmed value with
// pending deltas layered on top. A key tombstoned by a pending delete
// is absent. The returned row is the caller's copy; mutating it does
// not touch collection state.
func (c *Collection) Get(key string) (entity.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observable(key)
}

// All returns every observable row, sorted by key for deterministic
// iteration.
func (c *Collection) All() []entity.Row {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make(map[string]struct{}, len(c.confirmed)+len(c.pending))
	for k := range c.confirmed {
		keys[k] = struct{}{}
	}
	for _, p := range c.pending {
		keys[p.Key] = struct{}{}
	}

	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	out := make([]entity.Row, 0, len(ordered))
	for _, k := range ordered {
		if row, ok := c.observable(k); ok {
			out = append(out, row)
		}
	}
	return out
}

// PendingCount returns the number of unsettled mutations.
func (c *Collection) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Insert applies an optimistic insert. When the payload carries no id a
// provisional key is chosen so the row is observable immediately.
func (c *Collection) Insert(payload entity.Row) *Pending {
	c.mu.Lock()

	row := cloneRow(payload)
	key, _ := row["id"].(string)
	if key == "" {
		key = c.keys.Next()
		row["id"] = key
	}

	p := c.track(MutationInsert, key, row)
	obs := c.snapshot(Event{Kind: EventChanged, Key: key})
	c.mu.Unlock()

	notify(obs)
	return p
}

// Update applies an optimistic partial update to a visible key.
func (c *Collection) Update(key string, delta entity.Row) (*Pending, error) {
	c.mu.Lock()

	if _, ok := c.observable(key); !ok {
		c.mu.Unlock()
		return nil, syncerr.New(syncerr.CodeNotFound, "no such key").WithEntity(c.entityName, key)
	}

	p := c.track(MutationUpdate, key, cloneRow(delta))
	obs := c.snapshot(Event{Kind: EventChanged, Key: key})
	c.mu.Unlock()

	notify(obs)
	return p, nil
}

// Delete tombstones a visible key until the delete settles.
func (c *Collection) Delete(key string) (*Pending, error) {
	c.mu.Lock()

	if _, ok := c.observable(key); !ok {
		c.mu.Unlock()
		return nil, syncerr.New(syncerr.CodeNotFound, "no such key").WithEntity(c.entityName, key)
	}

	p := c.track(MutationDelete, key, nil)
	obs := c.snapshot(Event{Kind: EventChanged, Key: key})
	c.mu.Unlock()

	notify(obs)
	return p, nil
}

// MarkInFlight transitions a local mutation to in-flight. Called by the
// dispatcher immediately before the network call.
func (c *Collection) MarkInFlight(p *Pending) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.State == StateLocal {
		p.State = StateInFlight
		p.sentAt = c.now()
	}
}

// AttachTxn records the transaction id the server returned and moves
// the mutation to awaiting-sync. Ignored after Close - a response for a
// torn-down store has nowhere to go.
func (c *Collection) AttachTxn(p *Pending, txnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if p.State == StateInFlight || p.State == StateLocal {
		p.TxnID = txnID
		p.State = StateAwaitingSync
	}
}

// Fail rolls back a mutation whose server call failed before a
// transaction id was issued. The optimistic overlay disappears
// immediately; the error is surfaced to observers.
func (c *Collection) Fail(p *Pending, cause error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return
	}
	p.State = StateFailed
	c.remove(p)
	obs := c.snapshot(
		Event{Kind: EventChanged, Key: p.Key},
		Event{Kind: EventFailed, Key: p.Key, Err: cause},
	)
	c.mu.Unlock()

	notify(obs)
}

// MarkTimedOut reports in-flight mutations older than bound as failed
// to observers, without rolling back: the server call may still have
// succeeded, and a late transaction id reconciles normally via the
// feed. Returns the affected mutations.
func (c *Collection) MarkTimedOut(bound time.Duration) []*Pending {
	c.mu.Lock()

	var timedOut []*Pending
	var events []Event
	cutoff := c.now().Add(-bound)
	for _, p := range c.pending {
		if p.State == StateInFlight && !p.TimedOut && p.sentAt.Before(cutoff) {
			p.TimedOut = true
			timedOut = append(timedOut, p)
			events = append(events, Event{
				Kind: EventFailed,
				Key:  p.Key,
				Err: syncerr.Newf(syncerr.CodeTransport, "mutation in flight longer than %s", bound).
					WithEntity(c.entityName, p.Key),
			})
		}
	}
	obs := c.snapshot(events...)
	c.mu.Unlock()

	notify(obs)
	return timedOut
}

// ApplyDelta implements feed.Sink. Confirmed state adopts the delta's
// value; a pending mutation whose transaction id matches is settled.
// Idempotent: re-applying a delivered delta changes nothing.
func (c *Collection) ApplyDelta(d feed.Delta) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil
	}

	switch d.Kind {
	case feed.KindInsert, feed.KindUpdate:
		c.confirmed[d.Key] = cloneRow(d.Value)
	case feed.KindDelete:
		delete(c.confirmed, d.Key)
	default:
		c.mu.Unlock()
		return fmt.Errorf("unknown delta kind %d", d.Kind)
	}

	if d.TxnID != "" {
		for _, p := range c.pending {
			if p.State == StateAwaitingSync && p.TxnID == d.TxnID {
				p.State = StateSettled
				c.remove(p)
				break
			}
		}
	}

	obs := c.snapshot(Event{Kind: EventChanged, Key: d.Key})
	c.mu.Unlock()

	notify(obs)
	return nil
}

// Resync implements feed.Sink: the feed's history is gone, so pending
// mutations can never be confirmed. Drop them all and reload confirmed
// state through the loader.
func (c *Collection) Resync() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	loader := c.loader
	c.mu.Unlock()

	if loader == nil {
		return fmt.Errorf("resync %s: no loader configured", c.entityName)
	}
	rows, err := loader()
	if err != nil {
		return fmt.Errorf("resync %s: %w", c.entityName, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.pending = nil
	c.confirmed = make(map[string]entity.Row, len(rows))
	for _, row := range rows {
		if key, ok := row["id"].(string); ok && key != "" {
			c.confirmed[key] = cloneRow(row)
		}
	}
	obs := c.snapshot(Event{Kind: EventResync})
	c.mu.Unlock()

	notify(obs)
	return nil
}

// Subscribe registers an observer. The returned cancel function
// unregisters it. Observers run outside the collection lock and may
// read the collection re-entrantly.
func (c *Collection) Subscribe(fn func(Event)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// Close tears the collection down: pending mutations are discarded (not
// settled), observers are detached, and late transaction ids or deltas
// are ignored.
func (c *Collection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.pending = nil
	c.observers = make(map[int]func(Event))
}

// observable computes confirmed-plus-pending for one key.
// Caller holds c.mu.
func (c *Collection) observable(key string) (entity.Row, bool) {
	row, exists := c.confirmed[key]
	if exists {
		row = cloneRow(row)
	}

	for _, p := range c.pending {
		if p.Key != key {
			continue
		}
		switch p.Kind {
		case MutationInsert:
			row = cloneRow(p.Delta)
			exists = true
		case MutationUpdate:
			if exists {
				for k, v := range p.Delta {
					row[k] = cloneValue(v)
				}
			}
		case MutationDelete:
			row = nil
			exists = false
		}
	}

	if !exists {
		return nil, false
	}
	return row, true
}

// track appends a new pending mutation. Caller holds c.mu.
func (c *Collection) track(kind MutationKind, key string, delta entity.Row) *Pending {
	c.seq++
	p := &Pending{
		Seq:   c.seq,
		Kind:  kind,
		Key:   key,
		Delta: delta,
		State: StateLocal,
	}
	c.pending = append(c.pending, p)
	return p
}

// remove drops a pending mutation from the ordered list.
// Caller holds c.mu.
func (c *Collection) remove(target *Pending) {
	for i, p := range c.pending {
		if p == target {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// snapshot pairs the current observer set with events so callers can
// notify after unlocking. Caller holds c.mu.
func (c *Collection) snapshot(events ...Event) []func() {
	if len(events) == 0 || len(c.observers) == 0 {
		return nil
	}
	var calls []func()
	for _, fn := range c.observers {
		fn := fn
		for _, ev := range events {
			ev := ev
			calls = append(calls, func() { fn(ev) })
		}
	}
	return calls
}

func notify(calls []func()) {
	for _, call := range calls {
		call()
	}
}

// cloneRow deep-copies a row. Values are the JSON shapes (maps,
// slices, scalars), so confirmed state, pending overlays, and rows
// handed to callers never share nested structure.
func cloneRow(row entity.Row) entity.Row {
	out := make(entity.Row, len(row))
	for k, v := range row {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
