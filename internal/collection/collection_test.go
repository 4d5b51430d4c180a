package collection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/entity"
	"github.com/driftline/driftline/internal/feed"
	"github.com/driftline/driftline/internal/syncerr"
)

type fixedKeys struct {
	keys []string
}

func (f *fixedKeys) Next() string {
	if len(f.keys) == 0 {
		panic("fixed key source exhausted")
	}
	k := f.keys[0]
	f.keys = f.keys[1:]
	return k
}

func TestInsert_VisibleImmediately(t *testing.T) {
	c := New("notes", WithKeySource(&fixedKeys{keys: []string{"n-1"}}))

	p := c.Insert(entity.Row{"title": "draft"})
	require.Equal(t, StateLocal, p.State)
	require.Equal(t, "n-1", p.Key)

	row, ok := c.Get("n-1")
	require.True(t, ok)
	assert.Equal(t, "draft", row["title"])
	assert.Equal(t, "n-1", row["id"])
}

func TestInsert_KeepsClientKey(t *testing.T) {
	c := New("notes")

	p := c.Insert(entity.Row{"id": "mine", "title": "x"})
	assert.Equal(t, "mine", p.Key)

	_, ok := c.Get("mine")
	assert.True(t, ok)
}

func TestGet_ReturnedRowsDoNotAliasState(t *testing.T) {
	c := New("notes")
	t.Cleanup(c.Close)

	require.NoError(t, c.ApplyDelta(feed.Delta{
		Kind:  feed.KindInsert,
		Key:   "n-1",
		TxnID: "txn-1",
		Value: entity.Row{
			"id":   "n-1",
			"tags": []any{"a"},
			"meta": map[string]any{"pinned": true},
		},
	}))

	// Mutating a returned row, nested values included, must not leak
	// into confirmed state or later reads.
	row, ok := c.Get("n-1")
	require.True(t, ok)
	row["meta"].(map[string]any)["pinned"] = false
	row["tags"].([]any)[0] = "z"

	again, ok := c.Get("n-1")
	require.True(t, ok)
	assert.Equal(t, true, again["meta"].(map[string]any)["pinned"])
	assert.Equal(t, []any{"a"}, again["tags"])

	// The same holds for a pending update's delta.
	_, err := c.Update("n-1", entity.Row{"meta": map[string]any{"pinned": false}})
	require.NoError(t, err)
	row, ok = c.Get("n-1")
	require.True(t, ok)
	row["meta"].(map[string]any)["pinned"] = true

	again, ok = c.Get("n-1")
	require.True(t, ok)
	assert.Equal(t, false, again["meta"].(map[string]any)["pinned"])
}

func TestUpdate_LayersOnConfirmed(t *testing.T) {
	c := New("notes")
	require.NoError(t, c.ApplyDelta(feed.Delta{
		Kind: feed.KindInsert, Key: "n-1",
		Value: entity.Row{"id": "n-1", "title": "old", "body": "keep"},
	}))

	_, err := c.Update("n-1", entity.Row{"title": "new"})
	require.NoError(t, err)

	row, ok := c.Get("n-1")
	require.True(t, ok)
	assert.Equal(t, "new", row["title"])
	assert.Equal(t, "keep", row["body"])

	// Confirmed state itself is untouched until the feed says so.
	require.Equal(t, 1, c.PendingCount())
}

func TestUpdate_UnknownKey(t *testing.T) {
	c := New("notes")

	_, err := c.Update("ghost", entity.Row{"title": "x"})
	require.Error(t, err)
	assert.True(t, syncerr.IsNotFound(err))
}

func TestDelete_Tombstones(t *testing.T) {
	c := New("notes")
	require.NoError(t, c.ApplyDelta(feed.Delta{
		Kind: feed.KindInsert, Key: "n-1", Value: entity.Row{"id": "n-1"},
	}))

	_, err := c.Delete("n-1")
	require.NoError(t, err)

	_, ok := c.Get("n-1")
	assert.False(t, ok)
	assert.Empty(t, c.All())
}

func TestStateMachine_SettlesOnMatchingTxn(t *testing.T) {
	c := New("notes", WithKeySource(&fixedKeys{keys: []string{"n-1"}}))

	p := c.Insert(entity.Row{"title": "draft"})
	c.MarkInFlight(p)
	require.Equal(t, StateInFlight, p.State)

	c.AttachTxn(p, "txn-1")
	require.Equal(t, StateAwaitingSync, p.State)
	require.Equal(t, 1, c.PendingCount())

	require.NoError(t, c.ApplyDelta(feed.Delta{
		Kind:  feed.KindInsert,
		Key:   "n-1",
		Value: entity.Row{"id": "n-1", "title": "draft", "rev": int64(1)},
		TxnID: "txn-1",
	}))

	assert.Equal(t, StateSettled, p.State)
	assert.Equal(t, 0, c.PendingCount())

	// The feed value, including server-added fields, is now truth.
	row, ok := c.Get("n-1")
	require.True(t, ok)
	assert.Equal(t, int64(1), row["rev"])
}

func TestApplyDelta_ForeignTxnDoesNotSettle(t *testing.T) {
	c := New("notes")
	require.NoError(t, c.ApplyDelta(feed.Delta{
		Kind: feed.KindInsert, Key: "n-1", Value: entity.Row{"id": "n-1", "title": "old"},
	}))

	p, err := c.Update("n-1", entity.Row{"title": "mine"})
	require.NoError(t, err)
	c.MarkInFlight(p)
	c.AttachTxn(p, "txn-mine")

	// Concurrent edit by someone else lands first.
	require.NoError(t, c.ApplyDelta(feed.Delta{
		Kind:  feed.KindUpdate,
		Key:   "n-1",
		Value: entity.Row{"id": "n-1", "title": "theirs", "tag": "t"},
		TxnID: "txn-theirs",
	}))

	// Still pending, and the local delta stays layered on the new base.
	require.Equal(t, 1, c.PendingCount())
	row, ok := c.Get("n-1")
	require.True(t, ok)
	assert.Equal(t, "mine", row["title"])
	assert.Equal(t, "t", row["tag"])

	// Our own confirmation settles it.
	require.NoError(t, c.ApplyDelta(feed.Delta{
		Kind:  feed.KindUpdate,
		Key:   "n-1",
		Value: entity.Row{"id": "n-1", "title": "mine", "tag": "t"},
		TxnID: "txn-mine",
	}))
	assert.Equal(t, 0, c.PendingCount())
}

func TestApplyDelta_ConfirmationValueWins(t *testing.T) {
	c := New("notes", WithKeySource(&fixedKeys{keys: []string{"n-1"}}))

	p := c.Insert(entity.Row{"title": "client guess"})
	c.MarkInFlight(p)
	c.AttachTxn(p, "txn-1")

	require.NoError(t, c.ApplyDelta(feed.Delta{
		Kind:  feed.KindInsert,
		Key:   "n-1",
		Value: entity.Row{"id": "n-1", "title": "server truth"},
		TxnID: "txn-1",
	}))

	row, ok := c.Get("n-1")
	require.True(t, ok)
	assert.Equal(t, "server truth", row["title"])
}

func TestApplyDelta_Idempotent(t *testing.T) {
	c := New("notes")
	d := feed.Delta{
		Kind: feed.KindInsert, Key: "n-1",
		Value: entity.Row{"id": "n-1", "title": "x"}, TxnID: "txn-1",
	}
	require.NoError(t, c.ApplyDelta(d))
	require.NoError(t, c.ApplyDelta(d))

	assert.Len(t, c.All(), 1)
}

func TestFail_RollsBackOverlay(t *testing.T) {
	c := New("notes")
	require.NoError(t, c.ApplyDelta(feed.Delta{
		Kind: feed.KindInsert, Key: "n-1", Value: entity.Row{"id": "n-1", "title": "old"},
	}))

	p, err := c.Update("n-1", entity.Row{"title": "rejected"})
	require.NoError(t, err)
	c.MarkInFlight(p)

	var failed []Event
	c.Subscribe(func(ev Event) {
		if ev.Kind == EventFailed {
			failed = append(failed, ev)
		}
	})

	cause := syncerr.New(syncerr.CodeAccessDenied, "access denied")
	c.Fail(p, cause)

	row, ok := c.Get("n-1")
	require.True(t, ok)
	assert.Equal(t, "old", row["title"])
	assert.Equal(t, 0, c.PendingCount())
	require.Len(t, failed, 1)
	assert.True(t, errors.Is(failed[0].Err, cause))
}

func TestFail_InsertDisappears(t *testing.T) {
	c := New("notes", WithKeySource(&fixedKeys{keys: []string{"n-1"}}))

	p := c.Insert(entity.Row{"title": "doomed"})
	c.MarkInFlight(p)
	c.Fail(p, errors.New("boom"))

	_, ok := c.Get("n-1")
	assert.False(t, ok)
}

func TestMarkTimedOut_ReportsButKeepsTracking(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := New("notes", WithKeySource(&fixedKeys{keys: []string{"n-1"}}), WithClock(clock))

	p := c.Insert(entity.Row{"title": "slow"})
	c.MarkInFlight(p)

	var failed int
	c.Subscribe(func(ev Event) {
		if ev.Kind == EventFailed {
			failed++
		}
	})

	now = now.Add(10 * time.Second)
	timedOut := c.MarkTimedOut(5 * time.Second)
	require.Len(t, timedOut, 1)
	assert.True(t, p.TimedOut)
	assert.Equal(t, 1, failed)

	// Reported once, not again.
	assert.Empty(t, c.MarkTimedOut(5*time.Second))

	// Overlay survives: the call may still have succeeded server-side.
	_, ok := c.Get("n-1")
	assert.True(t, ok)
	require.Equal(t, 1, c.PendingCount())

	// A late transaction id plus its delta reconciles normally.
	c.AttachTxn(p, "txn-late")
	require.NoError(t, c.ApplyDelta(feed.Delta{
		Kind:  feed.KindInsert,
		Key:   "n-1",
		Value: entity.Row{"id": "n-1", "title": "slow"},
		TxnID: "txn-late",
	}))
	assert.Equal(t, 0, c.PendingCount())
}

func TestResync_DropsPendingAndReloads(t *testing.T) {
	loaded := []entity.Row{
		{"id": "a", "title": "server a"},
		{"id": "b", "title": "server b"},
	}
	c := New("notes",
		WithKeySource(&fixedKeys{keys: []string{"local-1"}}),
		WithLoader(func() ([]entity.Row, error) { return loaded, nil }),
	)
	require.NoError(t, c.ApplyDelta(feed.Delta{
		Kind: feed.KindInsert, Key: "a", Value: entity.Row{"id": "a", "title": "stale"},
	}))
	c.Insert(entity.Row{"title": "never confirmed"})

	var resyncs int
	c.Subscribe(func(ev Event) {
		if ev.Kind == EventResync {
			resyncs++
		}
	})

	require.NoError(t, c.Resync())

	assert.Equal(t, 0, c.PendingCount())
	assert.Equal(t, 1, resyncs)

	rows := c.All()
	require.Len(t, rows, 2)
	assert.Equal(t, "server a", rows[0]["title"])
	_, ok := c.Get("local-1")
	assert.False(t, ok)
}

func TestResync_LoaderError(t *testing.T) {
	c := New("notes", WithLoader(func() ([]entity.Row, error) {
		return nil, errors.New("list failed")
	}))
	require.Error(t, c.Resync())

	// No loader configured is also an error, not a silent no-op.
	bare := New("notes")
	require.Error(t, bare.Resync())
}

func TestClose_DiscardsAndIgnoresLateDeliveries(t *testing.T) {
	c := New("notes", WithKeySource(&fixedKeys{keys: []string{"n-1"}}))

	p := c.Insert(entity.Row{"title": "x"})
	c.MarkInFlight(p)

	var events int
	c.Subscribe(func(Event) { events++ })

	c.Close()
	assert.Equal(t, 0, c.PendingCount())

	c.AttachTxn(p, "txn-1")
	assert.NotEqual(t, StateAwaitingSync, p.State)

	require.NoError(t, c.ApplyDelta(feed.Delta{
		Kind: feed.KindInsert, Key: "n-2", Value: entity.Row{"id": "n-2"},
	}))
	_, ok := c.Get("n-2")
	assert.False(t, ok)
	assert.Equal(t, 0, events)
}

func TestObservable_SameKeyMutationsInOrder(t *testing.T) {
	c := New("notes")
	require.NoError(t, c.ApplyDelta(feed.Delta{
		Kind: feed.KindInsert, Key: "n-1", Value: entity.Row{"id": "n-1", "title": "v0"},
	}))

	_, err := c.Update("n-1", entity.Row{"title": "v1"})
	require.NoError(t, err)
	_, err = c.Update("n-1", entity.Row{"title": "v2", "extra": true})
	require.NoError(t, err)

	row, ok := c.Get("n-1")
	require.True(t, ok)
	assert.Equal(t, "v2", row["title"])
	assert.Equal(t, true, row["extra"])
}

func TestSubscribe_CancelStopsDelivery(t *testing.T) {
	c := New("notes")

	var events int
	cancel := c.Subscribe(func(Event) { events++ })

	c.Insert(entity.Row{"id": "a"})
	require.Equal(t, 1, events)

	cancel()
	c.Insert(entity.Row{"id": "b"})
	assert.Equal(t, 1, events)
}

func TestObserver_MayReadReentrantly(t *testing.T) {
	c := New("notes")

	var seen int
	c.Subscribe(func(ev Event) {
		seen = len(c.All())
	})

	c.Insert(entity.Row{"id": "a"})
	assert.Equal(t, 1, seen)
}

func TestRegistry(t *testing.T) {
	notes := New("notes")
	files := New("files")

	r, err := NewRegistry(notes, files)
	require.NoError(t, err)
	assert.Same(t, notes, r.Get("notes"))
	assert.Same(t, files, r.Get("files"))
	assert.Nil(t, r.Get("absent"))

	_, err = NewRegistry(New("dup"), New("dup"))
	require.Error(t, err)

	r.Close()
	require.NoError(t, notes.ApplyDelta(feed.Delta{
		Kind: feed.KindInsert, Key: "x", Value: entity.Row{"id": "x"},
	}))
	_, ok := notes.Get("x")
	assert.False(t, ok)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "local", StateLocal.String())
	assert.Equal(t, "awaiting-sync", StateAwaitingSync.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "insert", MutationInsert.String())
	assert.Equal(t, "delete", MutationDelete.String())
}
