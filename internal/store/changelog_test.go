package store

import (
	"context"
	"testing"

	"github.com/driftline/driftline/internal/entity"
	"github.com/driftline/driftline/internal/syncerr"
)

func TestChanges_OrderAndContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	def := noteDef()

	if _, err := s.Insert(ctx, def, entity.Row{"id": "n1", "text": "hi"}, "txn-1"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Update(ctx, def, "n1", entity.Row{"text": "hello"}, nil, "txn-2"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Delete(ctx, def, "n1", nil, "txn-3"); err != nil {
		t.Fatal(err)
	}

	changes, err := s.Changes(ctx, "notes", 0, 100)
	if err != nil {
		t.Fatalf("Changes() failed: %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("got %d changes, want 3", len(changes))
	}

	if changes[0].Op != OpInsert || changes[0].TxnID != "txn-1" {
		t.Errorf("change 0 = %+v", changes[0])
	}
	if changes[1].Op != OpUpdate || changes[1].Value["text"] != "hello" {
		t.Errorf("change 1 = %+v", changes[1])
	}
	if changes[2].Op != OpDelete || changes[2].Value != nil {
		t.Errorf("change 2 = %+v", changes[2])
	}

	// Positions strictly increase.
	for i := 1; i < len(changes); i++ {
		if changes[i].Position <= changes[i-1].Position {
			t.Errorf("position %d not after %d", changes[i].Position, changes[i-1].Position)
		}
	}
}

func TestChanges_ResumeFromCursor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	def := noteDef()

	for _, id := range []string{"n1", "n2", "n3"} {
		if _, err := s.Insert(ctx, def, entity.Row{"id": id}, "txn-"+id); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.Changes(ctx, "notes", 0, 100)
	if err != nil {
		t.Fatal(err)
	}

	// Resuming from a saved position yields exactly the remainder.
	rest, err := s.Changes(ctx, "notes", all[0].Position, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 || rest[0].Position != all[1].Position {
		t.Errorf("resume returned %v", rest)
	}
}

func TestChanges_FiltersByEntity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Insert(ctx, noteDef(), entity.Row{"id": "n1"}, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Insert(ctx, folderDef(), folderRow("f1", "ws-1", nil, "docs"), "t2"); err != nil {
		t.Fatal(err)
	}

	changes, err := s.Changes(ctx, "notes", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Entity != "notes" {
		t.Errorf("changes = %v", changes)
	}
}

func TestPrune_BehindHorizonRequiresResync(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	def := noteDef()

	var lastPos int64
	for _, id := range []string{"n1", "n2", "n3"} {
		pos, err := s.Insert(ctx, def, entity.Row{"id": id}, "txn-"+id)
		if err != nil {
			t.Fatal(err)
		}
		lastPos = pos
	}

	if err := s.Prune(ctx, "notes", lastPos-1); err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}

	// A cursor before the horizon cannot catch up.
	_, err := s.Changes(ctx, "notes", 0, 100)
	if !syncerr.IsResyncRequired(err) {
		t.Fatalf("err = %v, want RESYNC_REQUIRED", err)
	}

	// A cursor at the horizon still can.
	changes, err := s.Changes(ctx, "notes", lastPos-1, 100)
	if err != nil {
		t.Fatalf("Changes() at horizon failed: %v", err)
	}
	if len(changes) != 1 || changes[0].Position != lastPos {
		t.Errorf("changes = %v", changes)
	}
}

func TestPrune_HorizonNeverMovesBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Insert(ctx, noteDef(), entity.Row{"id": "n1"}, "t1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Prune(ctx, "notes", 5); err != nil {
		t.Fatal(err)
	}
	if err := s.Prune(ctx, "notes", 2); err != nil {
		t.Fatal(err)
	}

	pruned, err := s.PrunedThrough(ctx, "notes")
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 5 {
		t.Errorf("pruned_through = %d, want 5", pruned)
	}
}

func TestHeadPosition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	head, err := s.HeadPosition(ctx, "notes")
	if err != nil {
		t.Fatal(err)
	}
	if head != 0 {
		t.Errorf("empty head = %d, want 0", head)
	}

	pos, err := s.Insert(ctx, noteDef(), entity.Row{"id": "n1"}, "t1")
	if err != nil {
		t.Fatal(err)
	}
	head, err = s.HeadPosition(ctx, "notes")
	if err != nil {
		t.Fatal(err)
	}
	if head != pos {
		t.Errorf("head = %d, want %d", head, pos)
	}

	// Pruning everything still leaves the head at the horizon so a
	// resynced subscriber does not replay pruned history.
	if err := s.Prune(ctx, "notes", pos); err != nil {
		t.Fatal(err)
	}
	head, err = s.HeadPosition(ctx, "notes")
	if err != nil {
		t.Fatal(err)
	}
	if head != pos {
		t.Errorf("head after prune = %d, want %d", head, pos)
	}
}

func TestMarshalRoundTrip_IntegersStayIntegers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := entity.Row{"id": "n1", "size": int64(42), "ratio": 0.5}
	if _, err := s.Insert(ctx, noteDef(), row, "t1"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "notes", "n1")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := got["size"].(int64); !ok || v != 42 {
		t.Errorf("size = %#v, want int64(42)", got["size"])
	}
	if v, ok := got["ratio"].(float64); !ok || v != 0.5 {
		t.Errorf("ratio = %#v, want float64(0.5)", got["ratio"])
	}
}
