package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/access"
	"github.com/driftline/driftline/internal/collection"
	"github.com/driftline/driftline/internal/dispatch"
	"github.com/driftline/driftline/internal/entity"
	"github.com/driftline/driftline/internal/feed"
	"github.com/driftline/driftline/internal/resource"
	"github.com/driftline/driftline/internal/store"
	"github.com/driftline/driftline/internal/syncerr"
	"github.com/driftline/driftline/internal/testutil"
	"github.com/driftline/driftline/internal/workspace"
)

// Runner executes one scenario against a fresh in-memory stack.
//
// Transaction ids and provisional keys come from sequential sources, so
// the same scenario produces identical traces on every run.
type Runner struct {
	scenario  *Scenario
	store     *store.Store
	folders   *collection.Collection
	files     *collection.Collection
	dispatch  *dispatch.Dispatcher
	subs      []*feed.Subscriber
	folderIDs map[string]string // folder name -> key
	fileIDs   map[string]string // file name -> key
}

// NewRunner builds the stack for a scenario. Resources are released via
// t.Cleanup.
func NewRunner(t *testing.T, sc *Scenario) *Runner {
	t.Helper()

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	txns := testutil.NewTokens("txn")
	keys := testutil.NewTokens("key")

	folderEP := resource.New(workspace.Folders(), s,
		resource.WithTokenSource(txns), resource.WithLogger(quiet))
	fileEP := resource.New(workspace.Files(), s,
		resource.WithTokenSource(txns), resource.WithLogger(quiet))

	principal := access.Principal{
		ID: sc.Principal.ID,
		Claims: map[string]any{
			workspace.ClaimWorkspaces: toAnySlice(sc.Principal.Workspaces),
		},
	}

	ctx := context.Background()
	folderCol := collection.New("folders",
		collection.WithKeySource(keys),
		collection.WithLoader(func() ([]entity.Row, error) { return folderEP.List(ctx, principal) }))
	fileCol := collection.New("files",
		collection.WithKeySource(keys),
		collection.WithLoader(func() ([]entity.Row, error) { return fileEP.List(ctx, principal) }))
	registry, err := collection.NewRegistry(folderCol, fileCol)
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	transport, err := dispatch.NewLocal(folderEP, fileEP)
	require.NoError(t, err)

	return &Runner{
		scenario: sc,
		store:    s,
		folders:  folderCol,
		files:    fileCol,
		dispatch: dispatch.New(transport, principal, dispatch.WithLogger(quiet)),
		subs: []*feed.Subscriber{
			feed.New(s, folderEP.Definition(), principal, folderCol, feed.WithLogger(quiet)),
			feed.New(s, fileEP.Definition(), principal, fileCol, feed.WithLogger(quiet)),
		},
		folderIDs: make(map[string]string),
		fileIDs:   make(map[string]string),
	}
}

// Run executes every step and checks the final expectations.
func Run(t *testing.T, sc *Scenario) *Runner {
	t.Helper()

	r := NewRunner(t, sc)
	for i, step := range sc.Steps {
		r.runStep(t, i, step)
		r.pump(t)
	}
	r.checkExpectations(t)
	return r
}

func (r *Runner) runStep(t *testing.T, idx int, step Step) {
	t.Helper()
	ctx := context.Background()

	var (
		col     *collection.Collection
		pending *collection.Pending
		err     error
	)
	switch step.Op {
	case "mkdir":
		col = r.folders
		payload := entity.Row{"workspace_id": r.scenario.Workspace, "name": step.Name}
		if step.Parent != "" {
			payload["parent_id"] = r.resolveFolder(t, idx, step.Parent)
		}
		pending = col.Insert(payload)

	case "write":
		col = r.files
		payload := entity.Row{"workspace_id": r.scenario.Workspace, "name": step.Name, "content": step.Content}
		if step.Parent != "" {
			payload["parent_id"] = r.resolveFolder(t, idx, step.Parent)
		}
		pending = col.Insert(payload)

	case "update":
		col = r.files
		pending, err = col.Update(r.resolveFile(t, idx, step.Target), entity.Row{"content": step.Content})

	case "move":
		col = r.folders
		var newParent any
		if step.Parent != "" {
			newParent = r.resolveFolder(t, idx, step.Parent)
		}
		pending, err = col.Update(r.resolveFolder(t, idx, step.Target), entity.Row{"parent_id": newParent})

	case "rm":
		col = r.files
		pending, err = col.Delete(r.resolveFile(t, idx, step.Target))

	case "rmdir":
		col = r.folders
		pending, err = col.Delete(r.resolveFolder(t, idx, step.Target))
	}
	require.NoError(t, err, "step %d (%s): local mutation", idx, step.Op)

	err = r.dispatch.Submit(ctx, col, pending)

	if step.Expect == "" {
		require.NoError(t, err, "step %d (%s)", idx, step.Op)
		r.record(step, pending.Key)
		return
	}
	require.Error(t, err, "step %d (%s): expected %s", idx, step.Op, step.Expect)
	require.Equal(t, syncerr.Code(step.Expect), syncerr.CodeOf(err),
		"step %d (%s): wrong taxonomy code", idx, step.Op)
}

// pump drains the feed into both collections.
func (r *Runner) pump(t *testing.T) {
	t.Helper()
	for _, sub := range r.subs {
		require.NoError(t, sub.Poll(context.Background()))
	}
}

func (r *Runner) record(step Step, key string) {
	switch step.Op {
	case "mkdir":
		r.folderIDs[step.Name] = key
	case "write":
		r.fileIDs[step.Name] = key
	case "rm":
		delete(r.fileIDs, step.Target)
	case "rmdir":
		delete(r.folderIDs, step.Target)
	}
}

func (r *Runner) resolveFolder(t *testing.T, idx int, name string) string {
	t.Helper()
	id, ok := r.folderIDs[name]
	require.True(t, ok, "step %d: unknown folder %q", idx, name)
	return id
}

func (r *Runner) resolveFile(t *testing.T, idx int, name string) string {
	t.Helper()
	id, ok := r.fileIDs[name]
	require.True(t, ok, "step %d: unknown file %q", idx, name)
	return id
}

func (r *Runner) checkExpectations(t *testing.T) {
	t.Helper()
	exp := r.scenario.Expect

	for name, content := range exp.Files {
		row, ok := r.files.Get(r.resolveFile(t, -1, name))
		require.True(t, ok, "expected file %q to exist", name)
		require.Equal(t, content, row["content"], "file %q content", name)
	}
	for _, name := range exp.Folders {
		_, ok := r.folders.Get(r.resolveFolder(t, -1, name))
		require.True(t, ok, "expected folder %q to exist", name)
	}
	if exp.Pending != nil {
		require.Equal(t, *exp.Pending, r.folders.PendingCount()+r.files.PendingCount(), "pending mutations")
	}
}

// Trace renders the store's change log as stable text lines for golden
// comparison.
func (r *Runner) Trace(t *testing.T) []byte {
	t.Helper()
	ctx := context.Background()

	var all []store.Change
	for _, name := range []string{"folders", "files"} {
		changes, err := r.store.Changes(ctx, name, 0, 1000)
		require.NoError(t, err)
		all = append(all, changes...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Position < all[j].Position })

	var out []byte
	for _, c := range all {
		out = append(out, fmt.Sprintf("%d %s %s %s %s\n", c.Position, c.Entity, c.Op, c.Key, c.TxnID)...)
	}
	return out
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
