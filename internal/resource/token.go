package resource

import (
	"sync"

	"github.com/google/uuid"
)

// TokenSource issues transaction ids for writes.
// Implemented by UUIDv7Source (production) and FixedSource (tests).
type TokenSource interface {
	Next() string
}

// UUIDv7Source generates time-sortable UUIDv7 transaction ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids sort
// by issue time - convenient when eyeballing a change log.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Source struct{}

// Next returns a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Source) Next() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedSource returns predetermined ids for deterministic tests.
//
// Panics when exhausted - fail-fast for a test issuing more writes than
// it declared.
type FixedSource struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedSource creates a source that returns ids in order.
func NewFixedSource(ids ...string) *FixedSource {
	return &FixedSource{ids: ids}
}

// Next returns the next predetermined id.
func (f *FixedSource) Next() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.idx >= len(f.ids) {
		panic("FixedSource: all ids exhausted")
	}
	id := f.ids[f.idx]
	f.idx++
	return id
}
