// Package testutil provides deterministic sources for tests.
//
// Production code draws transaction ids and keys from UUIDv7 and time
// from the wall clock; tests swap these for the sources here so the
// same scenario produces identical ids and timings on every run.
package testutil

import (
	"fmt"
	"sync"
)

// Tokens hands out sequential tokens with a fixed prefix: "txn-000001",
// "txn-000002", and so on. Safe for concurrent use.
type Tokens struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewTokens creates a token source. The first token is <prefix>-000001.
func NewTokens(prefix string) *Tokens {
	return &Tokens{prefix: prefix}
}

// Next returns the next token in sequence.
func (t *Tokens) Next() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return fmt.Sprintf("%s-%06d", t.prefix, t.seq)
}

// Issued returns how many tokens have been handed out.
func (t *Tokens) Issued() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Reset rewinds the sequence so a scenario can be replayed with
// identical tokens.
func (t *Tokens) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq = 0
}
