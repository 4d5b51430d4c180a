// Package store is the SQLite storage engine for the sync layer.
//
// It owns two things: the current rows of every entity (one generic
// records table, with denormalized columns for hierarchical entities)
// and the change log (an ordered, resumable feed of row deltas).
//
// DESIGN RULES:
//
// Atomic check-then-write. Update and Delete accept a Guard evaluated
// against the current row inside the same transaction as the write.
// Access predicates re-checked through the guard therefore observe the
// exact row snapshot the write applies to - no two concurrent writers
// can race a stale predicate past each other.
//
// Log-follows-write. The change-log append happens in the write's
// transaction. Log order is commit order, and a transaction id returned
// by a write is guaranteed to appear on the feed exactly once.
//
// Invariants in the engine, not the client. Tree entities get their
// uniqueness constraint from a unique index and their acyclicity from a
// recursive-CTE ancestor walk inside the write transaction. Client-side
// validation is a courtesy; this is the enforcement.
package store
