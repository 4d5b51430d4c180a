package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/driftline/driftline/internal/entity"
	"github.com/driftline/driftline/internal/syncerr"
)

// Op is the kind of a change-log entry.
type Op string

const (
	opInsert Op = "insert"
	opUpdate Op = "update"
	opDelete Op = "delete"
)

// OpInsert, OpUpdate and OpDelete are the exported change kinds.
const (
	OpInsert = opInsert
	OpUpdate = opUpdate
	OpDelete = opDelete
)

// Change is one entry of the ordered change feed. Position is the
// opaque, strictly increasing cursor; Value is nil for deletes.
type Change struct {
	Position int64
	Entity   string
	Op       Op
	Key      string
	Value    entity.Row
	TxnID    string
}

// appendChange writes a change-log entry inside the caller's write
// transaction and returns its position.
func appendChange(ctx context.Context, tx *sql.Tx, entityName string, op Op, id string, value *string, txnID string) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO changelog (entity, op, id, value, txn_id)
		VALUES (?, ?, ?, ?, ?)
	`, entityName, string(op), id, value, txnID)
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	position, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append change: last insert id: %w", err)
	}
	return position, nil
}

// Changes returns up to limit change-log entries for an entity with
// position strictly greater than fromPos, in position order.
//
// If fromPos lies before the entity's retention horizon the history is
// gone and the caller cannot catch up incrementally: Changes fails with
// RESYNC_REQUIRED.
func (s *Store) Changes(ctx context.Context, entityName string, fromPos int64, limit int) ([]Change, error) {
	pruned, err := s.PrunedThrough(ctx, entityName)
	if err != nil {
		return nil, err
	}
	if fromPos < pruned {
		return nil, syncerr.Newf(syncerr.CodeResyncRequired,
			"cursor %d is before retention horizon %d", fromPos, pruned).
			WithEntity(entityName, "")
	}

	if limit <= 0 {
		limit = 256
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, op, id, value, txn_id
		FROM changelog
		WHERE entity = ? AND position > ?
		ORDER BY position ASC
		LIMIT ?
	`, entityName, fromPos, limit)
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	defer rows.Close()

	out := []Change{}
	for rows.Next() {
		var (
			c     Change
			op    string
			value sql.NullString
		)
		if err := rows.Scan(&c.Position, &op, &c.Key, &value, &c.TxnID); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Entity = entityName
		c.Op = Op(op)
		if value.Valid {
			row, err := unmarshalRow(value.String)
			if err != nil {
				return nil, err
			}
			c.Value = row
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return out, nil
}

// HeadPosition returns the highest log position for an entity, or 0 for
// an empty log. A resyncing subscriber resumes from here after
// reloading via list.
func (s *Store) HeadPosition(ctx context.Context, entityName string) (int64, error) {
	var head int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), 0) FROM changelog WHERE entity = ?
	`, entityName).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("head position: %w", err)
	}

	// A fully pruned log still advances the head to the horizon.
	pruned, err := s.PrunedThrough(ctx, entityName)
	if err != nil {
		return 0, err
	}
	if pruned > head {
		head = pruned
	}
	return head, nil
}

// PrunedThrough returns the retention horizon for an entity: the
// highest position that has been discarded. 0 means nothing pruned.
func (s *Store) PrunedThrough(ctx context.Context, entityName string) (int64, error) {
	var pruned int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(
			(SELECT pruned_through FROM feed_meta WHERE entity = ?), 0)
	`, entityName).Scan(&pruned)
	if err != nil {
		return 0, fmt.Errorf("pruned through: %w", err)
	}
	return pruned, nil
}

// Prune discards change-log entries at or below a position and advances
// the retention horizon. Subscribers whose cursor falls behind the
// horizon receive RESYNC_REQUIRED on their next read.
//
// The horizon never moves backwards; pruning less than a previous prune
// is a no-op.
func (s *Store) Prune(ctx context.Context, entityName string, through int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("prune: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM changelog WHERE entity = ? AND position <= ?
	`, entityName, through)
	if err != nil {
		return fmt.Errorf("prune: delete: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO feed_meta (entity, pruned_through)
		VALUES (?, ?)
		ON CONFLICT(entity) DO UPDATE SET
			pruned_through = MAX(pruned_through, excluded.pruned_through)
	`, entityName, through)
	if err != nil {
		return fmt.Errorf("prune: advance horizon: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("prune: commit: %w", err)
	}
	return nil
}
