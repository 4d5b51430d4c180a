package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/driftline/driftline/internal/entity"
	"github.com/driftline/driftline/internal/filter"
	"github.com/driftline/driftline/internal/syncerr"
)

// fieldNamePattern restricts filterable field names. Field names end up
// inside json_extract paths in SQL text (values never do), so anything
// outside this set is rejected rather than escaped.
var fieldNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Mapper returns the field mapper for an entity: the primary key and
// tree fields resolve to real columns, everything else to a
// json_extract over the stored payload.
func Mapper(def *entity.Definition) filter.FieldMapper {
	return func(field string) (string, error) {
		if !fieldNamePattern.MatchString(field) {
			return "", fmt.Errorf("invalid field name %q", field)
		}
		if field == "id" {
			return "id", nil
		}
		if t := def.Tree; t != nil {
			switch field {
			case t.ContainerField:
				return "container_id", nil
			case t.ParentField:
				return "parent_id", nil
			case t.NameField:
				return "name", nil
			}
		}
		return fmt.Sprintf("json_extract(value, '$.%s')", field), nil
	}
}

// Get returns the current row for a key, or NOT_FOUND.
func (s *Store) Get(ctx context.Context, entityName, id string) (entity.Row, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM records WHERE entity = ? AND id = ?
	`, entityName, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncerr.New(syncerr.CodeNotFound, "no such row").WithEntity(entityName, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get row: %w", err)
	}
	return unmarshalRow(value)
}

// List returns all rows of an entity matching the filter expression,
// ordered by id for deterministic results.
func (s *Store) List(ctx context.Context, def *entity.Definition, expr filter.Expr) ([]entity.Row, error) {
	fragment, params, err := filter.SQL(expr, Mapper(def))
	if err != nil {
		return nil, fmt.Errorf("compile list filter: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT value FROM records
		WHERE entity = ? AND %s
		ORDER BY id COLLATE BINARY ASC
	`, fragment)
	args := append([]any{def.Name}, params...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	defer rows.Close()

	out := []entity.Row{}
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row, err := unmarshalRow(value)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Guard is a caller-supplied check evaluated against the current row
// inside the write transaction. Returning an error aborts the write
// with that error. This is how the endpoint's predicate check and the
// row write observe the same snapshot - there is no window for a
// concurrent writer between check and act.
type Guard func(current entity.Row) error

// Insert writes a new row and its change-log entry in one transaction.
// Returns the log position of the write.
//
// Uniqueness violations (duplicate key, duplicate tree name) surface as
// CONFLICT; the row and the log are untouched on failure.
func (s *Store) Insert(ctx context.Context, def *entity.Definition, row entity.Row, txnID string) (int64, error) {
	id := def.ExtractKey(row)
	if id == "" {
		return 0, fmt.Errorf("insert %s: row has no key", def.Name)
	}

	value, err := marshalRow(row)
	if err != nil {
		return 0, err
	}
	container, parent, name, err := treeColumns(def, row)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert %s: begin tx: %w", def.Name, err)
	}
	defer tx.Rollback() // No-op if committed

	if def.Tree != nil && parent != nil {
		if err := checkParentExists(ctx, tx, def.Tree.ParentEntityName(def.Name), def.Name, id, fmt.Sprint(parent)); err != nil {
			return 0, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (entity, id, container_id, parent_id, name, value)
		VALUES (?, ?, ?, ?, ?, ?)
	`, def.Name, id, container, parent, name, value)
	if err != nil {
		return 0, mapConstraintError(err, def.Name, id)
	}

	position, err := appendChange(ctx, tx, def.Name, opInsert, id, &value, txnID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert %s: commit: %w", def.Name, err)
	}
	return position, nil
}

// Update applies a partial patch to an existing row. The guard runs
// against the current row inside the transaction; tree invariants
// (ancestry cycles, name uniqueness) are re-validated in the same
// transaction. Returns the log position and the merged row.
func (s *Store) Update(ctx context.Context, def *entity.Definition, id string, patch entity.Row, guard Guard, txnID string) (int64, entity.Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("update %s: begin tx: %w", def.Name, err)
	}
	defer tx.Rollback()

	current, err := readCurrent(ctx, tx, def.Name, id)
	if err != nil {
		return 0, nil, err
	}

	if guard != nil {
		if err := guard(current); err != nil {
			return 0, nil, err
		}
	}

	// Partial write: only supplied fields change.
	merged := make(entity.Row, len(current)+len(patch))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}

	container, parent, name, err := treeColumns(def, merged)
	if err != nil {
		return 0, nil, err
	}

	if def.Tree != nil {
		oldParent, _ := current[def.Tree.ParentField].(string)
		newParent, _ := merged[def.Tree.ParentField].(string)
		if newParent != "" && newParent != oldParent {
			parentEntity := def.Tree.ParentEntityName(def.Name)
			if parentEntity == def.Name {
				// A self-referential re-parent can form a cycle.
				if err := checkNoCycle(ctx, tx, def.Name, id, newParent); err != nil {
					return 0, nil, err
				}
			} else if err := checkParentExists(ctx, tx, parentEntity, def.Name, id, newParent); err != nil {
				return 0, nil, err
			}
		}
	}

	value, err := marshalRow(merged)
	if err != nil {
		return 0, nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE records
		SET container_id = ?, parent_id = ?, name = ?, value = ?
		WHERE entity = ? AND id = ?
	`, container, parent, name, value, def.Name, id)
	if err != nil {
		return 0, nil, mapConstraintError(err, def.Name, id)
	}

	position, err := appendChange(ctx, tx, def.Name, opUpdate, id, &value, txnID)
	if err != nil {
		return 0, nil, err
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("update %s: commit: %w", def.Name, err)
	}
	return position, merged, nil
}

// Delete removes a row. The guard runs against the current row inside
// the transaction. Returns the log position of the delete.
func (s *Store) Delete(ctx context.Context, def *entity.Definition, id string, guard Guard, txnID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete %s: begin tx: %w", def.Name, err)
	}
	defer tx.Rollback()

	current, err := readCurrent(ctx, tx, def.Name, id)
	if err != nil {
		return 0, err
	}

	if guard != nil {
		if err := guard(current); err != nil {
			return 0, err
		}
	}

	if def.Tree != nil {
		// Children may live in a different entity (files under a
		// folder), so the count spans the whole records table.
		var children int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM records WHERE parent_id = ?
		`, id).Scan(&children)
		if err != nil {
			return 0, fmt.Errorf("delete %s: count children: %w", def.Name, err)
		}
		if children > 0 {
			return 0, syncerr.Newf(syncerr.CodeConflict, "node has %d children", children).
				WithEntity(def.Name, id)
		}
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM records WHERE entity = ? AND id = ?
	`, def.Name, id)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", def.Name, err)
	}

	position, err := appendChange(ctx, tx, def.Name, opDelete, id, nil, txnID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete %s: commit: %w", def.Name, err)
	}
	return position, nil
}

// readCurrent loads a row inside a transaction, mapping absence to
// NOT_FOUND.
func readCurrent(ctx context.Context, tx *sql.Tx, entityName, id string) (entity.Row, error) {
	var value string
	err := tx.QueryRowContext(ctx, `
		SELECT value FROM records WHERE entity = ? AND id = ?
	`, entityName, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncerr.New(syncerr.CodeNotFound, "no such row").WithEntity(entityName, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read current row: %w", err)
	}
	return unmarshalRow(value)
}

// treeColumns extracts the denormalized tree columns from a row, or all
// NULLs for flat entities.
func treeColumns(def *entity.Definition, row entity.Row) (container, parent, name any, err error) {
	if def.Tree == nil {
		return nil, nil, nil, nil
	}
	t := def.Tree

	c, ok := row[t.ContainerField].(string)
	if !ok || c == "" {
		return nil, nil, nil, syncerr.Newf(syncerr.CodeValidation, "missing %s", t.ContainerField).
			WithEntity(def.Name, def.ExtractKey(row))
	}
	n, ok := row[t.NameField].(string)
	if !ok || n == "" {
		return nil, nil, nil, syncerr.Newf(syncerr.CodeValidation, "missing %s", t.NameField).
			WithEntity(def.Name, def.ExtractKey(row))
	}

	if p, ok := row[t.ParentField].(string); ok && p != "" {
		return c, p, n, nil
	}
	return c, nil, n, nil // root node
}

// checkNoCycle verifies that newParent is not the node itself or one of
// its descendants. Walks the ancestor chain of newParent with a
// recursive CTE inside the write transaction, so a concurrent re-parent
// cannot slip a cycle past the check.
func checkNoCycle(ctx context.Context, tx *sql.Tx, entityName, id, newParent string) error {
	if newParent == id {
		return syncerr.New(syncerr.CodeConflict, "node cannot be its own parent").
			WithEntity(entityName, id)
	}

	var hits int
	err := tx.QueryRowContext(ctx, `
		WITH RECURSIVE ancestors(aid) AS (
			SELECT ?
			UNION
			SELECT r.parent_id
			FROM records r
			JOIN ancestors a ON r.id = a.aid
			WHERE r.entity = ? AND r.parent_id IS NOT NULL
		)
		SELECT COUNT(*) FROM ancestors WHERE aid = ?
	`, newParent, entityName, id).Scan(&hits)
	if err != nil {
		return fmt.Errorf("cycle check: %w", err)
	}
	if hits > 0 {
		return syncerr.New(syncerr.CodeConflict, "node cannot become its own ancestor").
			WithEntity(entityName, id).
			WithDetail("parent", newParent)
	}

	return checkParentExists(ctx, tx, entityName, entityName, id, newParent)
}

// checkParentExists verifies the parent row exists in parentEntity.
func checkParentExists(ctx context.Context, tx *sql.Tx, parentEntity, entityName, id, parent string) error {
	var exists int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records WHERE entity = ? AND id = ?
	`, parentEntity, parent).Scan(&exists)
	if err != nil {
		return fmt.Errorf("parent lookup: %w", err)
	}
	if exists == 0 {
		return syncerr.New(syncerr.CodeConflict, "parent does not exist").
			WithEntity(entityName, id).
			WithDetail("parent", parent)
	}
	return nil
}

// mapConstraintError converts SQLite constraint violations into the
// CONFLICT taxonomy code; everything else is wrapped unchanged.
func mapConstraintError(err error, entityName, id string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		se := syncerr.New(syncerr.CodeConflict, "uniqueness constraint violated").
			WithEntity(entityName, id)
		se.Err = err
		return se
	}
	return fmt.Errorf("write %s/%s: %w", entityName, id, err)
}
