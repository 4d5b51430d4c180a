package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/driftline/driftline/internal/entity"
)

// marshalRow serializes a row to canonical JSON for storage and the
// change log. encoding/json sorts map keys, so equal rows always
// produce byte-identical text - replaying the log is deterministic.
func marshalRow(row entity.Row) (string, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("marshal row: %w", err)
	}
	return string(data), nil
}

// unmarshalRow parses stored JSON back into a row.
//
// Numbers decode through json.Number so integral values come back as
// int64 rather than float64. SQLite's json_extract returns INTEGER for
// the same values - keeping the two representations aligned is what
// makes the in-process filter check agree with the SQL fragment.
func unmarshalRow(data string) (entity.Row, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal row: %w", err)
	}
	return normalizeValue(raw).(map[string]any), nil
}

// normalizeValue rewrites json.Number leaves into int64 (when integral)
// or float64, recursing through nested objects and arrays.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeValue(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeValue(item)
		}
		return val
	default:
		return v
	}
}
