package indexstore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// cursor is the decoded form of FindManyQuery.Before/After: the sort-key
// values of the row the page boundary sits on, in OrderBy order, plus
// the row id as the final tiebreaker column. It is opaque to callers,
// encoded as base64 JSON.
type cursor struct {
	Values []any  `json:"v"`
	ID     string `json:"id"`
}

func encodeCursor(c cursor) string {
	data, err := json.Marshal(c)
	if err != nil {
		// Values only ever holds JSON-encodable row data that already
		// round-tripped through storage, so this cannot happen in
		// practice; fall back to an unusable-but-non-panicking cursor.
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	if s == "" {
		return c, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("indexstore: malformed cursor: %w", err)
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("indexstore: malformed cursor payload: %w", err)
	}
	return c, nil
}
