package sqlutil

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sqlc-dev/pqtype"
)

// FromSqlStringPtr converts sql.NullString to a Go string pointer
func FromSqlStringPtr(val sql.NullString) *string {
	if !val.Valid {
		return nil
	}
	return &val.String
}

// FromNullRawMessage unmarshals a nullable JSONB value into T. NULL and
// empty values yield the zero T.
func FromNullRawMessage[T any](val pqtype.NullRawMessage) (T, error) {
	var out T
	if !val.Valid || len(val.RawMessage) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(val.RawMessage, &out); err != nil {
		return out, fmt.Errorf("unmarshal jsonb: %w", err)
	}
	return out, nil
}
