package sqlutil

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sqlc-dev/pqtype"
)

// ToSqlTime converts a Go time pointer to sql.NullTime
func ToSqlTime(val *time.Time) sql.NullTime {
	if val == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *val, Valid: true}
}

// FromSqlTime converts sql.NullTime to Go time pointer
func FromSqlTime(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time
	return &t
}

// ToNullJSON encodes v as a nullable JSONB value. Nil and empty slices become NULL.
func ToNullJSON[T any](v []T) (pqtype.NullRawMessage, error) {
	if len(v) == 0 {
		return pqtype.NullRawMessage{Valid: false}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}, err
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}

// FromNullJSON decodes a nullable JSONB value. NULL yields an empty slice.
func FromNullJSON[T any](val pqtype.NullRawMessage) ([]T, error) {
	out := []T{}
	if !val.Valid || len(val.RawMessage) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(val.RawMessage, &out); err != nil {
		return nil, err
	}
	return out, nil
}
