package database

import (
	"strconv"
	"time"
)

// Row-value converters. Adapter rows are column-keyed maps whose value
// types depend on the driver, so stores read through these instead of type
// asserting.

// AsInt64 converts a bare driver value (e.g. a GetVar result) to int64.
func AsInt64(v any) int64 {
	return toInt64(v)
}

// AsString converts a bare driver value to string.
func AsString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

// Int64 reads an integer column, tolerating driver-specific numeric types.
func Int64(row map[string]any, col string) int64 {
	if row == nil {
		return 0
	}
	return toInt64(row[col])
}

// String reads a text column.
func String(row map[string]any, col string) string {
	if row == nil {
		return ""
	}
	switch v := row[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		return ""
	}
}

// Bool reads a boolean column; sqlite stores booleans as 0/1 integers.
func Bool(row map[string]any, col string) bool {
	if row == nil {
		return false
	}
	switch v := row[col].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case string:
		return v == "1" || v == "true" || v == "t"
	default:
		return false
	}
}

// Time reads a timestamp column. Zero time when absent or unparseable.
func Time(row map[string]any, col string) time.Time {
	if row == nil {
		return time.Time{}
	}
	switch v := row[col].(type) {
	case time.Time:
		return v
	case string:
		layouts := []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02 15:04:05.999999999-07:00",
			"2006-01-02 15:04:05",
			"2006-01-02",
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
		return time.Time{}
	default:
		return time.Time{}
	}
}
