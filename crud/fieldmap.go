package crud

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/teranos/bfhtw/errors"
)

// FieldMap is one row keyed by field name
type FieldMap map[string]interface{}

// Record is anything that serializes itself to a FieldMap
type Record interface {
	ToFieldMap() FieldMap
}

// ToFieldMap lets a plain FieldMap be stored directly
func (m FieldMap) ToFieldMap() FieldMap { return m }

// Records adapts a typed slice for the bulk operations
func Records[T Record](in []T) []Record {
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r
	}
	return out
}

// DecodeRows turns rows into typed records through their FromFieldMap
func DecodeRows[T any, PT interface {
	*T
	FromFieldMap(FieldMap) error
}](rows []FieldMap) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, row := range rows {
		var rec T
		if err := PT(&rec).FromFieldMap(row); err != nil {
			return nil, errors.Wrapf(err, "decode row %d", i)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Has reports whether key is present with a non-nil value
func (m FieldMap) Has(key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

// String returns the value as a string, or "" when absent
func (m FieldMap) String(key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		s, _ := toText(v)
		return s
	}
}

// Int returns the value as an int, or 0 when absent or not numeric
func (m FieldMap) Int(key string) int {
	return int(m.Int64(key))
}

// Int64 returns the value as an int64, or 0 when absent or not numeric
func (m FieldMap) Int64(key string) int64 {
	v := m[key]
	if n, ok := toInt64(v); ok {
		return n
	}
	if f, ok := v.(float64); ok {
		return int64(f)
	}
	if s, ok := v.(string); ok {
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	}
	return 0
}

// Float returns the value as a float64, or 0
func (m FieldMap) Float(key string) float64 {
	v := m[key]
	if f, ok := toFloat64(v); ok {
		return f
	}
	if s, ok := v.(string); ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	return 0
}

// Bool returns the value as a bool; 0/1 and "true"/"false" are accepted
func (m FieldMap) Bool(key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	n, ok := toInt64(m[key])
	return ok && n != 0
}

// Strings returns a list value; JSON-encoded strings are decoded
func (m FieldMap) Strings(key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := toText(item); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		if json.Unmarshal([]byte(v), &out) == nil {
			return out
		}
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

// Time parses an RFC3339 value, or returns the zero time
func (m FieldMap) Time(key string) time.Time {
	switch v := m[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}

// Clone returns a shallow copy
func (m FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
