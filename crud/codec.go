package crud

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/bfhtw/errors"
)

// encodeValue converts a Go value into the driver value stored for f.
// Unsupported values are rejected so the caller can fail just that row.
func encodeValue(f Field, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		return encodeValue(f, rv.Elem().Interface())
	}

	switch f.Type {
	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		}
		if n, ok := toInt64(v); ok && (n == 0 || n == 1) {
			return n, nil
		}

	case TypeInteger:
		if n, ok := toInt64(v); ok {
			return n, nil
		}

	case TypeReal:
		if x, ok := toFloat64(v); ok {
			return x, nil
		}

	case TypeText:
		if s, ok := toText(v); ok {
			return s, nil
		}

	case TypeList:
		switch x := v.(type) {
		case string:
			// Already-encoded JSON array
			var probe []interface{}
			if json.Unmarshal([]byte(x), &probe) == nil {
				return x, nil
			}
		case []string:
			return marshalList(x)
		case []interface{}:
			out := make([]string, 0, len(x))
			for _, item := range x {
				s, ok := toText(item)
				if !ok {
					return nil, errors.Newf("field %q: list element of type %T not supported", f.Name, item)
				}
				out = append(out, s)
			}
			return marshalList(out)
		}

	case TypeUnspecified:
		if s, ok := v.(string); ok {
			return s, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", f.Name)
		}
		return string(b), nil
	}

	return nil, errors.Newf("field %q: value of type %T not supported for %s", f.Name, v, typeName(f.Type))
}

// decodeValue converts a scanned driver value back into the Go value for f:
// 0/1 becomes bool, JSON lists become []string.
func decodeValue(f Field, raw interface{}) interface{} {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	if raw == nil {
		return nil
	}

	switch f.Type {
	case TypeBoolean:
		switch x := raw.(type) {
		case bool:
			return x
		case int64:
			return x != 0
		case string:
			b, err := strconv.ParseBool(x)
			if err == nil {
				return b
			}
		}
	case TypeInteger:
		if n, ok := toInt64(raw); ok {
			return n
		}
		if s, ok := raw.(string); ok {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		}
	case TypeReal:
		if x, ok := toFloat64(raw); ok {
			return x
		}
	case TypeList:
		if s, ok := raw.(string); ok {
			var out []string
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				if out == nil {
					out = []string{}
				}
				return out
			}
		}
	}
	return raw
}

func marshalList(items []string) (interface{}, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float32:
		if float32(int64(x)) == x {
			return int64(x), true
		}
	case float64:
		// JSON numbers arrive as float64
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return int64(x), true
		}
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

func toText(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	case time.Time:
		return x.UTC().Format(time.RFC3339), true
	case bool:
		return strconv.FormatBool(x), true
	case fmt.Stringer:
		return x.String(), true
	}
	if n, ok := toInt64(v); ok {
		return strconv.FormatInt(n, 10), true
	}
	if f, ok := toFloat64(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

func typeName(t FieldType) string {
	if t == TypeUnspecified {
		return "unspecified"
	}
	return strings.ToLower(string(t))
}

// Check reports whether v can be stored in f without conversion loss.
// nil passes only for nullable or unspecified fields.
func (f Field) Check(v interface{}) error {
	if v == nil {
		if f.Nullable || f.Type == TypeUnspecified {
			return nil
		}
		return errors.Newf("field %q: null not allowed", f.Name)
	}
	_, err := encodeValue(f, v)
	return err
}
