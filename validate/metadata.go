package validate

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/teranos/bfhtw/errors"
)

// MetadataValidator checks metadata completeness: required fields,
// recommended fields and per-field patterns.
type MetadataValidator struct {
	required    []string
	recommended []string
	patterns    map[string]fieldPattern
	fields      []string // pattern keys, sorted
}

type fieldPattern struct {
	src string
	re  *regexp.Regexp
}

// NewMetadataValidator compiles patterns, which are matched from the start of
// the field's string form.
func NewMetadataValidator(required, recommended []string, patterns map[string]string) (*MetadataValidator, error) {
	m := &MetadataValidator{
		required:    required,
		recommended: recommended,
		patterns:    make(map[string]fieldPattern, len(patterns)),
	}
	for field, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			return nil, errors.MarkConfiguration(errors.Wrapf(err, "pattern for %q", field))
		}
		m.patterns[field] = fieldPattern{src: p, re: re}
		m.fields = append(m.fields, field)
	}
	sort.Strings(m.fields)
	return m, nil
}

// Validate implements Validator
func (m *MetadataValidator) Validate(_ context.Context, item map[string]interface{}) Result {
	r := Valid()
	if item == nil {
		r.Errorf("data format not supported for metadata validation")
		return r
	}
	for _, field := range m.required {
		if isBlank(item[field]) {
			r.Errorf("Missing required field: %s", field)
		}
	}
	for _, field := range m.recommended {
		if isBlank(item[field]) {
			r.Warnf("Missing recommended field: %s", field)
		}
	}
	for _, field := range m.fields {
		v := item[field]
		if isBlank(v) {
			continue
		}
		p := m.patterns[field]
		if !p.re.MatchString(fmt.Sprint(v)) {
			r.Errorf("Field '%s' does not match required pattern: %s", field, p.src)
		}
	}
	return r.finish()
}

// isBlank reports nil, whitespace-only strings and empty collections
func isBlank(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []byte:
		return len(x) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Ptr:
		return rv.IsNil()
	}
	return false
}
