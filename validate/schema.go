package validate

import (
	"context"
	"sort"
	"strings"

	"github.com/teranos/bfhtw/crud"
)

// SchemaValidator checks an item against a record definition: field types,
// required fields and unknown fields.
//
// In strict mode every problem is an error. In lenient mode a missing
// optional field and an unknown extra field are reported as warnings.
// Required fields and the primary key are errors in both modes, as are type
// mismatches.
type SchemaValidator struct {
	def      crud.Definition
	required map[string]bool
	strict   bool
}

// NewSchemaValidator builds a schema check for def. required lists fields
// that must be present and non-empty in addition to the primary key.
func NewSchemaValidator(def crud.Definition, required []string, strict bool) *SchemaValidator {
	req := make(map[string]bool, len(required)+1)
	for _, name := range required {
		req[name] = true
	}
	if pk := def.PrimaryKey(); pk != "" {
		req[pk] = true
	}
	return &SchemaValidator{def: def, required: req, strict: strict}
}

// Strict reports whether the validator runs in strict mode
func (s *SchemaValidator) Strict() bool { return s.strict }

// Validate implements Validator
func (s *SchemaValidator) Validate(_ context.Context, item map[string]interface{}) Result {
	r := Valid()
	if item == nil {
		r.Errorf("Field '*': item is empty")
		return r
	}

	for _, f := range s.def {
		v, present := item[f.Name]
		if !present || v == nil {
			switch {
			case s.required[f.Name]:
				r.Errorf("Field '%s': missing required field", f.Name)
			case f.Nullable || f.Default != nil || f.Type == crud.TypeUnspecified:
				// optional with a usable fallback
			case s.strict:
				r.Errorf("Field '%s': missing optional field", f.Name)
			default:
				r.Warnf("Field '%s': missing optional field", f.Name)
			}
			continue
		}
		if s.required[f.Name] && isBlank(v) {
			r.Errorf("Field '%s': required field is empty", f.Name)
			continue
		}
		if err := f.Check(v); err != nil {
			r.Errorf("Field '%s': %v", f.Name, stripFieldPrefix(err.Error(), f.Name))
		}
	}

	var extra []string
	for name := range item {
		if _, ok := s.def.Field(name); !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		if s.strict {
			r.Errorf("Field '%s': extra field not permitted", name)
		} else {
			r.Warnf("Field '%s': extra field not permitted", name)
		}
	}
	return r.finish()
}

// stripFieldPrefix drops the `field "x": ` prefix codec errors carry
func stripFieldPrefix(msg, name string) string {
	return strings.TrimPrefix(msg, `field "`+name+`": `)
}
