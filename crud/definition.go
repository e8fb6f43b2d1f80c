// Package crud derives relational tables from declarative field lists and
// performs typed create/read/update/delete over them.
//
// A record kind declares its schema once:
//
//	var ArticleDefinition = crud.Definition{
//	    {Name: "pmcid", Type: crud.TypeText, PrimaryKey: true},
//	    {Name: "title", Type: crud.TypeText},
//	    {Name: "processed", Type: crud.TypeBoolean, Default: false},
//	}
//
// and the store turns it into DDL, encodes values on write (booleans as
// 0/1, lists as JSON arrays) and decodes them back on read.
package crud

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/teranos/bfhtw/errors"
)

// FieldType is the semantic type of a field
type FieldType string

const (
	TypeText        FieldType = "text"
	TypeInteger     FieldType = "integer"
	TypeReal        FieldType = "real"
	TypeBoolean     FieldType = "boolean"
	TypeList        FieldType = "list" // []string, stored as a JSON array in TEXT
	TypeUnspecified FieldType = ""     // nullable TEXT
)

// Field is one column of a record definition
type Field struct {
	Name       string
	Type       FieldType
	Nullable   bool
	Default    interface{}
	PrimaryKey bool
}

// Definition is the ordered field list of one record kind
type Definition []Field

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name can be used as a table or column name
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Validate checks identifiers, duplicate names and the primary-key flag
func (d Definition) Validate() error {
	if len(d) == 0 {
		return errors.NewInvalidRequestError("definition has no fields")
	}
	seen := make(map[string]bool, len(d))
	pks := 0
	for _, f := range d {
		if !ValidIdentifier(f.Name) {
			return errors.NewInvalidRequestError("invalid field name %q", f.Name)
		}
		if seen[f.Name] {
			return errors.NewInvalidRequestError("duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case TypeText, TypeInteger, TypeReal, TypeBoolean, TypeList, TypeUnspecified:
		default:
			return errors.NewInvalidRequestError("field %q has unknown type %q", f.Name, f.Type)
		}
		if f.PrimaryKey {
			pks++
		}
	}
	if pks > 1 {
		return errors.NewInvalidRequestError("definition flags %d primary keys, want at most one", pks)
	}
	return nil
}

// Field returns the named field
func (d Definition) Field(name string) (Field, bool) {
	for _, f := range d {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// PrimaryKey returns the flagged primary-key field name, or ""
func (d Definition) PrimaryKey() string {
	for _, f := range d {
		if f.PrimaryKey {
			return f.Name
		}
	}
	return ""
}

// Names returns field names in declaration order
func (d Definition) Names() []string {
	names := make([]string, len(d))
	for i, f := range d {
		names[i] = f.Name
	}
	return names
}

// sqlType maps a semantic type to its column type
func sqlType(t FieldType) string {
	switch t {
	case TypeInteger, TypeBoolean:
		return "INTEGER"
	case TypeReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// columnDDL renders one column clause
func columnDDL(f Field, primaryKey string) (string, error) {
	var b strings.Builder
	b.WriteString(quote(f.Name))
	b.WriteString(" ")
	b.WriteString(sqlType(f.Type))

	isPK := f.Name == primaryKey
	if isPK {
		b.WriteString(" PRIMARY KEY")
	}
	if !isPK && !f.Nullable && f.Type != TypeUnspecified {
		b.WriteString(" NOT NULL")
	}
	if f.Default != nil {
		lit, err := literal(f)
		if err != nil {
			return "", err
		}
		b.WriteString(" DEFAULT ")
		b.WriteString(lit)
	}
	return b.String(), nil
}

// literal renders a field default as an SQL literal
func literal(f Field) (string, error) {
	v, err := encodeValue(f, f.Default)
	if err != nil {
		return "", errors.Wrapf(err, "default for %q", f.Name)
	}
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	default:
		return fmt.Sprint(x), nil
	}
}

func quote(ident string) string {
	return `"` + ident + `"`
}
