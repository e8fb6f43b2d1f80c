package validate

import (
	"context"
	"sort"

	"github.com/teranos/bfhtw/crud"
)

// RowChecker answers existence queries against one table. *crud.Table satisfies it.
type RowChecker interface {
	Name() string
	Exists(ctx context.Context, filters ...crud.Filter) (bool, error)
}

// DuplicateValidator rejects items whose unique fields already exist in a table
type DuplicateValidator struct {
	table        RowChecker
	uniqueFields []string
	asWarning    bool
}

// NewDuplicateValidator checks each of uniqueFields independently
func NewDuplicateValidator(table RowChecker, uniqueFields ...string) *DuplicateValidator {
	return &DuplicateValidator{table: table, uniqueFields: uniqueFields}
}

// AsWarning reports duplicates as warnings, letting the item through for upsert
func (d *DuplicateValidator) AsWarning() *DuplicateValidator {
	d.asWarning = true
	return d
}

// Validate implements Validator. A failing lookup is a warning, not an error.
func (d *DuplicateValidator) Validate(ctx context.Context, item map[string]interface{}) Result {
	r := Valid()
	for _, field := range d.uniqueFields {
		v := item[field]
		if isBlank(v) {
			continue
		}
		found, err := d.table.Exists(ctx, crud.Eq(field, v))
		if err != nil {
			r.Warnf("Could not check for duplicates: %v", err)
			continue
		}
		if !found {
			continue
		}
		if d.asWarning {
			r.Warnf("Duplicate found for %s=%v in %s", field, v, d.table.Name())
		} else {
			r.Errorf("Duplicate found for %s=%v in %s", field, v, d.table.Name())
		}
	}
	return r.finish()
}

// Reference names the table and column a foreign-key field points at.
// An empty Column means the column shares the field's name.
type Reference struct {
	Table  RowChecker
	Column string
}

// ForeignKeyValidator checks that referenced rows exist
type ForeignKeyValidator struct {
	refs         map[string]Reference
	fields       []string
	allowMissing bool
}

// NewForeignKeyValidator checks every field in refs
func NewForeignKeyValidator(refs map[string]Reference, allowMissing bool) *ForeignKeyValidator {
	fk := &ForeignKeyValidator{refs: refs, allowMissing: allowMissing}
	for field := range refs {
		fk.fields = append(fk.fields, field)
	}
	sort.Strings(fk.fields)
	return fk
}

// Validate implements Validator
func (fk *ForeignKeyValidator) Validate(ctx context.Context, item map[string]interface{}) Result {
	r := Valid()
	for _, field := range fk.fields {
		ref := fk.refs[field]
		v, present := item[field]
		if !present {
			if !fk.allowMissing {
				r.Errorf("Foreign key field missing: %s", field)
			}
			continue
		}
		if isBlank(v) {
			if !fk.allowMissing {
				r.Errorf("Foreign key field empty: %s", field)
			}
			continue
		}
		column := ref.Column
		if column == "" {
			column = field
		}
		found, err := ref.Table.Exists(ctx, crud.Eq(column, v))
		if err != nil {
			r.Warnf("Could not validate foreign key %s: %v", field, err)
			continue
		}
		if !found {
			r.Errorf("Foreign key reference not found: %s=%v in %s", field, v, ref.Table.Name())
		}
	}
	return r.finish()
}
