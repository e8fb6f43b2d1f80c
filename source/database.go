package source

import (
	"context"
	"sort"

	"github.com/teranos/bfhtw/crud"
	"github.com/teranos/bfhtw/errors"
)

// DatabaseSource reads rows of an existing table, optionally filtered by
// field = value conditions that are ANDed together.
type DatabaseSource struct {
	table   *crud.Table
	filters []crud.Filter
	limit   int
}

// NewDatabaseSource creates a table source. limit <= 0 reads every matching row.
func NewDatabaseSource(table *crud.Table, conditions map[string]interface{}, limit int) *DatabaseSource {
	fields := make([]string, 0, len(conditions))
	for f := range conditions {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	filters := make([]crud.Filter, len(fields))
	for i, f := range fields {
		filters[i] = crud.Eq(f, conditions[f])
	}
	return &DatabaseSource{table: table, filters: filters, limit: limit}
}

// Identifier implements Source
func (s *DatabaseSource) Identifier() string {
	return "database:" + s.table.Name()
}

// ValidateConnection runs a count with the configured conditions
func (s *DatabaseSource) ValidateConnection(ctx context.Context) error {
	if _, err := s.table.Count(ctx, s.filters...); err != nil {
		return errors.MarkConnection(errors.Wrapf(err, "table %s", s.table.Name()))
	}
	return nil
}

// FetchMetadata returns matching rows in insertion order
func (s *DatabaseSource) FetchMetadata(ctx context.Context) ([]Item, error) {
	rows, err := s.table.FindN(ctx, s.limit, s.filters...)
	if err != nil {
		return nil, err
	}
	out := make([]Item, len(rows))
	for i, row := range rows {
		out[i] = row
	}
	return out, nil
}
