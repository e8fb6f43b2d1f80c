package crud

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/bfhtw/errors"
)

// Store hands out table handles over one pooled connection
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for row-level failures
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a Store over db
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying connection pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// Table binds name to def. Nothing is created until CreateIfNotExists.
func (s *Store) Table(name string, def Definition) (*Table, error) {
	if !ValidIdentifier(name) {
		return nil, errors.NewInvalidRequestError("invalid table name %q", name)
	}
	if err := def.Validate(); err != nil {
		return nil, errors.Wrapf(err, "table %s", name)
	}
	return &Table{
		store:      s,
		name:       name,
		def:        def,
		primaryKey: def.PrimaryKey(),
		logger:     s.logger.With("table", name),
	}, nil
}

// Table performs typed operations on one table
type Table struct {
	store      *Store
	name       string
	def        Definition
	primaryKey string
	logger     *zap.SugaredLogger
}

// Name returns the table name
func (t *Table) Name() string { return t.name }

// Definition returns the field list the table was bound with
func (t *Table) Definition() Definition { return t.def }

// PrimaryKey returns the primary-key field name
func (t *Table) PrimaryKey() string { return t.primaryKey }

// CreateIfNotExists creates the table with one column per field.
// primaryKey overrides the definition's flagged field when non-empty;
// uniqueFields adds one composite UNIQUE constraint.
func (t *Table) CreateIfNotExists(ctx context.Context, primaryKey string, uniqueFields ...string) error {
	stmt, pk, err := t.createStatement(primaryKey, uniqueFields)
	if err != nil {
		return err
	}
	if _, err := t.store.db.ExecContext(ctx, stmt); err != nil {
		return errors.WrapStorage(err, fmt.Sprintf("create table %s", t.name))
	}
	t.primaryKey = pk
	t.logger.Debugw("Table ready", "primary_key", pk, "columns", len(t.def))
	return nil
}

func (t *Table) createStatement(primaryKey string, uniqueFields []string) (string, string, error) {
	pk := primaryKey
	if pk == "" {
		pk = t.def.PrimaryKey()
	}
	if pk == "" {
		return "", "", errors.NewInvalidRequestError("table %s has no primary key", t.name)
	}
	if flagged := t.def.PrimaryKey(); flagged != "" && flagged != pk {
		return "", "", errors.NewInvalidRequestError("table %s: primary key %q conflicts with flagged field %q", t.name, pk, flagged)
	}
	if _, ok := t.def.Field(pk); !ok {
		return "", "", errors.NewInvalidRequestError("table %s: primary key %q is not a field", t.name, pk)
	}

	clauses := make([]string, 0, len(t.def)+1)
	for _, f := range t.def {
		col, err := columnDDL(f, pk)
		if err != nil {
			return "", "", errors.Wrapf(err, "table %s", t.name)
		}
		clauses = append(clauses, col)
	}

	if len(uniqueFields) > 0 {
		quoted := make([]string, len(uniqueFields))
		for i, u := range uniqueFields {
			if _, ok := t.def.Field(u); !ok {
				return "", "", errors.NewInvalidRequestError("table %s: unique field %q is not a field", t.name, u)
			}
			quoted[i] = quote(u)
		}
		clauses = append(clauses, "UNIQUE ("+strings.Join(quoted, ", ")+")")
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", quote(t.name), strings.Join(clauses, ",\n    "))
	return stmt, pk, nil
}

// encodeRow validates field names and encodes values in a stable column order
func (t *Table) encodeRow(row FieldMap) ([]string, []interface{}, error) {
	if len(row) == 0 {
		return nil, nil, errors.NewInvalidRequestError("empty row")
	}
	cols := make([]string, 0, len(row))
	for name := range row {
		cols = append(cols, name)
	}
	sort.Strings(cols)

	args := make([]interface{}, len(cols))
	for i, name := range cols {
		f, ok := t.def.Field(name)
		if !ok {
			return nil, nil, errors.Newf("unknown field %q", name)
		}
		v, err := encodeValue(f, row[name])
		if err != nil {
			return nil, nil, err
		}
		args[i] = v
	}
	return cols, args, nil
}

// decodeRow maps scanned columns back through the definition.
// Columns the definition does not know are passed through unchanged.
func (t *Table) decodeRow(cols []string, raw []interface{}) FieldMap {
	row := make(FieldMap, len(cols))
	for i, c := range cols {
		if f, ok := t.def.Field(c); ok {
			row[c] = decodeValue(f, raw[i])
			continue
		}
		if b, ok := raw[i].([]byte); ok {
			row[c] = string(b)
		} else {
			row[c] = raw[i]
		}
	}
	return row
}

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
