package crud

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/teranos/bfhtw/errors"
)

// Filter is one field = value condition
type Filter struct {
	Field string
	Value interface{}
}

// Eq builds a Filter
func Eq(field string, value interface{}) Filter {
	return Filter{Field: field, Value: value}
}

// RowUpdate is one entry of BulkUpdate
type RowUpdate struct {
	ID     interface{}
	Fields FieldMap
}

// Insert upserts one record: an existing row with the same primary key is replaced
func (t *Table) Insert(ctx context.Context, rec Record) error {
	if err := t.insert(ctx, t.store.db, rec.ToFieldMap()); err != nil {
		return errors.MarkStorage(errors.Wrapf(err, "insert into %s", t.name))
	}
	return nil
}

func (t *Table) insert(ctx context.Context, ex execer, row FieldMap) error {
	cols, args, err := t.encodeRow(row)
	if err != nil {
		return err
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	stmt := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quote(t.name), strings.Join(quoted, ", "), placeholders(len(cols)))
	_, err = ex.ExecContext(ctx, stmt, args...)
	return err
}

// BulkInsert upserts every record inside one transaction. A row that fails
// to encode or write is logged with its values and excluded from the success
// count; the remaining rows are still attempted.
func (t *Table) BulkInsert(ctx context.Context, recs []Record) (*BulkSummary, error) {
	summary := &BulkSummary{Table: t.name, Operation: "insert", Total: len(recs)}
	if len(recs) == 0 {
		return summary, nil
	}

	err := t.inTx(ctx, func(tx *sql.Tx) {
		for i, rec := range recs {
			row, err := t.insertRecord(ctx, tx, rec)
			if err != nil {
				t.logger.Warnw("Row insert failed",
					"row", i,
					"values", row,
					"error", err)
				summary.Failures = append(summary.Failures, RowFailure{Index: i, Key: row[t.primaryKey], Err: errors.MarkStorage(err)})
				continue
			}
			summary.Succeeded++
		}
	})
	if err != nil {
		summary.Succeeded = 0
		return summary, err
	}

	t.logger.Debugw("Bulk insert complete", "summary", summary.String())
	return summary, nil
}

// insertRecord serializes and writes one record; a panic in ToFieldMap
// fails that row only
func (t *Table) insertRecord(ctx context.Context, ex execer, rec Record) (row FieldMap, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("serialize record: %v", r)
		}
	}()
	row = rec.ToFieldMap()
	return row, t.insert(ctx, ex, row)
}

// Find returns rows matching every filter, in insertion order
func (t *Table) Find(ctx context.Context, filters ...Filter) ([]FieldMap, error) {
	return t.FindN(ctx, 0, filters...)
}

// FindN is Find with a row limit; limit <= 0 means no limit
func (t *Table) FindN(ctx context.Context, limit int, filters ...Filter) ([]FieldMap, error) {
	where, args, err := t.whereClause(filters)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT * FROM %s%s ORDER BY rowid", quote(t.name), where)
	if limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := t.store.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.WrapStorage(err, fmt.Sprintf("query %s", t.name))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.WrapStorage(err, "read columns")
	}

	var out []FieldMap
	for rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.WrapStorage(err, fmt.Sprintf("scan %s", t.name))
		}
		out = append(out, t.decodeRow(cols, raw))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStorage(err, fmt.Sprintf("iterate %s", t.name))
	}
	return out, nil
}

// GetAll returns every row
func (t *Table) GetAll(ctx context.Context) ([]FieldMap, error) {
	return t.Find(ctx)
}

// GetBy returns rows where field = value
func (t *Table) GetBy(ctx context.Context, field string, value interface{}) ([]FieldMap, error) {
	return t.Find(ctx, Eq(field, value))
}

// Exists reports whether any row matches every filter
func (t *Table) Exists(ctx context.Context, filters ...Filter) (bool, error) {
	where, args, err := t.whereClause(filters)
	if err != nil {
		return false, err
	}
	var exists bool
	stmt := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s%s)", quote(t.name), where)
	if err := t.store.db.QueryRowContext(ctx, stmt, args...).Scan(&exists); err != nil {
		return false, errors.WrapStorage(err, fmt.Sprintf("exists in %s", t.name))
	}
	return exists, nil
}

// Count returns the number of rows matching every filter
func (t *Table) Count(ctx context.Context, filters ...Filter) (int, error) {
	where, args, err := t.whereClause(filters)
	if err != nil {
		return 0, err
	}
	var n int
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", quote(t.name), where)
	if err := t.store.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, errors.WrapStorage(err, fmt.Sprintf("count %s", t.name))
	}
	return n, nil
}

// Update sets partial fields on rows where idField = id and returns the updated rows
func (t *Table) Update(ctx context.Context, idField string, id interface{}, partial FieldMap) ([]FieldMap, error) {
	if _, err := t.update(ctx, t.store.db, idField, id, partial); err != nil {
		return nil, errors.MarkStorage(errors.Wrapf(err, "update %s", t.name))
	}
	return t.GetBy(ctx, idField, id)
}

func (t *Table) update(ctx context.Context, ex execer, idField string, id interface{}, partial FieldMap) (int64, error) {
	idF, ok := t.def.Field(idField)
	if !ok {
		return 0, errors.Newf("unknown id field %q", idField)
	}
	cols, args, err := t.encodeRow(partial)
	if err != nil {
		return 0, err
	}
	idVal, err := encodeValue(idF, id)
	if err != nil {
		return 0, err
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = quote(c) + " = ?"
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", quote(t.name), strings.Join(sets, ", "), quote(idField))
	res, err := ex.ExecContext(ctx, stmt, append(args, idVal)...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.NewNotFoundError("no row with %s = %v", idField, id)
	}
	return n, nil
}

// BulkUpdate applies each update inside one transaction with the same
// per-row isolation as BulkInsert. An update that matches no row fails.
func (t *Table) BulkUpdate(ctx context.Context, idField string, updates []RowUpdate) (*BulkSummary, error) {
	summary := &BulkSummary{Table: t.name, Operation: "update", Total: len(updates)}
	if len(updates) == 0 {
		return summary, nil
	}

	err := t.inTx(ctx, func(tx *sql.Tx) {
		for i, u := range updates {
			if _, err := t.update(ctx, tx, idField, u.ID, u.Fields); err != nil {
				t.logger.Warnw("Row update failed",
					"row", i,
					"id", u.ID,
					"values", u.Fields,
					"error", err)
				summary.Failures = append(summary.Failures, RowFailure{Index: i, Key: u.ID, Err: errors.MarkStorage(err)})
				continue
			}
			summary.Succeeded++
		}
	})
	if err != nil {
		summary.Succeeded = 0
		return summary, err
	}

	t.logger.Debugw("Bulk update complete", "summary", summary.String())
	return summary, nil
}

// Delete removes rows where idField = id; reports whether any row was removed
func (t *Table) Delete(ctx context.Context, idField string, id interface{}) (bool, error) {
	where, args, err := t.whereClause([]Filter{Eq(idField, id)})
	if err != nil {
		return false, err
	}
	res, err := t.store.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", quote(t.name), where), args...)
	if err != nil {
		return false, errors.WrapStorage(err, fmt.Sprintf("delete from %s", t.name))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.WrapStorage(err, "rows affected")
	}
	return n > 0, nil
}

// inTx runs fn in a transaction and commits; rollback on commit failure or panic
func (t *Table) inTx(ctx context.Context, fn func(tx *sql.Tx)) (err error) {
	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapStorage(err, fmt.Sprintf("begin tx on %s", t.name))
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	fn(tx)

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return errors.WrapStorage(err, fmt.Sprintf("commit %s", t.name))
	}
	return nil
}

func (t *Table) whereClause(filters []Filter) (string, []interface{}, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	conds := make([]string, len(filters))
	args := make([]interface{}, 0, len(filters))
	for i, flt := range filters {
		f, ok := t.def.Field(flt.Field)
		if !ok {
			return "", nil, errors.NewInvalidRequestError("table %s: unknown filter field %q", t.name, flt.Field)
		}
		v, err := encodeValue(f, flt.Value)
		if err != nil {
			return "", nil, errors.Wrap(errors.ErrInvalidRequest, err.Error())
		}
		if v == nil {
			conds[i] = quote(flt.Field) + " IS NULL"
			continue
		}
		conds[i] = quote(flt.Field) + " = ?"
		args = append(args, v)
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
