package crud

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/bfhtw/errors"
	dbtest "github.com/teranos/bfhtw/internal/testing"
)

var itemDef = Definition{
	{Name: "id", Type: TypeText, PrimaryKey: true},
	{Name: "count", Type: TypeInteger},
	{Name: "active", Type: TypeBoolean},
}

func newItems(t *testing.T) *Table {
	t.Helper()
	store := NewStore(dbtest.CreateTestDB(t), WithLogger(zaptest.NewLogger(t).Sugar()))
	tbl, err := store.Table("items", itemDef)
	require.NoError(t, err)
	require.NoError(t, tbl.CreateIfNotExists(context.Background(), ""))
	return tbl
}

func TestCreateIfNotExists(t *testing.T) {
	tbl := newItems(t)

	rows, err := tbl.store.db.Query(`SELECT name, type, pk FROM pragma_table_info('items') ORDER BY cid`)
	require.NoError(t, err)
	defer rows.Close()

	type col struct {
		name, typ string
		pk        int
	}
	var cols []col
	for rows.Next() {
		var c col
		require.NoError(t, rows.Scan(&c.name, &c.typ, &c.pk))
		cols = append(cols, c)
	}
	require.Len(t, cols, 3)
	assert.Equal(t, col{"id", "TEXT", 1}, cols[0])
	assert.Equal(t, col{"count", "INTEGER", 0}, cols[1])
	assert.Equal(t, col{"active", "INTEGER", 0}, cols[2])

	// Idempotent
	require.NoError(t, tbl.CreateIfNotExists(context.Background(), "id"))
}

func TestCreateStatement(t *testing.T) {
	store := NewStore(nil)
	tbl, err := store.Table("docs", Definition{
		{Name: "doc_id", Type: TypeText},
		{Name: "source_db", Type: TypeText},
		{Name: "external_id", Type: TypeText},
		{Name: "title", Type: TypeText, Nullable: true},
		{Name: "tags", Type: TypeList, Nullable: true},
		{Name: "processed", Type: TypeBoolean, Default: false},
		{Name: "note"},
	})
	require.NoError(t, err)

	stmt, pk, err := tbl.createStatement("doc_id", []string{"source_db", "external_id"})
	require.NoError(t, err)
	assert.Equal(t, "doc_id", pk)
	assert.Contains(t, stmt, `"doc_id" TEXT PRIMARY KEY`)
	assert.Contains(t, stmt, `"source_db" TEXT NOT NULL`)
	assert.Contains(t, stmt, `"title" TEXT,`)
	assert.Contains(t, stmt, `"processed" INTEGER NOT NULL DEFAULT 0`)
	assert.Contains(t, stmt, `"note" TEXT,`)
	assert.Contains(t, stmt, `UNIQUE ("source_db", "external_id")`)

	_, _, err = tbl.createStatement("", nil)
	assert.Error(t, err, "no flagged key and none given")

	_, _, err = tbl.createStatement("missing", nil)
	assert.Error(t, err)

	_, _, err = tbl.createStatement("doc_id", []string{"nope"})
	assert.Error(t, err)
}

func TestTableRejectsBadDefinitions(t *testing.T) {
	store := NewStore(nil)

	_, err := store.Table("bad name", itemDef)
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = store.Table("t", Definition{{Name: "a;drop", Type: TypeText}})
	assert.Error(t, err)

	_, err = store.Table("t", Definition{{Name: "a", PrimaryKey: true}, {Name: "b", PrimaryKey: true}})
	assert.Error(t, err)

	_, err = store.Table("t", Definition{{Name: "a"}, {Name: "a"}})
	assert.Error(t, err)

	_, err = store.Table("t", Definition{{Name: "a", Type: "blob"}})
	assert.Error(t, err)
}

func TestInsertIsUpsert(t *testing.T) {
	ctx := context.Background()
	tbl := newItems(t)

	require.NoError(t, tbl.Insert(ctx, FieldMap{"id": "x1", "count": 5, "active": true}))
	require.NoError(t, tbl.Insert(ctx, FieldMap{"id": "x1", "count": 9, "active": false}))

	all, err := tbl.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.EqualValues(t, 9, all[0]["count"])
	assert.Equal(t, false, all[0]["active"])
}

func TestBooleanRoundTrip(t *testing.T) {
	ctx := context.Background()
	tbl := newItems(t)

	require.NoError(t, tbl.Insert(ctx, FieldMap{"id": "x1", "count": 5, "active": true}))

	var stored int
	require.NoError(t, tbl.store.db.QueryRow(`SELECT active FROM items WHERE id = 'x1'`).Scan(&stored))
	assert.Equal(t, 1, stored, "booleans persist as 0/1")

	rows, err := tbl.GetBy(ctx, "id", "x1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, true, rows[0]["active"])
	assert.Equal(t, int64(5), rows[0]["count"])

	rows, err = tbl.GetBy(ctx, "active", true)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "filters encode booleans the same way")
}

func TestBulkInsertIsolatesBadRows(t *testing.T) {
	ctx := context.Background()
	tbl := newItems(t)

	const n = 6
	recs := make([]Record, n)
	for i := 0; i < n; i++ {
		recs[i] = FieldMap{"id": string(rune('a' + i)), "count": i, "active": i%2 == 0}
	}
	// Record 3 cannot be serialized
	recs[3] = FieldMap{"id": "d", "count": make(chan int), "active": true}

	summary, err := tbl.BulkInsert(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, "5/6 succeeded", summary.String())
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, 3, summary.Failures[0].Index)
	assert.Equal(t, "d", summary.Failures[0].Key)
	assert.True(t, errors.IsStorageError(summary.Failures[0].Err))
	require.Len(t, summary.Warnings(), 1)
	assert.Contains(t, summary.Warnings()[0], "items insert row 3 (d)")

	all, err := tbl.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	ids := make([]string, len(all))
	for i, r := range all {
		ids[i] = r.String("id")
	}
	assert.Equal(t, []string{"a", "b", "c", "e", "f"}, ids)
}

// brokenRecord cannot produce a field map
type brokenRecord struct{}

func (brokenRecord) ToFieldMap() FieldMap { panic("cannot serialize") }

func TestBulkInsertRecoversSerializationPanic(t *testing.T) {
	ctx := context.Background()
	tbl := newItems(t)

	summary, err := tbl.BulkInsert(ctx, []Record{
		FieldMap{"id": "a", "count": 1, "active": true},
		brokenRecord{},
		FieldMap{"id": "c", "count": 3, "active": false},
	})
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "2/3 succeeded", summary.String())
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, 1, summary.Failures[0].Index)
	assert.Contains(t, summary.Failures[0].Err.Error(), "cannot serialize")
	assert.Equal(t, "items insert row 1: serialize record: cannot serialize", summary.Warnings()[0])

	all, err := tbl.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBulkInsertUnknownFieldFailsRow(t *testing.T) {
	tbl := newItems(t)
	summary, err := tbl.BulkInsert(context.Background(), []Record{
		FieldMap{"id": "a", "count": 1, "active": true},
		FieldMap{"id": "b", "count": 1, "active": true, "colour": "red"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1/2 succeeded", summary.String())
}

func TestUpdateAndBulkUpdate(t *testing.T) {
	ctx := context.Background()
	tbl := newItems(t)

	_, err := tbl.BulkInsert(ctx, []Record{
		FieldMap{"id": "a", "count": 1, "active": false},
		FieldMap{"id": "b", "count": 2, "active": false},
		FieldMap{"id": "c", "count": 3, "active": false},
	})
	require.NoError(t, err)

	updated, err := tbl.Update(ctx, "id", "a", FieldMap{"count": 10})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.EqualValues(t, 10, updated[0]["count"])

	_, err = tbl.Update(ctx, "id", "zz", FieldMap{"count": 1})
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	summary, err := tbl.BulkUpdate(ctx, "id", []RowUpdate{
		{ID: "a", Fields: FieldMap{"active": true}},
		{ID: "missing", Fields: FieldMap{"active": true}},
		{ID: "c", Fields: FieldMap{"active": true}},
	})
	require.NoError(t, err)
	assert.Equal(t, "2/3 succeeded", summary.String())
	assert.Equal(t, "missing", summary.Failures[0].Key)

	active, err := tbl.Find(ctx, Eq("active", true))
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestFindMultipleFiltersAndLimit(t *testing.T) {
	ctx := context.Background()
	tbl := newItems(t)
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, tbl.Insert(ctx, FieldMap{"id": id, "count": i % 2, "active": true}))
	}

	rows, err := tbl.Find(ctx, Eq("count", 1), Eq("active", true))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].String("id"))

	rows, err = tbl.FindN(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	n, err := tbl.Count(ctx, Eq("count", 0))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := tbl.Exists(ctx, Eq("id", "d"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = tbl.Find(ctx, Eq("nope", 1))
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	tbl := newItems(t)
	require.NoError(t, tbl.Insert(ctx, FieldMap{"id": "a", "count": 1, "active": true}))

	removed, err := tbl.Delete(ctx, "id", "a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = tbl.Delete(ctx, "id", "a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestListFieldsDecodeOnRead(t *testing.T) {
	ctx := context.Background()
	store := NewStore(dbtest.CreateTestDB(t))
	tbl, err := store.Table("tagged", Definition{
		{Name: "id", Type: TypeText, PrimaryKey: true},
		{Name: "tags", Type: TypeList, Nullable: true},
		{Name: "extra", Nullable: true},
	})
	require.NoError(t, err)
	require.NoError(t, tbl.CreateIfNotExists(ctx, ""))

	require.NoError(t, tbl.Insert(ctx, FieldMap{
		"id":    "a",
		"tags":  []string{"GENE", "DISEASE"},
		"extra": map[string]int{"k": 1},
	}))
	require.NoError(t, tbl.Insert(ctx, FieldMap{"id": "b", "tags": []interface{}{"CHEMICAL"}}))

	rows, err := tbl.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"GENE", "DISEASE"}, rows[0]["tags"])
	assert.Equal(t, `{"k":1}`, rows[0]["extra"])
	assert.Equal(t, []string{"CHEMICAL"}, rows[1].Strings("tags"))
	assert.Nil(t, rows[1]["extra"])
}
