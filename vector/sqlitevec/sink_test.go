package sqlitevec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/bfhtw/errors"
	dbtest "github.com/teranos/bfhtw/internal/testing"
	"github.com/teranos/bfhtw/vector"
)

var (
	_ vector.Sink     = (*Sink)(nil)
	_ vector.Searcher = (*Sink)(nil)
)

func TestOpenRejectsBadConfig(t *testing.T) {
	db := dbtest.CreateMigratedTestDB(t)

	_, err := Open(context.Background(), db, "blocks; DROP", 3, nil)
	assert.True(t, errors.IsConfigurationError(err))

	_, err = Open(context.Background(), db, "blocks", 0, nil)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	db := dbtest.CreateMigratedTestDB(t)
	sink, err := Open(ctx, db, "blocks", 3, nil)
	require.NoError(t, err)

	require.NoError(t, sink.Upsert(ctx, []vector.Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]interface{}{"doc_id": "d1", "block_index": 0}},
		{ID: "b", Vector: []float32{0, 1, 0}, Payload: map[string]interface{}{"doc_id": "d1", "block_index": 1}},
	}))
	// replacing a point keeps one row
	require.NoError(t, sink.Upsert(ctx, []vector.Point{
		{ID: "b", Vector: []float32{0, 0, 1}, Payload: map[string]interface{}{"doc_id": "d2"}},
	}))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM blocks_vec`).Scan(&n))
	assert.Equal(t, 2, n)

	matches, err := sink.Search(ctx, []float32{0, 0, 0.9}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].ID)
	assert.Equal(t, "d2", matches[0].Payload["doc_id"])
}

func TestUpsertDimensionMismatchRollsBack(t *testing.T) {
	ctx := context.Background()
	db := dbtest.CreateMigratedTestDB(t)
	sink, err := Open(ctx, db, "blocks", 3, nil)
	require.NoError(t, err)

	err = sink.Upsert(ctx, []vector.Point{
		{ID: "ok", Vector: []float32{1, 0, 0}},
		{ID: "short", Vector: []float32{1}},
	})
	require.Error(t, err)
	assert.True(t, errors.IsStorageError(err))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM blocks_points`).Scan(&n))
	assert.Equal(t, 0, n)
}
