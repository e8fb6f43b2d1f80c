package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/bfhtw/crud"
	"github.com/teranos/bfhtw/inference"
	dbtest "github.com/teranos/bfhtw/internal/testing"
)

func openTables(t *testing.T) *Tables {
	t.Helper()
	tables, err := OpenTables(context.Background(), crud.NewStore(dbtest.CreateTestDB(t)))
	require.NoError(t, err)
	return tables
}

func TestDefinitionsAreValid(t *testing.T) {
	for name, def := range Definitions {
		assert.NoError(t, def.Validate(), name)
		assert.NotEmpty(t, def.PrimaryKey(), name)
	}
}

func TestArticleRoundTrip(t *testing.T) {
	ctx := context.Background()
	tables := openTables(t)

	discovered := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	in := &Article{
		PMCID:        "PMC111",
		AccessionID:  "PMC111",
		Title:        "Hepatoblastoma outcomes",
		Authors:      []string{"Doe J", "Smith A"},
		SourceDB:     "pubmed_central",
		DiscoveredAt: discovered,
	}
	require.NoError(t, tables.Articles.Insert(ctx, in))

	rows, err := tables.Articles.GetBy(ctx, "pmcid", "PMC111")
	require.NoError(t, err)
	out, err := crud.DecodeRows[Article](rows)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, in.Title, out[0].Title)
	assert.Equal(t, in.Authors, out[0].Authors)
	assert.Equal(t, "", out[0].PMID, "empty optional fields are stored as NULL")
	assert.False(t, out[0].FullTextDownloaded)
	assert.True(t, discovered.Equal(out[0].DiscoveredAt))
}

func TestDocumentUniqueSourceKey(t *testing.T) {
	ctx := context.Background()
	tables := openTables(t)

	art := &Article{PMCID: "PMC1", Title: "t", SourceDB: "pubmed_central", PMID: "42"}
	doc := art.Document(DocumentID(art.SourceDB, art.PMCID), "pubmed_metadata", time.Now())
	require.NoError(t, tables.Documents.Insert(ctx, doc))

	assert.Equal(t, DocumentID("pubmed_central", "PMC1"), doc.DocID, "doc IDs are deterministic")
	assert.NotEqual(t, DocumentID("pubmed_central", "PMC2"), doc.DocID)

	dup := *doc
	dup.DocID = "other"
	assert.Error(t, tables.Documents.Insert(ctx, &dup), "same source_db/external_id under another doc_id")

	rows, err := tables.Documents.Find(ctx, crud.Eq("processed", false))
	require.NoError(t, err)
	docs, err := crud.DecodeRows[Document](rows)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "42", docs[0].PMID)
	assert.Equal(t, "pubmed_metadata", docs[0].IngestPipeline)
}

func TestBlockIDIsStable(t *testing.T) {
	assert.Equal(t, BlockID("d1", 0), BlockID("d1", 0))
	assert.NotEqual(t, BlockID("d1", 0), BlockID("d1", 1))
	assert.NotEqual(t, BlockID("d1", 0), BlockID("d2", 0))
}

func TestEntityBlockRoundTrip(t *testing.T) {
	ctx := context.Background()
	tables := openTables(t)

	in := &EntityBlock{
		BlockID: BlockID("d1", 0),
		DocID:   "d1",
		Model:   "mock",
		Entities: inference.Entities{
			Medications: []string{"cisplatin"},
			Diseases:    []string{"hepatoblastoma", "carcinoma"},
		},
	}
	_, err := tables.Entities.BulkInsert(ctx, crud.Records([]*EntityBlock{in}))
	require.NoError(t, err)

	rows, err := tables.Entities.GetBy(ctx, "doc_id", "d1")
	require.NoError(t, err)
	out, err := crud.DecodeRows[EntityBlock](rows)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in.Entities.Medications, out[0].Entities.Medications)
	assert.Equal(t, in.Entities.Diseases, out[0].Entities.Diseases)
	assert.Empty(t, out[0].Entities.Symptoms)
	assert.Equal(t, 3, out[0].Entities.Count())
}
