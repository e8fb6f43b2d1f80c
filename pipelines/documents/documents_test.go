package documents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/bfhtw/am"
	"github.com/teranos/bfhtw/crud"
	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/inference"
	"github.com/teranos/bfhtw/inference/mock"
	dbtest "github.com/teranos/bfhtw/internal/testing"
	"github.com/teranos/bfhtw/models"
	"github.com/teranos/bfhtw/pipeline"
	"github.com/teranos/bfhtw/pulse/manager"
	"github.com/teranos/bfhtw/source"
	"github.com/teranos/bfhtw/validate"
	"github.com/teranos/bfhtw/vector/badgerstore"
)

const dims = 8

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

const abstract = `Hepatoblastoma is the most common primary liver tumor in children and is treated with cisplatin before surgery.

We reviewed 40 patients who received 80 mg/m2 cisplatin followed by resection of the tumor.

Short note.

Event-free survival improved when complete resection was achieved after chemotherapy.`

func testDeps(t *testing.T) (*manager.Deps, *badgerstore.Store, *mock.Provider) {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	store := crud.NewStore(dbtest.CreateTestDB(t))
	tables, err := models.OpenTables(context.Background(), store)
	require.NoError(t, err)

	vectors, err := badgerstore.Open("", "blocks", dims, log)
	require.NoError(t, err)
	t.Cleanup(func() { vectors.Close() })

	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	provider := mock.NewProvider(dims)
	return &manager.Deps{
		Store:      store,
		Tables:     tables,
		Inference:  provider,
		Vectors:    vectors,
		Vocabulary: validate.DefaultVocabulary(),
		Pool:       pool,
		Logger:     log,
		Now:        func() time.Time { return fixedNow },
	}, vectors, provider
}

func seed(t *testing.T, deps *manager.Deps, docs ...*models.Document) {
	t.Helper()
	for _, d := range docs {
		if d.SourceDB == "" {
			d.SourceDB = source.SourcePMC
		}
		if d.DocID == "" {
			d.DocID = models.DocumentID(d.SourceDB, d.ExternalID)
		}
		require.NoError(t, deps.Tables.Documents.Insert(context.Background(), d))
	}
}

func document(t *testing.T, deps *manager.Deps, docID string) models.Document {
	t.Helper()
	rows, err := deps.Tables.Documents.GetBy(context.Background(), "doc_id", docID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	var d models.Document
	require.NoError(t, d.FromFieldMap(rows[0]))
	return d
}

func spec(params map[string]interface{}) manager.Spec {
	return manager.Spec{
		Name:   Kind,
		Config: am.PipelineConfig{Name: Kind, Kind: Kind, BatchSize: 5, Parameters: params},
	}
}

func TestSplitBlocks(t *testing.T) {
	blocks := SplitBlocks("doc-1", abstract, 40, fixedNow)
	require.Len(t, blocks, 3)

	for i, b := range blocks {
		assert.Equal(t, i, b.BlockIndex)
		assert.Equal(t, models.BlockID("doc-1", i), b.BlockID)
		assert.Equal(t, b.Text, abstract[b.CharStart:b.CharEnd])
		assert.Equal(t, len(strings.Fields(b.Text)), b.TokenCount)
	}
	assert.True(t, strings.HasPrefix(blocks[2].Text, "Short note."), "short paragraph joins the next one")
	assert.True(t, strings.HasSuffix(blocks[2].Text, "after chemotherapy."))
}

func TestSplitBlocksShortText(t *testing.T) {
	blocks := SplitBlocks("d", "Tiny.\n\nAlso tiny.", 40, fixedNow)
	require.Len(t, blocks, 1)
	assert.Equal(t, "Tiny.\n\nAlso tiny.", blocks[0].Text)

	assert.Empty(t, SplitBlocks("d", "  \n\n ", 40, fixedNow))
}

func TestDocumentPipeline(t *testing.T) {
	deps, vectors, _ := testDeps(t)
	ctx := context.Background()
	seed(t, deps,
		&models.Document{ExternalID: "PMC1", Title: "Hepatoblastoma outcomes", Abstract: abstract},
		&models.Document{ExternalID: "PMC2", Title: "No text"},
		&models.Document{ExternalID: "PMC3", Title: "Done", Abstract: abstract, Processed: true},
	)

	p, err := New(ctx, deps, spec(nil))
	require.NoError(t, err)
	res := p.Run(ctx)

	assert.Equal(t, pipeline.StatusSuccess, res.Status)
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 1, res.FailedCount, "document without text or PMID fails")
	assert.Equal(t, 2, res.Metadata["total_items"])

	docID := models.DocumentID(source.SourcePMC, "PMC1")
	doc := document(t, deps, docID)
	assert.True(t, doc.Processed)
	assert.True(t, doc.VectorSynced)

	blocks, err := deps.Tables.Blocks.GetBy(ctx, "doc_id", docID)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	for _, row := range blocks {
		assert.True(t, row.Bool("ner_processed"))
		assert.True(t, row.Bool("embedding_exists"))
	}

	rows, err := deps.Tables.Entities.GetBy(ctx, "block_id", models.BlockID(docID, 0))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	var eb models.EntityBlock
	require.NoError(t, eb.FromFieldMap(rows[0]))
	assert.Equal(t, "mock", eb.Model)
	assert.Contains(t, eb.Entities.Medications, "cisplatin")
	assert.Contains(t, eb.Entities.Diseases, "hepatoblastoma")

	pt, err := vectors.Get(models.BlockID(docID, 1))
	require.NoError(t, err)
	assert.Len(t, pt.Vector, dims)
	assert.Equal(t, docID, pt.Payload["doc_id"])

	assert.False(t, document(t, deps, models.DocumentID(source.SourcePMC, "PMC2")).Processed)
}

func TestBlockFailuresAreWarnings(t *testing.T) {
	deps, _, provider := testDeps(t)
	ctx := context.Background()
	provider.Extract.ExtractFunc = func(_ context.Context, text string) (*inference.Entities, error) {
		if strings.Contains(text, "reviewed") {
			return nil, errors.NewConnectionError("extraction service down")
		}
		return &inference.Entities{}, nil
	}
	seed(t, deps, &models.Document{ExternalID: "PMC1", Abstract: abstract})

	p, err := New(ctx, deps, spec(nil))
	require.NoError(t, err)
	res := p.Run(ctx)

	assert.Equal(t, pipeline.StatusSuccess, res.Status)
	assert.Equal(t, 1, res.ProcessedCount)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "block 1: entity extraction failed")

	docID := models.DocumentID(source.SourcePMC, "PMC1")
	assert.True(t, document(t, deps, docID).Processed)
	n, err := deps.Tables.Entities.Count(ctx, crud.Eq("doc_id", docID))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDisabledInferenceStoresBlocksOnly(t *testing.T) {
	deps, _, provider := testDeps(t)
	ctx := context.Background()
	seed(t, deps, &models.Document{ExternalID: "PMC1", Abstract: abstract})

	p, err := New(ctx, deps, spec(map[string]interface{}{
		"enable_ai_processing": false,
		"enable_embeddings":    "false",
	}))
	require.NoError(t, err)
	res := p.Run(ctx)

	assert.Equal(t, pipeline.StatusSuccess, res.Status)
	assert.Zero(t, provider.Extract.Calls())
	assert.Zero(t, provider.Embed.Calls())

	doc := document(t, deps, models.DocumentID(source.SourcePMC, "PMC1"))
	assert.True(t, doc.Processed)
	assert.False(t, doc.VectorSynced)
}

type fakeFetcher struct {
	texts map[string]string
	calls int
}

func (f *fakeFetcher) FetchText(_ context.Context, pmid string) (string, error) {
	f.calls++
	text, ok := f.texts[pmid]
	if !ok {
		return "", errors.NewNotFoundError("no abstract for PMID %s", pmid)
	}
	return text, nil
}

func TestFetchesTextByPMID(t *testing.T) {
	deps, _, _ := testDeps(t)
	ctx := context.Background()
	fetcher := &fakeFetcher{texts: map[string]string{"111": abstract}}
	proc := NewProcessor(deps.Tables, Options{
		Params:         DefaultParams(),
		Fetcher:        fetcher,
		Embedder:       mock.NewEmbedder(dims),
		Vectors:        deps.Vectors,
		Now:            deps.Now,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
	})
	seed(t, deps,
		&models.Document{ExternalID: "PMC1", PMID: "111"},
		&models.Document{ExternalID: "PMC2", PMID: "222"},
	)

	src := source.NewDatabaseSource(deps.Tables.Documents, map[string]interface{}{"processed": false}, 0)
	p, err := pipeline.New("docs", src, proc)
	require.NoError(t, err)
	res := p.Run(ctx)

	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, 2, fetcher.calls, "not-found is not retried")

	doc := document(t, deps, models.DocumentID(source.SourcePMC, "PMC1"))
	assert.True(t, doc.Processed)
	assert.Equal(t, abstract, doc.Abstract, "fetched text is kept on the document")
}

func TestShortTextIsRejectedOnce(t *testing.T) {
	deps, _, _ := testDeps(t)
	ctx := context.Background()
	seed(t, deps, &models.Document{ExternalID: "PMC1", Abstract: "Too short."})

	p, err := New(ctx, deps, spec(nil))
	require.NoError(t, err)
	res := p.Run(ctx)
	assert.Equal(t, pipeline.StatusFailed, res.Status)

	doc := document(t, deps, models.DocumentID(source.SourcePMC, "PMC1"))
	assert.True(t, doc.Processed, "rejected documents are not picked up again")
	assert.Contains(t, doc.Notes, "rejected")
}

func TestRegister(t *testing.T) {
	reg := manager.NewRegistry()
	Register(reg)
	_, ok := reg.Get(Kind)
	assert.True(t, ok)
}
