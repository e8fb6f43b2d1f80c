package pubmed

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/bfhtw/am"
	"github.com/teranos/bfhtw/crud"
	dbtest "github.com/teranos/bfhtw/internal/testing"
	"github.com/teranos/bfhtw/models"
	"github.com/teranos/bfhtw/pipeline"
	"github.com/teranos/bfhtw/pulse/manager"
	"github.com/teranos/bfhtw/source"
)

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func testDeps(t *testing.T) *manager.Deps {
	t.Helper()
	store := crud.NewStore(dbtest.CreateTestDB(t))
	tables, err := models.OpenTables(context.Background(), store)
	require.NoError(t, err)
	return &manager.Deps{
		Store:  store,
		Tables: tables,
		Logger: zaptest.NewLogger(t).Sugar(),
		Now:    func() time.Time { return fixedNow },
	}
}

func writeArticles(t *testing.T, items []map[string]interface{}) string {
	t.Helper()
	data, err := json.Marshal(items)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "articles.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func article(pmcid, title string) map[string]interface{} {
	return map[string]interface{}{
		"pmcid":            pmcid,
		"accession_id":     pmcid,
		"title":            title,
		"journal":          "J Clin Oncol",
		"publication_date": "2024 Jan",
		"authors":          []string{"Smith J", "Doe A"},
		"source_db":        source.SourcePMC,
		"pmid":             "38000001",
	}
}

func spec(path string, strict bool) manager.Spec {
	return manager.Spec{
		Name: Kind,
		Config: am.PipelineConfig{
			Name:      Kind,
			Kind:      Kind,
			BatchSize: 2,
			Parameters: map[string]interface{}{
				"source_type":       source.KindLocalFile,
				"file_path":         path,
				"strict_validation": strict,
			},
		},
		App: am.DefaultConfig(),
	}
}

func TestMetadataPipelineSeedsDocuments(t *testing.T) {
	deps := testDeps(t)
	ctx := context.Background()
	path := writeArticles(t, []map[string]interface{}{
		article("PMC100", "Cisplatin response in lung carcinoma"),
		article("PMC200", "Tumor microenvironment and immunotherapy"),
		{"pmcid": "PMC300"}, // no title
	})

	p, err := New(ctx, deps, spec(path, false))
	require.NoError(t, err)
	res := p.Run(ctx)

	assert.Equal(t, pipeline.StatusSuccess, res.Status)
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, 1, res.FailedCount)

	n, err := deps.Tables.Articles.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := deps.Tables.Documents.GetBy(ctx, "external_id", "PMC100")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	var doc models.Document
	require.NoError(t, doc.FromFieldMap(rows[0]))
	assert.Equal(t, models.DocumentID(source.SourcePMC, "PMC100"), doc.DocID)
	assert.False(t, doc.Processed)
	assert.Equal(t, Kind, doc.IngestPipeline)
	assert.Equal(t, []string{"Smith J", "Doe A"}, doc.Authors)
	assert.Equal(t, "38000001", doc.PMID)
}

func TestRerunKeepsProcessedFlag(t *testing.T) {
	deps := testDeps(t)
	ctx := context.Background()
	path := writeArticles(t, []map[string]interface{}{article("PMC100", "Cisplatin response")})

	p, err := New(ctx, deps, spec(path, false))
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusSuccess, p.Run(ctx).Status)

	docID := models.DocumentID(source.SourcePMC, "PMC100")
	_, err = deps.Tables.Documents.Update(ctx, "doc_id", docID, crud.FieldMap{"processed": true})
	require.NoError(t, err)

	p, err = New(ctx, deps, spec(path, false))
	require.NoError(t, err)
	res := p.Run(ctx)
	assert.Equal(t, pipeline.StatusSuccess, res.Status)
	assert.NotEmpty(t, res.Warnings, "duplicate is reported as a warning in lenient mode")

	rows, err := deps.Tables.Documents.GetBy(ctx, "doc_id", docID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Bool("processed"))
}

func TestStrictModeRejectsDuplicates(t *testing.T) {
	deps := testDeps(t)
	ctx := context.Background()
	path := writeArticles(t, []map[string]interface{}{article("PMC100", "Cisplatin response")})

	p, err := New(ctx, deps, spec(path, true))
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusSuccess, p.Run(ctx).Status)

	p, err = New(ctx, deps, spec(path, true))
	require.NoError(t, err)
	res := p.Run(ctx)
	assert.Equal(t, pipeline.StatusFailed, res.Status)
	assert.Equal(t, 1, res.FailedCount)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "PMC100")
}

func TestProcessItemDefaults(t *testing.T) {
	deps := testDeps(t)
	proc := NewProcessor(deps.Tables, Kind, deps.Now, nil)

	rec, err := proc.ProcessItem(context.Background(), source.Item{"pmcid": "PMC9", "title": "t"})
	require.NoError(t, err)
	a := rec.(*models.Article)
	assert.Equal(t, "PMC9", a.AccessionID)
	assert.Equal(t, source.SourcePMC, a.SourceDB)
	assert.Equal(t, fixedNow, a.DiscoveredAt)

	_, err = proc.ProcessItem(context.Background(), source.Item{"title": "no id"})
	assert.Error(t, err)
}

func TestUnknownSourceTypeIsConfigurationError(t *testing.T) {
	deps := testDeps(t)
	s := spec("", false)
	s.Config.Parameters["source_type"] = "ftp"
	_, err := New(context.Background(), deps, s)
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	reg := manager.NewRegistry()
	Register(reg)
	_, ok := reg.Get(Kind)
	assert.True(t, ok)
}
