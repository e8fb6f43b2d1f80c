// Package pubmed ingests article metadata from PubMed Central (or a local
// export of it) into the article table and seeds one unprocessed document
// per article for document processing.
package pubmed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/bfhtw/am"
	"github.com/teranos/bfhtw/crud"
	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/logger"
	"github.com/teranos/bfhtw/models"
	"github.com/teranos/bfhtw/pipeline"
	"github.com/teranos/bfhtw/pulse/manager"
	"github.com/teranos/bfhtw/source"
	"github.com/teranos/bfhtw/validate"
)

// Kind is the registry key of the metadata pipeline
const Kind = "pubmed_metadata"

// RequiredFields must be present on every article item
var RequiredFields = []string{"pmcid", "title"}

// Params are the pipeline parameters the metadata pipeline reads
type Params struct {
	SourceType       string `mapstructure:"source_type"`
	StrictValidation bool   `mapstructure:"strict_validation"`
	source.Params    `mapstructure:",squash"`
}

// Register adds the metadata pipeline to reg
func Register(reg *manager.Registry) {
	reg.Register(Kind, New)
}

// New builds one run of the metadata pipeline
func New(_ context.Context, deps *manager.Deps, spec manager.Spec) (*pipeline.Pipeline, error) {
	var p Params
	if err := am.DecodeParams(spec.Config.Parameters, &p); err != nil {
		return nil, errors.Wrapf(err, "pipeline %s", spec.Name)
	}
	if p.SourceType == "" {
		p.SourceType = source.KindPMC
	}
	log := deps.Named("pubmed").With(logger.FieldPipeline, spec.Name)

	var pmc am.PMCConfig
	if spec.App != nil {
		pmc = spec.App.Sources.PMC
	}
	src, err := source.New(p.SourceType, p.Params, source.Env{
		PMC:         pmc,
		Store:       deps.Store,
		Definitions: models.Definitions,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	chain := validate.ForMetadata(models.ArticleDefinition, RequiredFields, nil, p.StrictValidation, validate.WithLogger(log))
	dup := validate.NewDuplicateValidator(deps.Tables.Articles, "pmcid")
	if !p.StrictValidation {
		dup.AsWarning()
	}
	chain.Add(dup)

	proc := NewProcessor(deps.Tables, spec.Name, deps.Now, log)
	return pipeline.New(spec.Name, src, proc,
		pipeline.WithChain(chain),
		pipeline.WithBatchSize(spec.Config.BatchSize),
		pipeline.WithItemKey("pmcid"),
		pipeline.WithLogger(log))
}

// Processor turns article items into Article rows and seeds documents
type Processor struct {
	articles  *crud.Table
	documents *crud.Table
	pipeline  string
	now       func() time.Time
	logger    *zap.SugaredLogger
}

// NewProcessor creates a processor writing to tables
func NewProcessor(tables *models.Tables, pipelineName string, now func() time.Time, log *zap.SugaredLogger) *Processor {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Processor{
		articles:  tables.Articles,
		documents: tables.Documents,
		pipeline:  pipelineName,
		now:       now,
		logger:    log,
	}
}

// ProcessItem implements pipeline.Processor
func (p *Processor) ProcessItem(_ context.Context, item source.Item) (crud.Record, error) {
	var a models.Article
	if err := a.FromFieldMap(crud.FieldMap(item)); err != nil {
		return nil, errors.WrapProcessing(err, "decode article")
	}
	if a.PMCID == "" {
		return nil, errors.MarkProcessing(errors.New("article has no pmcid"))
	}
	if a.AccessionID == "" {
		a.AccessionID = a.PMCID
	}
	if a.SourceDB == "" {
		a.SourceDB = source.SourcePMC
	}
	if a.DiscoveredAt.IsZero() {
		a.DiscoveredAt = p.now().UTC()
	}
	return &a, nil
}

// StoreItem upserts the article and seeds its document if none exists yet.
// An existing document keeps its processed flag.
func (p *Processor) StoreItem(ctx context.Context, rec crud.Record) (bool, error) {
	a, ok := rec.(*models.Article)
	if !ok {
		return false, errors.MarkProcessing(errors.Newf("unexpected record %T", rec))
	}
	if err := p.articles.Insert(ctx, a); err != nil {
		return false, err
	}

	docID := models.DocumentID(a.SourceDB, a.PMCID)
	exists, err := p.documents.Exists(ctx, crud.Eq("doc_id", docID))
	if err != nil {
		return false, err
	}
	if exists {
		p.logger.Debugw("Document already seeded", logger.FieldItemKey, a.PMCID, "doc_id", docID)
		return true, nil
	}
	if err := p.documents.Insert(ctx, a.Document(docID, p.pipeline, p.now().UTC())); err != nil {
		// the article row is kept; the next run seeds the document
		pipeline.Warn(ctx, "document not seeded: %v", err)
	}
	return true, nil
}
