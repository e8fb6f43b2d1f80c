// Package documents turns unprocessed documents into paragraph blocks,
// annotates each block with entity mentions and an embedding, and marks the
// document processed once its blocks are stored.
//
// Inference calls fan out over the shared worker pool, one task per block.
// A failing call costs that block its annotation and raises a warning; the
// document itself still completes.
package documents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/teranos/bfhtw/am"
	"github.com/teranos/bfhtw/crud"
	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/inference"
	"github.com/teranos/bfhtw/logger"
	"github.com/teranos/bfhtw/models"
	"github.com/teranos/bfhtw/pipeline"
	"github.com/teranos/bfhtw/pulse/manager"
	"github.com/teranos/bfhtw/source"
	"github.com/teranos/bfhtw/validate"
	"github.com/teranos/bfhtw/vector"
)

// Kind is the registry key of the document pipeline
const Kind = "document_processing"

// Params are the pipeline parameters the document pipeline reads
type Params struct {
	MaxArticles        int  `mapstructure:"max_articles"`
	EnableAIProcessing bool `mapstructure:"enable_ai_processing"`
	EnableEmbeddings   bool `mapstructure:"enable_embeddings"`
	MinBlockChars      int  `mapstructure:"min_block_chars"`
	StrictValidation   bool `mapstructure:"strict_validation"`
}

// DefaultParams are used for keys the configuration leaves out
func DefaultParams() Params {
	return Params{
		EnableAIProcessing: true,
		EnableEmbeddings:   true,
		MinBlockChars:      DefaultMinBlockChars,
	}
}

// Register adds the document pipeline to reg
func Register(reg *manager.Registry) {
	reg.Register(Kind, New)
}

// New builds one run of the document pipeline over unprocessed documents
func New(_ context.Context, deps *manager.Deps, spec manager.Spec) (*pipeline.Pipeline, error) {
	p := DefaultParams()
	if err := am.DecodeParams(spec.Config.Parameters, &p); err != nil {
		return nil, errors.Wrapf(err, "pipeline %s", spec.Name)
	}
	log := deps.Named("documents").With(logger.FieldPipeline, spec.Name)

	opts := Options{
		Params:     p,
		Vocabulary: deps.Vocabulary,
		Vectors:    deps.Vectors,
		Pool:       deps.Pool,
		Now:        deps.Now,
		Logger:     log,
	}
	if deps.Inference != nil {
		opts.Model = deps.Inference.Model()
		if p.EnableAIProcessing {
			opts.Extractor = deps.Inference.EntityExtractor()
		}
		if p.EnableEmbeddings {
			opts.Embedder = deps.Inference.Embedder()
		}
	} else if p.EnableAIProcessing || p.EnableEmbeddings {
		log.Infow("Inference disabled, blocks are stored without annotations")
	}
	if spec.App != nil {
		opts.MaxRetries = spec.App.Inference.MaxRetries
		opts.RetryBaseDelay = time.Duration(spec.App.Inference.RetryBaseDelayMS) * time.Millisecond
		opts.Fetcher = source.NewPubMedAbstractFetcher(source.PMCOptionsFrom(spec.App.Sources.PMC, source.Params{}, log))
	}

	src := source.NewDatabaseSource(deps.Tables.Documents, map[string]interface{}{"processed": false}, p.MaxArticles)
	chain := validate.ForMetadata(models.DocumentDefinition, []string{"source_db", "external_id"}, nil, p.StrictValidation, validate.WithLogger(log))

	proc := NewProcessor(deps.Tables, opts)
	return pipeline.New(spec.Name, src, proc,
		pipeline.WithChain(chain),
		pipeline.WithBatchSize(spec.Config.BatchSize),
		pipeline.WithItemKey("doc_id"),
		pipeline.WithLogger(log))
}

// Options configure a Processor. Nil collaborators switch their step off.
type Options struct {
	Params         Params
	Extractor      inference.EntityExtractor
	Embedder       inference.Embedder
	Model          string
	Fetcher        source.TextFetcher
	Vectors        vector.Sink
	Vocabulary     *validate.Vocabulary
	Pool           *ants.Pool
	MaxRetries     int
	RetryBaseDelay time.Duration
	Now            func() time.Time
	Logger         *zap.SugaredLogger
}

// Processor implements pipeline.Processor and pipeline.BatchFlusher
type Processor struct {
	opts      Options
	blocks    *crud.Table
	entities  *crud.Table
	documents *crud.Table
	text      *validate.Chain

	mu      sync.Mutex
	pending []crud.RowUpdate
}

// NewProcessor creates a processor writing to tables
func NewProcessor(tables *models.Tables, opts Options) *Processor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Vectors == nil {
		opts.Vectors = vector.Discard{}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}
	if opts.Params.MinBlockChars <= 0 {
		opts.Params.MinBlockChars = DefaultMinBlockChars
	}
	return &Processor{
		opts:      opts,
		blocks:    tables.Blocks,
		entities:  tables.Entities,
		documents: tables.Documents,
		text: validate.NewChain([]validate.Validator{
			validate.NewContentValidator(validate.ContentOptions{
				MinLength:         opts.Params.MinBlockChars,
				RequireVocabulary: true,
				Vocabulary:        opts.Vocabulary,
			}),
		}),
	}
}

// Processed is the outcome of one document: its blocks and whatever
// annotations succeeded
type Processed struct {
	Doc      *models.Document
	Fetched  bool // Doc.Abstract came from the text fetcher
	Blocks   []*models.Block
	Entities []*models.EntityBlock
	Points   []vector.Point
}

// ToFieldMap implements crud.Record
func (r *Processed) ToFieldMap() crud.FieldMap { return r.Doc.ToFieldMap() }

// String summarizes r for logs
func (r *Processed) String() string {
	return fmt.Sprintf("%s: %d blocks, %d entity rows, %d vectors", r.Doc.DocID, len(r.Blocks), len(r.Entities), len(r.Points))
}

// ProcessItem resolves the document text, splits it and annotates the blocks
func (p *Processor) ProcessItem(ctx context.Context, item source.Item) (crud.Record, error) {
	var doc models.Document
	if err := doc.FromFieldMap(crud.FieldMap(item)); err != nil {
		return nil, errors.WrapProcessing(err, "decode document")
	}
	if doc.DocID == "" {
		return nil, errors.MarkProcessing(errors.New("document has no doc_id"))
	}

	text, fetched, err := p.resolveText(ctx, &doc)
	if err != nil {
		return nil, err
	}

	v := p.text.Validate(ctx, crud.FieldMap{"text": text})
	for _, w := range v.Warnings {
		pipeline.Warn(ctx, "%s", w)
	}
	if !v.IsValid {
		// not retried on the next run
		p.queue(doc.DocID, crud.FieldMap{
			"processed": true,
			"notes":     "rejected: " + strings.Join(v.Errors, "; "),
		})
		return nil, errors.NewValidationError("document text rejected: %s", strings.Join(v.Errors, "; "))
	}
	if fetched {
		doc.Abstract = text
	}

	out := &Processed{
		Doc:     &doc,
		Fetched: fetched,
		Blocks:  SplitBlocks(doc.DocID, text, p.opts.Params.MinBlockChars, p.opts.Now().UTC()),
	}
	p.annotate(ctx, out)
	return out, nil
}

// resolveText prefers the stored abstract and falls back to the fetcher by PMID
func (p *Processor) resolveText(ctx context.Context, doc *models.Document) (string, bool, error) {
	if strings.TrimSpace(doc.Abstract) != "" {
		return doc.Abstract, false, nil
	}
	if doc.PMID == "" || p.opts.Fetcher == nil {
		return "", false, errors.NewValidationError("document %s has no text and no PMID to fetch it by", doc.DocID)
	}
	var text string
	err := pipeline.RetryWithBackoff(ctx, func(ctx context.Context) error {
		var err error
		text, err = p.opts.Fetcher.FetchText(ctx, doc.PMID)
		if errors.IsNotFoundError(err) {
			return nil
		}
		return err
	}, p.opts.MaxRetries, p.opts.RetryBaseDelay)
	if err != nil {
		return "", false, errors.Wrapf(err, "fetch text for PMID %s", doc.PMID)
	}
	if strings.TrimSpace(text) == "" {
		return "", false, errors.NewNotFoundError("no abstract for PMID %s", doc.PMID)
	}
	return text, true, nil
}

// annotate runs entity extraction and embedding for every block, one task
// per block on the pool. Results land at the block's index, so out keeps
// block order regardless of completion order.
func (p *Processor) annotate(ctx context.Context, out *Processed) {
	if p.opts.Extractor == nil && p.opts.Embedder == nil {
		return
	}
	entities := make([]*models.EntityBlock, len(out.Blocks))
	vectors := make([][]float32, len(out.Blocks))

	var wg sync.WaitGroup
	for i, b := range out.Blocks {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			entities[i], vectors[i] = p.annotateBlock(ctx, b)
		}
		if p.opts.Pool == nil {
			task()
			continue
		}
		if err := p.opts.Pool.Submit(task); err != nil {
			p.opts.Logger.Debugw("Pool unavailable, annotating inline", logger.FieldError, err.Error())
			task()
		}
	}
	wg.Wait()

	for i, b := range out.Blocks {
		if e := entities[i]; e != nil {
			b.NERProcessed = true
			out.Entities = append(out.Entities, e)
		}
		if vec := vectors[i]; vec != nil {
			b.EmbeddingExists = true
			out.Points = append(out.Points, vector.Point{
				ID:     b.BlockID,
				Vector: vec,
				Payload: map[string]interface{}{
					"doc_id":      b.DocID,
					"block_index": b.BlockIndex,
				},
			})
		}
	}
}

func (p *Processor) annotateBlock(ctx context.Context, b *models.Block) (*models.EntityBlock, []float32) {
	var (
		ents *models.EntityBlock
		vec  []float32
	)
	if p.opts.Extractor != nil {
		var found *inference.Entities
		err := pipeline.RetryWithBackoff(ctx, func(ctx context.Context) error {
			var err error
			found, err = p.opts.Extractor.ExtractEntities(ctx, b.Text)
			return err
		}, p.opts.MaxRetries, p.opts.RetryBaseDelay)
		switch {
		case err != nil:
			pipeline.Warn(ctx, "block %d: entity extraction failed: %v", b.BlockIndex, err)
		case found != nil:
			ents = &models.EntityBlock{BlockID: b.BlockID, DocID: b.DocID, Model: p.opts.Model, Entities: *found}
		}
	}
	if p.opts.Embedder != nil {
		err := pipeline.RetryWithBackoff(ctx, func(ctx context.Context) error {
			var err error
			vec, err = p.opts.Embedder.EmbedText(ctx, b.Text)
			return err
		}, p.opts.MaxRetries, p.opts.RetryBaseDelay)
		if err != nil {
			pipeline.Warn(ctx, "block %d: embedding failed: %v", b.BlockIndex, err)
			vec = nil
		}
	}
	return ents, vec
}

// StoreItem writes blocks, entity rows and vectors, then queues the
// document's processed flag for the batch flush
func (p *Processor) StoreItem(ctx context.Context, rec crud.Record) (bool, error) {
	r, ok := rec.(*Processed)
	if !ok {
		return false, errors.MarkProcessing(errors.Newf("unexpected record %T", rec))
	}

	summary, err := p.blocks.BulkInsert(ctx, crud.Records(r.Blocks))
	if err != nil {
		return false, err
	}
	for _, w := range summary.Warnings() {
		pipeline.Warn(ctx, "%s", w)
	}
	if len(r.Blocks) > 0 && summary.Succeeded == 0 {
		return false, errors.MarkStorage(errors.Newf("no block of %s stored (%s)", r.Doc.DocID, summary))
	}

	if len(r.Entities) > 0 {
		es, err := p.entities.BulkInsert(ctx, crud.Records(r.Entities))
		if err != nil {
			pipeline.Warn(ctx, "entity rows not stored: %v", err)
		} else {
			for _, w := range es.Warnings() {
				pipeline.Warn(ctx, "%s", w)
			}
		}
	}

	synced := false
	if len(r.Points) > 0 {
		if err := p.opts.Vectors.Upsert(ctx, r.Points); err != nil {
			pipeline.Warn(ctx, "vectors not synced: %v", err)
		} else {
			synced = len(r.Points) == len(r.Blocks)
		}
	}

	fields := crud.FieldMap{"processed": true, "vector_synced": synced}
	if r.Fetched {
		fields["abstract"] = r.Doc.Abstract
	}
	p.queue(r.Doc.DocID, fields)

	p.opts.Logger.Debugw("Document stored", "summary", r.String(), "vector_synced", synced)
	return true, nil
}

func (p *Processor) queue(docID string, fields crud.FieldMap) {
	p.mu.Lock()
	p.pending = append(p.pending, crud.RowUpdate{ID: docID, Fields: fields})
	p.mu.Unlock()
}

// FlushBatch implements pipeline.BatchFlusher: the queued document flags
// are written in one bulk update
func (p *Processor) FlushBatch(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	updates := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(updates) == 0 {
		return nil, nil
	}

	summary, err := p.documents.BulkUpdate(ctx, "doc_id", updates)
	if err != nil {
		return nil, err
	}
	if summary.Failed() > 0 {
		return summary.Warnings(), nil
	}
	p.opts.Logger.Debugw("Document flags flushed", logger.FieldCount, summary.Succeeded)
	return nil, nil
}

var (
	_ pipeline.Processor    = (*Processor)(nil)
	_ pipeline.BatchFlusher = (*Processor)(nil)
	_ crud.Record           = (*Processed)(nil)
)
