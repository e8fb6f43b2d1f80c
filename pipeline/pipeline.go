// Package pipeline runs one batch-ingestion pass: fetch every item from a
// source, then validate, process and store each item in source order,
// batch by batch.
//
// Failures are isolated per item. A validation error, a nil record, a
// failed store or a panic in a hook counts against that item only and the
// run moves on. Only an unreachable source aborts a run. Run never panics
// and never returns an error; callers inspect the RunResult.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/bfhtw/crud"
	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/logger"
	"github.com/teranos/bfhtw/source"
	"github.com/teranos/bfhtw/validate"
)

// DefaultBatchSize is the number of items per batch when none is configured
const DefaultBatchSize = 100

// ErrMaxRuntimeExceeded is the cancellation cause used by the max-runtime
// watchdog. A run cancelled with this cause ends FAILED, not CANCELLED.
var ErrMaxRuntimeExceeded = errors.New("max runtime exceeded")

// Processor holds the per-item hooks of a concrete pipeline.
//
// ProcessItem turns a validated item into a record; a nil record with a nil
// error is a soft failure. StoreItem persists the record; false is a failure.
type Processor interface {
	ProcessItem(ctx context.Context, item source.Item) (crud.Record, error)
	StoreItem(ctx context.Context, rec crud.Record) (bool, error)
}

// BatchFlusher is implemented by processors that defer work to the end of
// each batch, such as bulk status updates. Returned warnings are added to
// the run's warning list.
type BatchFlusher interface {
	FlushBatch(ctx context.Context) ([]string, error)
}

// Pipeline is one configured run over a source
type Pipeline struct {
	name      string
	id        string
	src       source.Source
	proc      Processor
	chain     *validate.Chain
	batchSize int
	itemKey   string
	logger    *zap.SugaredLogger

	mu    sync.Mutex
	state Status
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithValidators sets the validators run on every item before processing
func WithValidators(validators ...validate.Validator) Option {
	return func(p *Pipeline) { p.chain = validate.NewChain(validators, validate.WithLogger(p.logger)) }
}

// WithChain sets a prebuilt validator chain
func WithChain(c *validate.Chain) Option {
	return func(p *Pipeline) { p.chain = c }
}

// WithBatchSize sets the batch size; values <= 0 keep the default
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithLogger sets the pipeline's logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithItemKey names the item field used to label per-item errors
func WithItemKey(field string) Option {
	return func(p *Pipeline) { p.itemKey = field }
}

// New creates a pipeline in the PENDING state
func New(name string, src source.Source, proc Processor, opts ...Option) (*Pipeline, error) {
	if name == "" {
		return nil, errors.NewConfigurationError("pipeline name is required")
	}
	if src == nil {
		return nil, errors.NewConfigurationError("pipeline %s has no source", name)
	}
	if proc == nil {
		return nil, errors.NewConfigurationError("pipeline %s has no processor", name)
	}
	p := &Pipeline{
		name:      name,
		id:        uuid.New().String(),
		src:       src,
		proc:      proc,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop().Sugar(),
		state:     StatusPending,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.chain == nil {
		p.chain = validate.NewChain(nil)
	}
	return p, nil
}

// Name returns the pipeline name
func (p *Pipeline) Name() string { return p.name }

// ID returns the run ID assigned at construction
func (p *Pipeline) ID() string { return p.id }

// BatchSize returns the effective batch size
func (p *Pipeline) BatchSize() int { return p.batchSize }

// Source returns the pipeline's source
func (p *Pipeline) Source() source.Source { return p.src }

// State returns the current lifecycle state
func (p *Pipeline) State() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s Status) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// run is the mutable state of one Run call
type run struct {
	result  *RunResult
	total   int
	batches int
}

// Run executes the pipeline once. A pipeline runs at most once; calling Run
// again returns a FAILED result without touching the source.
func (p *Pipeline) Run(ctx context.Context) (result *RunResult) {
	start := time.Now()
	r := &run{result: &RunResult{
		PipelineID: p.id,
		Pipeline:   p.name,
		Status:     StatusRunning,
	}}

	p.mu.Lock()
	if p.state != StatusPending {
		p.mu.Unlock()
		r.result.Status = StatusFailed
		r.result.Errors = []string{fmt.Sprintf("pipeline %s (%s) already ran", p.name, p.id)}
		r.result.Metadata = p.metadata(r)
		return r.result
	}
	p.state = StatusRunning
	p.mu.Unlock()

	ctx = logger.WithPipeline(ctx, p.name)
	log := logger.LoggerFromContext(ctx, p.logger)

	defer func() {
		if rec := recover(); rec != nil {
			log.Errorw("Pipeline panicked", "panic", rec)
			r.result.Errors = append(r.result.Errors, fmt.Sprintf("pipeline error: %v", rec))
			r.result.Status = StatusFailed
		}
		r.result.ExecutionTime = time.Since(start)
		r.result.Metadata = p.metadata(r)
		p.setState(r.result.Status)
		p.logResult(log, r.result)
		result = r.result
	}()

	log.Infow("Starting pipeline", "pipeline_id", p.id, logger.FieldSource, p.src.Identifier())
	r.result.Status = p.execute(ctx, log, r)
	return r.result
}

// execute runs the connection check, fetch and batches and returns the final status
func (p *Pipeline) execute(ctx context.Context, log *zap.SugaredLogger, r *run) Status {
	res := r.result

	if err := p.src.ValidateConnection(ctx); err != nil {
		if status, stopped := p.stopped(ctx, res, 0); stopped {
			return status
		}
		res.Errors = append(res.Errors, fmt.Sprintf("connection error: cannot connect to data source %s: %v", p.src.Identifier(), err))
		log.Errorw("Source connection failed", logger.FieldSource, p.src.Identifier(), logger.FieldError, err.Error())
		return StatusFailed
	}

	items, err := p.src.FetchMetadata(ctx)
	if err != nil {
		if status, stopped := p.stopped(ctx, res, 0); stopped {
			return status
		}
		res.Errors = append(res.Errors, fmt.Sprintf("fetch error: %s: %v", p.src.Identifier(), err))
		log.Errorw("Source fetch failed", logger.FieldSource, p.src.Identifier(), logger.FieldError, err.Error())
		return StatusFailed
	}
	r.total = len(items)
	log.Infow("Retrieved items", logger.FieldCount, r.total, logger.FieldSource, p.src.Identifier())

	for start := 0; start < len(items); start += p.batchSize {
		if status, stopped := p.stopped(ctx, res, r.batches); stopped {
			return status
		}
		end := min(start+p.batchSize, len(items))
		r.batches++
		processed, failed := p.processBatch(ctx, items[start:end], start, res)
		log.Infow("Processed batch",
			logger.FieldBatch, r.batches,
			logger.FieldBatchSize, end-start,
			logger.FieldProcessed, processed,
			logger.FieldFailed, failed)
	}
	if status, stopped := p.stopped(ctx, res, r.batches); stopped {
		return status
	}

	switch {
	case res.FailedCount == 0:
		return StatusSuccess
	case res.ProcessedCount > 0:
		res.Warnings = append(res.Warnings, fmt.Sprintf("partial success: %d processed, %d failed", res.ProcessedCount, res.FailedCount))
		return StatusSuccess
	default:
		return StatusFailed
	}
}

// stopped checks for cancellation. The max-runtime cause maps to FAILED,
// any other cancellation to CANCELLED.
func (p *Pipeline) stopped(ctx context.Context, res *RunResult, batches int) (Status, bool) {
	if ctx.Err() == nil {
		return "", false
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrMaxRuntimeExceeded) {
		res.Errors = append(res.Errors, fmt.Sprintf("%v after %d batches", cause, batches))
		return StatusFailed, true
	}
	res.Warnings = append(res.Warnings, fmt.Sprintf("run cancelled after %d batches: %v", batches, cause))
	return StatusCancelled, true
}

// processBatch handles items strictly in order, then flushes deferred work
func (p *Pipeline) processBatch(ctx context.Context, batch []source.Item, offset int, res *RunResult) (processed, failed int) {
	for i, item := range batch {
		label := p.label(item, offset+i)
		ok, errs, warns := p.processOne(ctx, item, label)
		res.Errors = append(res.Errors, errs...)
		res.Warnings = append(res.Warnings, warns...)
		if ok {
			processed++
		} else {
			failed++
		}
	}
	res.ProcessedCount += processed
	res.FailedCount += failed

	if f, ok := p.proc.(BatchFlusher); ok {
		warns, err := p.flush(ctx, f)
		res.Warnings = append(res.Warnings, warns...)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("batch flush failed: %v", err))
		}
	}
	return processed, failed
}

func (p *Pipeline) flush(ctx context.Context, f BatchFlusher) (warns []string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf("panic: %v", rec)
		}
	}()
	return f.FlushBatch(ctx)
}

// processOne validates, processes and stores one item. Any panic in a hook
// is converted into an error entry for the item.
func (p *Pipeline) processOne(ctx context.Context, item source.Item, label string) (ok bool, errs, warns []string) {
	ctx, sink := withWarningSink(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Warnw("Item hook panicked", logger.FieldItemKey, label, "panic", rec)
			ok = false
			errs = append(errs, fmt.Sprintf("Processing error for item %s: panic: %v", label, rec))
		}
		for _, w := range sink.drain() {
			warns = append(warns, fmt.Sprintf("item %s: %s", label, w))
		}
	}()

	v := p.chain.Validate(ctx, item)
	for _, w := range v.Warnings {
		warns = append(warns, fmt.Sprintf("item %s: %s", label, w))
	}
	if !v.IsValid {
		for _, e := range v.Errors {
			errs = append(errs, fmt.Sprintf("item %s: %s", label, e))
		}
		if len(v.Errors) == 0 {
			errs = append(errs, fmt.Sprintf("item %s: validation failed", label))
		}
		return false, errs, warns
	}

	rec, err := p.proc.ProcessItem(ctx, item)
	if err != nil {
		return false, append(errs, fmt.Sprintf("Processing error for item %s: %v", label, err)), warns
	}
	if rec == nil {
		return false, append(errs, fmt.Sprintf("Processing returned nil for item %s", label)), warns
	}

	stored, err := p.proc.StoreItem(ctx, rec)
	if err != nil {
		return false, append(errs, fmt.Sprintf("Store error for item %s: %v", label, err)), warns
	}
	if !stored {
		return false, append(errs, fmt.Sprintf("Store failed for item %s", label)), warns
	}
	return true, errs, warns
}

// label names an item in messages: its key field when set, else its position
func (p *Pipeline) label(item source.Item, index int) string {
	if p.itemKey != "" {
		if v, ok := item[p.itemKey]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return fmt.Sprintf("#%d", index+1)
}

// sourceID is the source identifier, or "unknown" when Identifier panics
func (p *Pipeline) sourceID() (id string) {
	defer func() {
		if recover() != nil {
			id = "unknown"
		}
	}()
	return p.src.Identifier()
}

func (p *Pipeline) metadata(r *run) map[string]interface{} {
	md := map[string]interface{}{
		"source":      p.sourceID(),
		"batch_size":  p.batchSize,
		"total_items": r.total,
		"batches":     r.batches,
	}
	if rate, ok := r.result.Throughput(); ok {
		md["items_per_second"] = rate
	}
	return md
}

func (p *Pipeline) logResult(log *zap.SugaredLogger, res *RunResult) {
	fields := []interface{}{
		logger.FieldStatus, string(res.Status),
		logger.FieldProcessed, res.ProcessedCount,
		logger.FieldFailed, res.FailedCount,
		logger.FieldDurationMS, res.ExecutionTime.Milliseconds(),
	}
	switch res.Status {
	case StatusSuccess:
		log.Infow("Pipeline completed", fields...)
	case StatusCancelled:
		log.Warnw("Pipeline cancelled", fields...)
	default:
		log.Errorw("Pipeline failed", fields...)
		for i, e := range res.Errors {
			if i == 5 {
				break
			}
			log.Errorw("Pipeline error", logger.FieldError, e)
		}
	}
}
