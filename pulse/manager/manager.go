// Package manager owns the named pipelines of a configuration document and
// mediates every run: manual runs from the CLI and scheduled runs from the
// polling loop go through RunPipeline.
//
// RunPipeline rejects a run before anything is recorded when the pipeline
// is unknown, disabled, already running, or one of its dependencies has no
// SUCCESS inside the freshness window. An accepted run holds the
// single-flight slot for its name and is recorded as an Execution that is
// finalized on every exit path.
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/bfhtw/am"
	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/logger"
	"github.com/teranos/bfhtw/pipeline"
	"github.com/teranos/bfhtw/pulse/schedule"
)

// Rejection reasons. Every one is also a configuration error.
var (
	ErrUnknownPipeline  = errors.New("unknown pipeline")
	ErrDisabled         = errors.New("pipeline disabled")
	ErrAlreadyRunning   = errors.New("pipeline already running")
	ErrDependencyNotMet = errors.New("dependency not satisfied")
)

// Overrides adjust one run without touching the stored configuration
type Overrides struct {
	BatchSize  int                    // > 0 replaces batch_size
	MaxItems   int                    // > 0 sets the max_articles parameter
	Lenient    bool                   // sets strict_validation=false
	Parameters map[string]interface{} // merged over the configured parameters
	Trigger    string                 // schedule.TriggerManual (default) or schedule.TriggerSchedule
}

// slot is the single-flight reservation for one pipeline name
type slot struct {
	exec   *schedule.Execution // nil while the run is being prepared
	cancel context.CancelCauseFunc
}

// Manager runs named pipelines with single-flight and dependency gating
type Manager struct {
	registry *Registry
	deps     *Deps
	history  *schedule.ExecutionStore
	table    *schedule.Table
	now      func() time.Time
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	cfg       *am.Config
	loc       *time.Location
	freshness time.Duration
	running   map[string]*slot
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the manager's logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a manager over cfg's pipelines
func New(cfg *am.Config, reg *Registry, deps *Deps, opts ...Option) (*Manager, error) {
	if deps == nil || deps.DB == nil {
		return nil, errors.NewConfigurationError("manager needs an open database")
	}
	m := &Manager{
		registry: reg,
		deps:     deps,
		history:  schedule.NewExecutionStore(deps.DB),
		table:    schedule.NewTable(),
		now:      time.Now,
		logger:   zap.NewNop().Sugar(),
		running:  make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("manager")
	if err := m.apply(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// apply validates cfg and installs it
func (m *Manager) apply(cfg *am.Config) error {
	if cfg == nil {
		return errors.NewConfigurationError("no configuration")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, err := schedule.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg = cfg
	m.loc = loc
	m.freshness = time.Duration(cfg.Scheduler.FreshnessWindowHours) * time.Hour
	m.mu.Unlock()
	return nil
}

// History exposes the execution store
func (m *Manager) History() *schedule.ExecutionStore { return m.history }

// Table exposes the trigger table
func (m *Manager) Table() *schedule.Table { return m.table }

// Config returns the active configuration document
func (m *Manager) Config() *am.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// RunPipeline runs name once and returns its result. A rejected run
// returns a nil result and an error, and records no Execution. An accepted
// run always returns a result, even when the pipeline panics.
func (m *Manager) RunPipeline(ctx context.Context, name string, ov Overrides) (*pipeline.RunResult, error) {
	spec, maxRuntime, err := m.reserve(ctx, name, ov)
	if err != nil {
		m.logger.Infow("Run rejected", logger.FieldPipeline, name, logger.FieldError, err.Error())
		return nil, err
	}
	return m.execute(ctx, spec, maxRuntime, ov.Trigger)
}

// reserve performs the gating checks and claims the single-flight slot
func (m *Manager) reserve(ctx context.Context, name string, ov Overrides) (Spec, time.Duration, error) {
	m.mu.Lock()
	cfg, ok := m.cfg.Pipelines[name]
	if !ok {
		m.mu.Unlock()
		return Spec{}, 0, errors.MarkConfiguration(errors.Wrapf(ErrUnknownPipeline, "%q", name))
	}
	if !cfg.IsEnabled() {
		m.mu.Unlock()
		return Spec{}, 0, errors.MarkConfiguration(errors.Wrapf(ErrDisabled, "%q", name))
	}
	if _, busy := m.running[name]; busy {
		m.mu.Unlock()
		return Spec{}, 0, errors.MarkConfiguration(errors.Wrapf(ErrAlreadyRunning, "%q", name))
	}
	m.running[name] = &slot{}
	app, freshness := m.cfg, m.freshness
	m.mu.Unlock()

	if err := m.checkDependencies(ctx, cfg, freshness); err != nil {
		m.release(name, nil)
		return Spec{}, 0, err
	}

	spec := Spec{Name: name, Config: withOverrides(cfg, ov), App: app}
	return spec, time.Duration(cfg.MaxRuntimeMinutes) * time.Minute, nil
}

// checkDependencies requires a SUCCESS ending inside the freshness window
// for every declared dependency
func (m *Manager) checkDependencies(ctx context.Context, cfg am.PipelineConfig, window time.Duration) error {
	since := m.now().Add(-window)
	for _, dep := range cfg.Dependencies {
		last, err := m.history.LastSuccessSince(ctx, dep, since)
		if err != nil {
			return errors.Wrapf(err, "check dependency %q", dep)
		}
		if last == nil {
			return errors.WithHintf(
				errors.MarkConfiguration(errors.Wrapf(ErrDependencyNotMet, "%q needs a successful %q run in the last %s", cfg.Name, dep, window)),
				"run %s first", dep)
		}
	}
	return nil
}

func withOverrides(cfg am.PipelineConfig, ov Overrides) am.PipelineConfig {
	out := cfg.Clone()
	if ov.BatchSize > 0 {
		out.BatchSize = ov.BatchSize
	}
	extra := am.MergeParams(nil, ov.Parameters)
	if ov.MaxItems > 0 {
		extra["max_articles"] = ov.MaxItems
	}
	if ov.Lenient {
		extra["strict_validation"] = false
	}
	out.Parameters = am.MergeParams(out.Parameters, extra)
	return out
}

// execute builds and runs the pipeline inside the reserved slot
func (m *Manager) execute(ctx context.Context, spec Spec, maxRuntime time.Duration, trigger string) (result *pipeline.RunResult, err error) {
	name := spec.Name
	log := m.logger.With(logger.FieldPipeline, name)

	factory, ok := m.registry.Get(spec.Config.Kind)
	if !ok {
		m.release(name, nil)
		return nil, errors.WithHintf(
			errors.NewConfigurationError("pipeline %q has unregistered kind %q", name, spec.Config.Kind),
			"registered kinds: %v", m.registry.Kinds())
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	p, err := m.build(runCtx, factory, spec)
	if err != nil {
		m.release(name, nil)
		log.Warnw("Pipeline could not be built", logger.FieldError, err.Error())
		return nil, err
	}

	exec := schedule.NewExecution(name, trigger, m.now())
	if err := m.history.Create(ctx, exec); err != nil {
		m.release(name, nil)
		return nil, err
	}
	m.mu.Lock()
	m.running[name] = &slot{exec: exec, cancel: cancel}
	m.mu.Unlock()

	runCtx = logger.WithExecutionID(runCtx, exec.ID)
	log = log.With(logger.FieldExecutionID, exec.ID)
	log.Infow("Execution started", logger.FieldTrigger, exec.TriggerSource, "kind", spec.Config.Kind)

	// the first finalize wins; every later caller gets the recorded result
	var (
		once  sync.Once
		final *pipeline.RunResult
	)
	finalize := func(res *pipeline.RunResult, errMsg string) *pipeline.RunResult {
		once.Do(func() {
			final = res
			exec.Finish(m.now(), res, errMsg)
			// a cancelled caller context must not lose the history entry
			if err := m.history.Finalize(context.WithoutCancel(ctx), exec); err != nil {
				log.Errorw("Failed to finalize execution", logger.FieldError, err.Error())
			}
			m.release(name, exec)
			log.Infow("Execution finished",
				logger.FieldStatus, string(exec.Status),
				logger.FieldDurationMS, exec.Duration().Milliseconds())
		})
		return final
	}

	if maxRuntime > 0 {
		watchdog := time.AfterFunc(maxRuntime, func() {
			log.Warnw("Max runtime exceeded, cancelling run", "max_runtime", maxRuntime)
			cancel(pipeline.ErrMaxRuntimeExceeded)
			finalize(&pipeline.RunResult{
				PipelineID: p.ID(),
				Pipeline:   name,
				Status:     pipeline.StatusFailed,
				Errors:     []string{fmt.Sprintf("%v after %s", pipeline.ErrMaxRuntimeExceeded, maxRuntime)},
			}, "")
		})
		defer watchdog.Stop()
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Errorw("Pipeline run panicked", "panic", rec)
			msg := fmt.Sprintf("pipeline error: %v", rec)
			result = finalize(&pipeline.RunResult{
				PipelineID: p.ID(),
				Pipeline:   name,
				Status:     pipeline.StatusFailed,
				Errors:     []string{msg},
			}, msg)
			err = nil
		}
	}()

	return finalize(p.Run(runCtx), ""), nil
}

// build calls the factory, converting a panic into a configuration error
func (m *Manager) build(ctx context.Context, f Factory, spec Spec) (p *pipeline.Pipeline, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, errors.NewConfigurationError("pipeline %q factory panicked: %v", spec.Name, rec)
		}
	}()
	p, err = f(ctx, m.deps, spec)
	if err == nil && p == nil {
		err = errors.NewConfigurationError("pipeline %q factory returned nothing", spec.Name)
	}
	return p, err
}

// release frees name's slot if it still belongs to exec
func (m *Manager) release(name string, exec *schedule.Execution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.running[name]; ok && s.exec == exec {
		delete(m.running, name)
	}
}

// Cancel cancels the active run of name; the run ends CANCELLED at its
// next batch boundary. Reports whether a run was active.
func (m *Manager) Cancel(name string) bool {
	m.mu.Lock()
	s, ok := m.running[name]
	m.mu.Unlock()
	if !ok || s.cancel == nil {
		return false
	}
	s.cancel(context.Canceled)
	return true
}

// IsRunning reports whether name holds its single-flight slot
func (m *Manager) IsRunning(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[name]
	return ok
}

// Pipelines returns the configured pipelines sorted by name
func (m *Manager) Pipelines() []am.PipelineConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]am.PipelineConfig, 0, len(m.cfg.Pipelines))
	for _, p := range m.cfg.Pipelines {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
