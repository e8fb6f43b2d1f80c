package manager

import (
	"context"
	"time"

	"github.com/teranos/bfhtw/am"
	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/logger"
	"github.com/teranos/bfhtw/pulse/schedule"
)

// RecentLimit is how many executions Overview reports
const RecentLimit = 10

// PipelineStatus describes one configured pipeline
type PipelineStatus struct {
	Name          string              `json:"name"`
	Config        am.PipelineConfig   `json:"config"`
	Running       bool                `json:"running"`
	NextRun       *time.Time          `json:"next_run,omitempty"`
	LastExecution *schedule.Execution `json:"last_execution,omitempty"`
}

// Overview is the state of every pipeline at once
type Overview struct {
	Running  []*schedule.Execution `json:"running"`
	Recent   []*schedule.Execution `json:"recent"`
	Upcoming []schedule.Upcoming   `json:"upcoming"`
}

// Status reports whether name is running and how its last execution ended
func (m *Manager) Status(ctx context.Context, name string) (*PipelineStatus, error) {
	m.mu.Lock()
	cfg, ok := m.cfg.Pipelines[name]
	_, running := m.running[name]
	m.mu.Unlock()
	if !ok {
		return nil, errors.MarkConfiguration(errors.Wrapf(ErrUnknownPipeline, "%q", name))
	}

	st := &PipelineStatus{Name: name, Config: cfg.Clone(), Running: running}
	if next, ok := m.table.Next(name); ok {
		st.NextRun = &next
	}
	last, err := m.history.ListByPipeline(ctx, name, 1)
	if err != nil {
		return nil, err
	}
	if len(last) > 0 {
		st.LastExecution = last[0]
	}
	return st, nil
}

// Overview lists running executions, the most recent ones and upcoming triggers
func (m *Manager) Overview(ctx context.Context) (*Overview, error) {
	running, err := m.history.ListRunning(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := m.history.ListRecent(ctx, RecentLimit)
	if err != nil {
		return nil, err
	}
	return &Overview{Running: running, Recent: recent, Upcoming: m.table.Upcoming()}, nil
}

// SetupTriggers rebuilds the trigger table from the enabled, scheduled
// pipelines of the active configuration
func (m *Manager) SetupTriggers(now time.Time) error {
	m.mu.Lock()
	cfg, loc := m.cfg, m.loc
	m.mu.Unlock()

	triggers := make(map[string]schedule.Trigger)
	for name, p := range cfg.Pipelines {
		if !p.IsEnabled() {
			continue
		}
		trig, ok, err := schedule.ParseTrigger(p.Schedule, loc)
		if err != nil {
			return errors.Wrapf(err, "pipeline %s", name)
		}
		if ok {
			triggers[name] = trig
		}
	}
	m.table.Replace(triggers, now)

	for _, u := range m.table.Upcoming() {
		m.logger.Infow("Trigger registered", logger.FieldPipeline, u.Name, "trigger", u.Trigger.String(), logger.FieldNextRun, u.Next)
	}
	return nil
}

// Reload installs cfg and rebuilds the triggers. Running executions keep
// the configuration they started with.
func (m *Manager) Reload(cfg *am.Config) error {
	if err := m.apply(cfg); err != nil {
		return err
	}
	return m.SetupTriggers(m.now())
}

// RunScheduled is the polling loop's entry point. Rejections and results
// are logged; nothing is returned to the loop.
func (m *Manager) RunScheduled(ctx context.Context, name string) {
	res, err := m.RunPipeline(ctx, name, Overrides{Trigger: schedule.TriggerSchedule})
	if err != nil {
		m.logger.Warnw("Scheduled run skipped", logger.FieldPipeline, name, logger.FieldError, err.Error())
		return
	}
	m.logger.Infow("Scheduled run complete",
		logger.FieldPipeline, name,
		logger.FieldStatus, string(res.Status),
		logger.FieldProcessed, res.ProcessedCount,
		logger.FieldFailed, res.FailedCount)
}

// Cleanup drops finalized executions older than the retention window
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	m.mu.Lock()
	days := m.cfg.Scheduler.RetentionDays
	m.mu.Unlock()
	n, err := m.history.CleanupOld(ctx, days)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Infow("Execution history cleaned up", "deleted", n, "retention_days", days)
	}
	return n, nil
}

var _ schedule.Dispatcher = (*Manager)(nil)
