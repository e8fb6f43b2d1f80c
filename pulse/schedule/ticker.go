package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/teranos/bfhtw/logger"
)

// Dispatcher runs one due pipeline. It is called synchronously from the
// polling loop, so a long run delays the next tick.
type Dispatcher interface {
	RunScheduled(ctx context.Context, name string)
}

// DispatchFunc adapts a function to Dispatcher
type DispatchFunc func(ctx context.Context, name string)

// RunScheduled implements Dispatcher
func (f DispatchFunc) RunScheduled(ctx context.Context, name string) { f(ctx, name) }

// Ticker is the single polling loop: every interval it asks the table for
// due pipelines and dispatches them one after another.
type Ticker struct {
	table      *Table
	dispatcher Dispatcher
	interval   time.Duration
	now        func() time.Time
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	dispatched      int64
	lastHeartbeat   string
}

// TickerConfig contains configuration for the ticker
type TickerConfig struct {
	Interval time.Duration    // How often triggers are checked (default: 1 minute)
	Now      func() time.Time // Clock, for tests
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{Interval: time.Minute}
}

// NewTicker creates a ticker bound to ctx; cancelling ctx stops it
func NewTicker(ctx context.Context, table *Table, d Dispatcher, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		table:      table,
		dispatcher: d,
		interval:   cfg.Interval,
		now:        cfg.Now,
		ctx:        tickerCtx,
		cancel:     cancel,
		logger:     log.Named("ticker"),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Scheduler ticker started", "interval", t.interval, "triggers", t.table.Len())
}

// Stop cancels the loop and waits for an in-flight dispatch to return
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Scheduler ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.Tick(t.now())
		}
	}
}

// Tick dispatches every pipeline due at now and returns their names
func (t *Ticker) Tick(now time.Time) []string {
	t.mu.Lock()
	t.lastTickAt = now
	t.ticksSinceStart++
	t.mu.Unlock()

	due := t.table.Due(now)
	for _, name := range due {
		if t.ctx.Err() != nil {
			break
		}
		t.logger.Infow("Trigger fired", logger.FieldPipeline, name)
		t.dispatcher.RunScheduled(t.ctx, name)

		t.mu.Lock()
		t.dispatched++
		t.mu.Unlock()
	}

	t.heartbeat(t.now())
	return due
}

// heartbeat logs the next fire time with host memory, only when the next
// fire changes
func (t *Ticker) heartbeat(now time.Time) {
	upcoming := t.table.Upcoming()

	msg := "No scheduled pipelines"
	if len(upcoming) > 0 {
		next := upcoming[0]
		msg = fmt.Sprintf("Next scheduled run '%s' (%s) at %s", next.Name, next.Trigger, next.Next.Format(time.RFC3339))
	}

	t.mu.Lock()
	changed := msg != t.lastHeartbeat
	t.lastHeartbeat = msg
	t.mu.Unlock()
	if !changed {
		return
	}

	fields := []interface{}{}
	if len(upcoming) > 0 {
		fields = append(fields, "in", upcoming[0].Next.Sub(now).Round(time.Second))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields = append(fields,
			"mem_used_gb", fmt.Sprintf("%.1f", float64(vm.Used)/(1<<30)),
			"mem_total_gb", fmt.Sprintf("%.1f", float64(vm.Total)/(1<<30)),
			"mem_percent", fmt.Sprintf("%.0f", vm.UsedPercent))
	}
	t.logger.Infow(msg, fields...)
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"dispatched":        t.dispatched,
		"interval":          t.interval,
	}
}
