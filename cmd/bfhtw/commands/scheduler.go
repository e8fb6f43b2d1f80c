package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/bfhtw/am"
	"github.com/teranos/bfhtw/display"
	"github.com/teranos/bfhtw/logger"
	"github.com/teranos/bfhtw/pulse/schedule"
)

// cleanupInterval is how often execution history retention is applied
const cleanupInterval = 24 * time.Hour

// SchedulerCmd runs scheduled pipelines until interrupted
var SchedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run scheduled pipelines until interrupted",
	Long: `Run the scheduler in the foreground.

Every enabled pipeline with an hourly, daily or weekly schedule gets a
trigger. A single polling loop checks the triggers once per tick interval
and runs due pipelines one after another.

With scheduler.watch_config set, edits to the configuration document
rebuild the triggers without a restart. Ctrl+C stops the loop; a run in
progress is cancelled at its next batch boundary.`,
	Args: cobra.NoArgs,
	RunE: runScheduler,
}

func runScheduler(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	m := a.manager

	if err := m.SetupTriggers(time.Now()); err != nil {
		return err
	}
	if _, err := m.Cleanup(ctx); err != nil {
		logger.Warnw("Execution history cleanup failed", logger.FieldError, err.Error())
	}

	interval := time.Duration(a.cfg.Scheduler.TickIntervalSeconds) * time.Second
	ticker := schedule.NewTicker(ctx, m.Table(), m, schedule.TickerConfig{Interval: interval}, logger.Logger)
	ticker.Start()
	defer ticker.Stop()

	if a.cfg.Scheduler.WatchConfig {
		watcher, err := am.NewConfigWatcher(a.configPath, logger.Logger.Named("config"))
		if err != nil {
			return err
		}
		watcher.OnReload(m.Reload)
		am.SetGlobalWatcher(watcher)
		watcher.Start()
		defer func() {
			am.SetGlobalWatcher(nil)
			watcher.Stop()
		}()
	}

	go func() {
		t := time.NewTicker(cleanupInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := m.Cleanup(ctx); err != nil {
					logger.Warnw("Execution history cleanup failed", logger.FieldError, err.Error())
				}
			}
		}
	}()

	printSchedule(m.Table().Upcoming(), interval, a.cfg.Scheduler.WatchConfig)

	<-ctx.Done()
	pterm.Println()
	pterm.Info.Println("Stopping scheduler...")
	return nil
}

func printSchedule(upcoming []schedule.Upcoming, interval time.Duration, watching bool) {
	pterm.DefaultHeader.WithFullWidth().Println("bfhtw scheduler")
	if len(upcoming) == 0 {
		pterm.Warning.Println("No scheduled pipelines; waiting for configuration changes")
	} else {
		rows := make([][]string, 0, len(upcoming))
		for _, u := range upcoming {
			rows = append(rows, []string{u.Name, u.Trigger.String(), u.Next.Format("2006-01-02 15:04 MST")})
		}
		if err := display.Table([]string{"Pipeline", "Trigger", "Next run"}, rows); err != nil {
			logger.Debugw("Table render failed", logger.FieldError, err.Error())
		}
	}
	pterm.Printf("  Tick interval: %v\n", interval)
	pterm.Printf("  Config watch:  %t\n", watching)
	pterm.Printf("\n%s\n\n", pterm.Gray("Press Ctrl+C to stop"))
}
