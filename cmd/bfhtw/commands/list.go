package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/bfhtw/am"
	"github.com/teranos/bfhtw/display"
	"github.com/teranos/bfhtw/pulse/schedule"
)

// ListCmd lists configured pipelines
var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured pipelines",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	ListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	m := a.manager
	if err := m.SetupTriggers(time.Now()); err != nil {
		return err
	}

	pipelines := m.Pipelines()
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(pipelines)
	}
	if len(pipelines) == 0 {
		pterm.Warning.Printf("No pipelines configured in %s\n", a.configPath)
		return nil
	}

	rows := make([][]string, 0, len(pipelines))
	for _, p := range pipelines {
		enabled := pterm.LightGreen("yes")
		if !p.IsEnabled() {
			enabled = pterm.Red("no")
		}
		next := pterm.Gray("-")
		if t, ok := m.Table().Next(p.Name); ok {
			next = display.Time(t)
		}
		deps := strings.Join(p.Dependencies, ", ")
		if deps == "" {
			deps = pterm.Gray("-")
		}
		rows = append(rows, []string{
			p.Name,
			p.Kind,
			enabled,
			scheduleLabel(p.Schedule),
			next,
			fmt.Sprint(p.BatchSize),
			deps,
		})
	}
	return display.Table([]string{"Pipeline", "Kind", "Enabled", "Schedule", "Next run", "Batch", "Depends on"}, rows)
}

// scheduleLabel describes a schedule in words; invalid ones are shown raw
func scheduleLabel(cfg am.ScheduleConfig) string {
	trig, ok, err := schedule.ParseTrigger(cfg, time.Local)
	switch {
	case err != nil:
		return pterm.Red(cfg.Type + " (invalid)")
	case !ok:
		return am.ScheduleManual
	}
	return trig.String()
}
