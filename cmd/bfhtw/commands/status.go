package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/bfhtw/display"
	"github.com/teranos/bfhtw/pulse/manager"
	"github.com/teranos/bfhtw/pulse/schedule"
)

// StatusCmd shows running and recent executions
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show running and recent executions",
	Long: `Show the execution history kept in the database.

Without --pipeline, lists running executions and the most recent ones
across all pipelines. With --pipeline, shows that pipeline's state, next
scheduled run and its latest executions.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	StatusCmd.Flags().StringP("pipeline", "p", "", "Show one pipeline")
	StatusCmd.Flags().Int("limit", 10, "Executions to show for --pipeline")
	StatusCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	name, _ := cmd.Flags().GetString("pipeline")
	limit, _ := cmd.Flags().GetInt("limit")
	useJSON := display.ShouldOutputJSON(cmd)

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	m := a.manager
	// next-run times come from the trigger table
	if err := m.SetupTriggers(time.Now()); err != nil {
		return err
	}

	if name == "" {
		ov, err := m.Overview(ctx)
		if err != nil {
			return err
		}
		if useJSON {
			return display.OutputJSON(ov)
		}
		return printOverview(ov)
	}

	st, err := m.Status(ctx, name)
	if err != nil {
		return err
	}
	history, err := m.History().ListByPipeline(ctx, name, limit)
	if err != nil {
		return err
	}
	if useJSON {
		return display.OutputJSON(struct {
			*manager.PipelineStatus
			History []*schedule.Execution `json:"history"`
		}{st, history})
	}
	return printPipelineStatus(st, history)
}

func printOverview(ov *manager.Overview) error {
	pterm.DefaultSection.Println("Running")
	if len(ov.Running) == 0 {
		pterm.Println(pterm.Gray("  nothing running"))
	} else if err := executionTable(ov.Running); err != nil {
		return err
	}

	pterm.DefaultSection.Println("Recent executions")
	if len(ov.Recent) == 0 {
		pterm.Println(pterm.Gray("  no executions recorded"))
	} else if err := executionTable(ov.Recent); err != nil {
		return err
	}

	if len(ov.Upcoming) > 0 {
		pterm.DefaultSection.Println("Upcoming")
		rows := make([][]string, 0, len(ov.Upcoming))
		for _, u := range ov.Upcoming {
			rows = append(rows, []string{u.Name, u.Trigger.String(), display.Time(u.Next)})
		}
		return display.Table([]string{"Pipeline", "Trigger", "Next run"}, rows)
	}
	return nil
}

func printPipelineStatus(st *manager.PipelineStatus, history []*schedule.Execution) error {
	pterm.DefaultSection.Println(st.Name)
	state := pterm.Gray("idle")
	if st.Running {
		state = pterm.LightCyan("running")
	}
	enabled := pterm.LightGreen("enabled")
	if !st.Config.IsEnabled() {
		enabled = pterm.Red("disabled")
	}
	pterm.Printf("  Kind:         %s\n", st.Config.Kind)
	pterm.Printf("  State:        %s, %s\n", state, enabled)
	pterm.Printf("  Schedule:     %s\n", scheduleLabel(st.Config.Schedule))
	if st.NextRun != nil {
		pterm.Printf("  Next run:     %s\n", display.Time(*st.NextRun))
	}
	if len(st.Config.Dependencies) > 0 {
		pterm.Printf("  Depends on:   %s\n", strings.Join(st.Config.Dependencies, ", "))
	}
	if last := st.LastExecution; last != nil {
		pterm.Printf("  Last run:     %s at %s\n", display.Status(last.Status), display.Time(last.StartTime))
		if last.Error != "" {
			pterm.Printf("  Last error:   %s\n", pterm.Red(last.Error))
		}
	}
	pterm.Println()
	if len(history) == 0 {
		return nil
	}
	return executionTable(history)
}

func executionTable(execs []*schedule.Execution) error {
	rows := make([][]string, 0, len(execs))
	for _, e := range execs {
		processed, failed := "-", "-"
		if e.Result != nil {
			processed = fmt.Sprint(e.Result.ProcessedCount)
			failed = fmt.Sprint(e.Result.FailedCount)
		}
		rows = append(rows, []string{
			e.PipelineName,
			display.Status(e.Status),
			display.Time(e.StartTime),
			display.Duration(e.Duration()),
			processed,
			failed,
			e.TriggerSource,
			shortID(e.ID),
		})
	}
	return display.Table([]string{"Pipeline", "Status", "Started", "Duration", "Processed", "Failed", "Trigger", "ID"}, rows)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
