package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/bfhtw/display"
	"github.com/teranos/bfhtw/pipeline"
	"github.com/teranos/bfhtw/pulse/manager"
)

// maxListed caps how many errors and warnings run prints
const maxListed = 10

// RunCmd runs one pipeline through the manager
var RunCmd = &cobra.Command{
	Use:   "run <pipeline>",
	Short: "Run one pipeline now",
	Long: `Run a configured pipeline once, in the foreground.

The run goes through the manager, so it is rejected when the pipeline is
disabled, already running, or a dependency has not succeeded recently.
Ctrl+C cancels the run at the next batch boundary.

Exit code is 0 only when the run ends SUCCESS.`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

func init() {
	RunCmd.Flags().Int("max-items", 0, "Cap the number of items fetched (sets max_articles)")
	RunCmd.Flags().Int("batch-size", 0, "Override the configured batch size")
	RunCmd.Flags().Bool("lenient", false, "Report missing optional fields as warnings")
	RunCmd.Flags().Bool("json", false, "Print the run result as JSON")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	name := args[0]
	maxItems, _ := cmd.Flags().GetInt("max-items")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	lenient, _ := cmd.Flags().GetBool("lenient")
	useJSON := display.ShouldOutputJSON(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var spinner *pterm.SpinnerPrinter
	if !useJSON {
		spinner, _ = pterm.DefaultSpinner.Start("Running " + name + "...")
	}
	res, err := a.manager.RunPipeline(ctx, name, manager.Overrides{
		MaxItems:  maxItems,
		BatchSize: batchSize,
		Lenient:   lenient,
	})
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return err
	}

	if useJSON {
		if err := display.OutputJSON(res); err != nil {
			return err
		}
	} else {
		printResult(res)
	}
	if !res.Succeeded() {
		return ErrRunFailed
	}
	return nil
}

func printResult(res *pipeline.RunResult) {
	pterm.Println()
	switch res.Status {
	case pipeline.StatusSuccess:
		pterm.Success.Printf("%s finished\n", res.Pipeline)
	case pipeline.StatusCancelled:
		pterm.Warning.Printf("%s cancelled\n", res.Pipeline)
	default:
		pterm.Error.Printf("%s failed\n", res.Pipeline)
	}

	pterm.Printf("  Status:         %s\n", display.Status(res.Status))
	pterm.Printf("  Processed:      %d\n", res.ProcessedCount)
	pterm.Printf("  Failed:         %d\n", res.FailedCount)
	pterm.Printf("  Execution time: %s\n", display.Duration(res.ExecutionTime))
	if rate, ok := res.Throughput(); ok {
		pterm.Printf("  Throughput:     %.2f items/s\n", rate)
	}

	printList("Errors", res.Errors, pterm.Red)
	printList("Warnings", res.Warnings, pterm.Yellow)
}

func printList(title string, items []string, color func(a ...interface{}) string) {
	if len(items) == 0 {
		return
	}
	pterm.Println()
	pterm.Printf("%s (%d):\n", title, len(items))
	for i, item := range items {
		if i == maxListed {
			pterm.Printf("  %s\n", pterm.Gray("... ", len(items)-maxListed, " more"))
			break
		}
		pterm.Printf("  %s %s\n", pterm.Gray("→"), color(item))
	}
}
