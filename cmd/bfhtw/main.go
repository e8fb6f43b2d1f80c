package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/bfhtw/cmd/bfhtw/commands"
	"github.com/teranos/bfhtw/logger"
)

var rootCmd = &cobra.Command{
	Use:   "bfhtw",
	Short: "Biomedical literature ingestion pipelines",
	Long: `bfhtw - biomedical literature ingestion.

Named pipelines pull article metadata from PubMed Central, split document
text into blocks, extract entity mentions and write block embeddings to a
vector sink. Pipelines run on demand or from the scheduler.

Available commands:
  run        - Run one pipeline now
  scheduler  - Run scheduled pipelines until interrupted
  status     - Show running and recent executions
  list       - List configured pipelines
  version    - Show build information

Examples:
  bfhtw run pubmed_metadata --max-items 50
  bfhtw run document_processing --lenient -v
  bfhtw scheduler --config /etc/bfhtw/bfhtw.yaml
  bfhtw status --pipeline document_processing`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", commands.DefaultConfigPath, "Configuration document (yaml, toml or json); created with defaults if missing")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.SchedulerCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.ListCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		commands.PrintError(err)
		os.Exit(1)
	}
}
