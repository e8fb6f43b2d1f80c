// Package display renders command output: pterm tables for people, JSON
// for scripts.
package display

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/pipeline"
)

// OutputEnv forces JSON output when set to "json"
const OutputEnv = "BFHTW_OUTPUT"

// ShouldOutputJSON reports whether cmd should print JSON: an explicit
// --json flag wins, then the BFHTW_OUTPUT environment variable.
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd != nil && cmd.Flags().Lookup("json") != nil && cmd.Flags().Changed("json") {
		on, _ := cmd.Flags().GetBool("json")
		return on
	}
	return strings.EqualFold(os.Getenv(OutputEnv), "json")
}

// MarshalJSON indents v for reading
func MarshalJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// OutputJSON prints v as JSON on stdout
func OutputJSON(v interface{}) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	fmt.Println(string(data))
	return nil
}

// Table prints rows under header as a boxed table
func Table(header []string, rows [][]string) error {
	data := pterm.TableData{header}
	data = append(data, rows...)
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
}

// Status colors a run status
func Status(s pipeline.Status) string {
	switch s {
	case pipeline.StatusSuccess:
		return pterm.LightGreen(string(s))
	case pipeline.StatusFailed:
		return pterm.Red(string(s))
	case pipeline.StatusCancelled:
		return pterm.Yellow(string(s))
	case pipeline.StatusRunning:
		return pterm.LightCyan(string(s))
	}
	return pterm.Gray(string(s))
}

// Time formats t in the local zone, or "-" when zero
func Time(t time.Time) string {
	if t.IsZero() {
		return pterm.Gray("-")
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// Duration rounds d for display
func Duration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
