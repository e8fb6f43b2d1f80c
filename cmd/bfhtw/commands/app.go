// Package commands holds the bfhtw CLI commands
package commands

import (
	"context"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/bfhtw/am"
	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/logger"
	"github.com/teranos/bfhtw/pipelines/documents"
	"github.com/teranos/bfhtw/pipelines/pubmed"
	"github.com/teranos/bfhtw/pulse/manager"
)

// DefaultConfigPath is used when --config is not given
const DefaultConfigPath = "bfhtw.yaml"

// ErrRunFailed is returned when a run finished without SUCCESS. The
// details were already printed.
var ErrRunFailed = errors.New("pipeline run did not succeed")

// NewRegistry returns a registry holding every built-in pipeline kind
func NewRegistry() *manager.Registry {
	reg := manager.NewRegistry()
	pubmed.Register(reg)
	documents.Register(reg)
	return reg
}

// app is what a command needs to talk to the manager
type app struct {
	configPath string
	cfg        *am.Config
	deps       *manager.Deps
	manager    *manager.Manager
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = DefaultConfigPath
	}
	return path
}

// openApp loads the configuration document and opens the shared resources
func openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	path := configPath(cmd)
	cfg, err := am.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Debugw("Configuration loaded", logger.FieldPath, path, "config", cfg.String())

	deps, err := manager.OpenDeps(ctx, cfg, logger.Logger)
	if err != nil {
		return nil, err
	}
	m, err := manager.New(cfg, NewRegistry(), deps, manager.WithLogger(logger.Logger))
	if err != nil {
		deps.Close()
		return nil, err
	}
	return &app{configPath: path, cfg: cfg, deps: deps, manager: m}, nil
}

func (a *app) Close() error {
	return a.deps.Close()
}

// PrintError reports err with any hints attached to it
func PrintError(err error) {
	if errors.Is(err, ErrRunFailed) {
		return
	}
	pterm.Error.Println(err.Error())
	for _, hint := range errors.GetAllHints(err) {
		pterm.Info.Println(hint)
	}
	if details := strings.TrimSpace(errors.FlattenDetails(err)); details != "" && logger.Level.Enabled(zapcore.DebugLevel) {
		pterm.Fprintln(os.Stderr, pterm.Gray(details))
	}
}
