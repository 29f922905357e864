// Package cmd defines the relaybot command line.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/edgard/relaybot/internal/app"
	"github.com/edgard/relaybot/internal/config"
	"github.com/edgard/relaybot/internal/logger"
)

// BuildInfo is set by the main package from ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

type rootOptions struct {
	configPath string
	build      BuildInfo
}

// NewRootCmd builds the command tree.
func NewRootCmd(build BuildInfo) *cobra.Command {
	opts := &rootOptions{build: build}

	root := &cobra.Command{
		Use:   "relaybot",
		Short: "Relay a web form and a daily link digest to Telegram",
		Long: `relaybot serves a small web form whose submissions are forwarded to a
Telegram chat, and sends a fixed market-link digest once a day.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "./config.yaml", "Path to configuration file")

	root.AddCommand(
		newServeCmd(opts),
		newDispatchCmd(opts),
		newDeliveriesCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, build BuildInfo, args []string) int {
	root := NewRootCmd(build)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", "error", err)
		return 1
	}
	return 0
}

// setup loads configuration, installs the logger and builds the App.
func (o *rootOptions) setup(ctx context.Context, mutate func(*config.Config)) (*app.App, *slog.Logger, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration from %s: %w", o.configPath, err)
	}
	if mutate != nil {
		mutate(cfg)
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON, "version", o.build.Version)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return a, log, nil
}
