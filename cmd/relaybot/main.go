// Package main contains the entrypoint for relaybot.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgard/relaybot/internal/cmd"
)

// Set with -ldflags at build time.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop() // Ensure context cancellation is signaled before exit
	os.Exit(exitCode)
}

func run(ctx context.Context) int {
	return cmd.Execute(ctx, cmd.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	}, os.Args[1:])
}
