// ABOUTME: Entry point for the gestor CLI
// ABOUTME: Cancels the command context on SIGINT or SIGTERM so syncs and servers stop cleanly
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/harperreed/gestor/cli"
)

const version = "0.2.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(version).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
