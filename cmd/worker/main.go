package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vmforge/internal/app/bootstrap"
)

// Worker process entrypoint.
// Data flow:
// 1) Load config and connect storage.
// 2) Wire the reconciliation sweep.
// 3) Run it on a ticker until the process is signalled.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildWorker()
	if err != nil {
		slog.Error("worker bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		slog.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
