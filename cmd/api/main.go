package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vmforge/internal/app/bootstrap"
)

// API process entrypoint.
// Data flow:
// 1) Load config and connect storage.
// 2) Wire modules through the composition root.
// 3) Serve HTTP until the process is signalled.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildAPI()
	if err != nil {
		slog.Error("api bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		slog.Error("api stopped", "error", err)
		os.Exit(1)
	}
}
