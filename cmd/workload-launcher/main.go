// workload-launcher launches workload pods on a cluster or a local Docker
// daemon and manages them by label.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"workloadlauncher/internal/apperrors"
	"workloadlauncher/internal/launcher"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := execute(ctx, &app{newOrchestrator: launcher.New, out: os.Stdout}, os.Args[1:])
	stop()

	if err != nil {
		slog.Error("Command failed", "stage", apperrors.StageOf(err), "error", err)
		os.Exit(apperrors.ExitCode(err))
	}
}
