// workload-init runs as the init container of workload pods and exits once
// the pod's config files are in place.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"workloadlauncher/internal/initwait"

	"github.com/spf13/afero"
)

func main() {
	fs := afero.NewOsFs()

	// Probe mode: exits 0 if the marker file exists, 1 otherwise
	if len(os.Args) > 1 && os.Args[1] == "-check-ready" {
		if initwait.CheckReady(fs, initwait.LoadConfigFromEnv().ConfigDir) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(fs); err != nil {
		slog.Error("Init failed", "error", err)
		os.Exit(1)
	}
}

func run(fs afero.Fs) error {
	runner, err := initwait.NewRunner(initwait.LoadConfigFromEnv(), fs)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runner.Run(ctx)
}
