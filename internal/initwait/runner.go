// Package initwait implements the init container of workload pods: it holds
// the pod until its config files are in place.
package initwait

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"
	"workloadlauncher/internal/transfer"

	"github.com/spf13/afero"
)

// ErrTimeout is returned when the marker does not appear in time.
var ErrTimeout = errors.New("timed out waiting for config files")

// Runner waits for the launcher to finish copying config files, or writes
// them itself when they were handed over in the environment.
type Runner struct {
	config *Config
	fs     afero.Fs
	files  map[string]string
}

// NewRunner creates a runner over fs.
func NewRunner(cfg *Config, fs afero.Fs) (*Runner, error) {
	var files map[string]string
	if cfg.FilesJSON != "" {
		if err := json.Unmarshal([]byte(cfg.FilesJSON), &files); err != nil {
			return nil, fmt.Errorf("failed to parse init files: %w", err)
		}
	}
	return &Runner{config: cfg, fs: fs, files: files}, nil
}

// Run blocks until the marker file exists in the config directory. With
// files to fetch, it writes them and the marker first.
func (r *Runner) Run(ctx context.Context) error {
	logger := slog.With("configDir", r.config.ConfigDir, "timeout", r.config.Timeout)

	if r.files != nil {
		if err := r.writeFiles(); err != nil {
			logger.Error("Failed to write config files", "error", err)
			return err
		}
		logger.Info("Config files written", "files", len(r.files))
		return nil
	}

	logger.Info("Waiting for config files")
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	if err := r.waitForMarker(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, r.config.Timeout)
		}
		return err
	}
	logger.Info("Config files ready")
	return nil
}

// writeFiles writes the fetched files in name order, marker last.
func (r *Runner) writeFiles() error {
	if err := r.fs.MkdirAll(r.config.ConfigDir, 0o755); err != nil {
		return err
	}
	names := make([]string, 0, len(r.files))
	for name := range r.files {
		if name != transfer.MarkerFile {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	for _, name := range names {
		path := filepath.Join(r.config.ConfigDir, filepath.Base(name))
		if err := afero.WriteFile(r.fs, path, []byte(r.files[name]), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return afero.WriteFile(r.fs, filepath.Join(r.config.ConfigDir, transfer.MarkerFile), nil, 0o644)
}

func (r *Runner) waitForMarker(ctx context.Context) error {
	interval := r.config.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if CheckReady(r.fs, r.config.ConfigDir) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CheckReady reports whether the marker file exists in configDir.
func CheckReady(fs afero.Fs, configDir string) bool {
	ok, err := afero.Exists(fs, filepath.Join(configDir, transfer.MarkerFile))
	return err == nil && ok
}
