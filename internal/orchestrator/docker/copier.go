package docker

import (
	"context"
	"log/slog"
	"path/filepath"
	"workloadlauncher/internal/pod"
	"workloadlauncher/internal/transfer"

	"github.com/spf13/afero"
)

// FileCopier writes config files straight into a pod's bind-mounted config
// directory. Files must be written before the pod's containers start; a pod
// that is already live keeps the files it started with, as Submit keeps the
// pod itself.
type FileCopier struct {
	driver *Driver
}

// Copy writes file into the config volume directory of target.Pod.
func (c *FileCopier) Copy(ctx context.Context, target transfer.Target, file transfer.File) (int, error) {
	live, err := c.driver.isLivePod(ctx, target.Pod)
	if err != nil {
		return -1, err
	}
	if live {
		slog.Info("Pod already running, keeping its config file", "pod", target.Pod, "file", file.Name)
		return 0, nil
	}

	fs := c.driver.fs
	dir := c.driver.volumeDir(target.Pod, pod.ConfigVolumeName)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return -1, err
	}
	if err := afero.WriteFile(fs, filepath.Join(dir, filepath.Base(file.Name)), file.Content, 0o644); err != nil {
		return -1, err
	}
	return 0, nil
}

var _ transfer.Copier = (*FileCopier)(nil)
