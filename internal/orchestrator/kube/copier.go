package kube

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"workloadlauncher/internal/orchestrator"
	"workloadlauncher/internal/transfer"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"
)

const opExecCopy = "kube.execCopy"

// streamFunc sends file to the target container on stdin.
type streamFunc func(ctx context.Context, target transfer.Target, file transfer.File, stderr io.Writer) error

// ExecCopier copies files by streaming them into `cat` running inside the
// target container. Transient stream failures are retried for every file
// except the completion marker.
type ExecCopier struct {
	client kubernetes.Interface
	config *rest.Config
	retry  *orchestrator.Retrier
	stream streamFunc
}

// Copier returns a copier using the exec subresource of the driver's
// client, retrying under the driver's retry policy.
func (d *Driver) Copier(config *rest.Config) *ExecCopier {
	c := &ExecCopier{client: d.client, config: config, retry: d.retry}
	c.stream = c.exec
	return c
}

// Copy writes file into the config directory of the target container. A
// remote command that exits non-zero is reported through the exit code with
// a nil error.
func (c *ExecCopier) Copy(ctx context.Context, target transfer.Target, file transfer.File) (int, error) {
	// Writing the marker ends the init container, so it is streamed once.
	if file.Name == transfer.MarkerFile {
		return c.copyOnce(ctx, target, file)
	}

	code := -1
	err := c.retry.Do(ctx, opExecCopy, func(ctx context.Context) error {
		var err error
		code, err = c.copyOnce(ctx, target, file)
		return err
	})
	if err != nil {
		return -1, err
	}
	return code, nil
}

func (c *ExecCopier) copyOnce(ctx context.Context, target transfer.Target, file transfer.File) (int, error) {
	var stderr bytes.Buffer
	err := c.stream(ctx, target, file, &stderr)
	if err == nil {
		return 0, nil
	}

	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		return exitErr.ExitStatus(), nil
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return -1, fmt.Errorf("%w: %s", err, msg)
	}
	return -1, err
}

func (c *ExecCopier) exec(ctx context.Context, target transfer.Target, file transfer.File, stderr io.Writer) error {
	req := c.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(target.Namespace).
		Name(target.Pod).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: target.Container,
			Command:   copyCommand(file.Name),
			Stdin:     true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(c.config, http.MethodPost, req.URL())
	if err != nil {
		return fmt.Errorf("failed to create exec stream: %w", err)
	}
	return executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  bytes.NewReader(file.Content),
		Stderr: stderr,
	})
}

// copyCommand returns the shell command writing stdin to the named config file.
func copyCommand(name string) []string {
	dest := path.Join(transfer.ConfigDir, path.Base(name))
	return []string{"sh", "-c", "cat > '" + strings.ReplaceAll(dest, "'", `'\''`) + "'"}
}

var _ transfer.Copier = (*ExecCopier)(nil)
