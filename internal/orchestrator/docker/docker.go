// Package docker implements orchestrator.Driver using the Docker API.
// A pod becomes a group of containers on the host daemon that share a pod_name
// label and bind-mounted volume directories.
package docker

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"workloadlauncher/internal/apperrors"
	"workloadlauncher/internal/observability"
	"workloadlauncher/internal/orchestrator"
	"workloadlauncher/internal/pod"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/spf13/afero"
	corev1 "k8s.io/api/core/v1"
)

// Labels added to every container next to the pod labels.
const (
	PodNameLabel       = "pod_name"
	ContainerNameLabel = "container_name"
	ContainerKindLabel = "container_kind"
)

// Platform operation names, used in errors and metrics.
const (
	opCreateContainer = "docker.createContainer"
	opStartContainer  = "docker.startContainer"
	opListContainers  = "docker.listContainers"
	opInspect         = "docker.inspectContainer"
	opKillContainer   = "docker.killContainer"
	opRemoveContainer = "docker.removeContainer"
	opDeleteAll       = "docker.deleteAll"
	opPullImage       = "docker.pullImage"
	opPing            = "docker.ping"
	opWriteVolume     = "docker.prepareVolume"
)

const backendName = "docker"

// dockerAPI is the part of the Docker client the driver uses.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
}

// Driver implements orchestrator.Driver using Docker.
type Driver struct {
	api        dockerAPI
	fs         afero.Fs
	root       string
	network    string
	extraHosts []string
	pollEvery  time.Duration
	retry      *orchestrator.Retrier
	metrics    *observability.Metrics
}

// New creates a driver connected to the Docker daemon from the environment.
func New(cfg Config) (*Driver, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newDriver(dockerClient, cfg), nil
}

func newDriver(api dockerAPI, cfg Config) *Driver {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &Driver{
		api:        api,
		fs:         fs,
		root:       cmp.Or(cfg.ConfigRoot, filepath.Join(os.TempDir(), "workload-launcher")),
		network:    cfg.Network,
		extraHosts: cfg.ExtraHosts,
		pollEvery:  poll,
		retry:      orchestrator.NewRetrier(cfg.Retry, IsTransient, cfg.Metrics),
		metrics:    cfg.Metrics,
	}
}

// IsTransient reports whether a Docker API error is worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if cerrdefs.IsUnavailable(err) || cerrdefs.IsDeadlineExceeded(err) || client.IsErrConnectionFailed(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Copier returns a copier writing into the volume directories of this driver.
func (d *Driver) Copier() *FileCopier {
	return &FileCopier{driver: d}
}

// Submit creates and starts the app containers of spec. Init containers are
// not run: config files are written to the bind-mounted volume before the
// containers start. If the pod already has a live container it is kept;
// exited containers are replaced.
func (d *Driver) Submit(ctx context.Context, spec *pod.Spec) (orchestrator.Handle, error) {
	h := orchestrator.Handle{Name: spec.Name, Labels: maps.Clone(spec.Labels)}
	logger := slog.With("pod", spec.Name)

	existing, err := d.list(ctx, orchestrator.Selector{PodNameLabel: spec.Name})
	if err != nil {
		return orchestrator.Handle{}, apperrors.Submit(spec.Name, opListContainers, err)
	}
	if slices.ContainsFunc(existing, isLive) {
		logger.Info("Pod already exists, keeping it")
		return h, nil
	}
	if len(existing) > 0 {
		logger.Info("Replacing exited pod", "containers", len(existing))
		if err := d.remove(ctx, existing); err != nil {
			return orchestrator.Handle{}, apperrors.Submit(spec.Name, opRemoveContainer, err)
		}
	}

	for _, v := range spec.Volumes {
		if err := d.fs.MkdirAll(d.volumeDir(spec.Name, v.Name), 0o755); err != nil {
			d.retry.Fail(ctx, opWriteVolume)
			return orchestrator.Handle{}, apperrors.Submit(spec.Name, opWriteVolume, err)
		}
	}

	for _, c := range spec.AppContainers() {
		if err := d.pullImageIfNeeded(ctx, c.Image); err != nil {
			return orchestrator.Handle{}, apperrors.Submit(spec.Name, opPullImage, err)
		}

		var id string
		err := d.retry.Do(ctx, opCreateContainer, func(ctx context.Context) error {
			resp, err := d.api.ContainerCreate(ctx, d.containerConfig(spec, c), d.hostConfig(spec, c), nil, nil, containerName(spec.Name, c.Name))
			id = resp.ID
			return err
		})
		if err != nil {
			return orchestrator.Handle{}, apperrors.Submit(spec.Name, opCreateContainer, err)
		}

		err = d.retry.Do(ctx, opStartContainer, func(ctx context.Context) error {
			return d.api.ContainerStart(ctx, id, container.StartOptions{})
		})
		if err != nil {
			return orchestrator.Handle{}, apperrors.Submit(spec.Name, opStartContainer, err)
		}
	}

	logger.Info("Pod created", "containers", len(spec.AppContainers()))
	return h, nil
}

// AwaitInitialized waits until the main containers are running. A main
// container that already exited with code 0 counts as initialized.
func (d *Driver) AwaitInitialized(ctx context.Context, h orchestrator.Handle, timeout time.Duration) error {
	unit := h.String()
	sel := orchestrator.Selector{PodNameLabel: h.Name, ContainerKindLabel: string(pod.KindMain)}

	err := d.poll(ctx, apperrors.StageInit, unit, sel, timeout, func(ctx context.Context, cs []container.Summary) (bool, error) {
		if len(cs) == 0 {
			return false, nil
		}
		for _, c := range cs {
			switch state(c) {
			case "running":
			case "exited", "dead":
				code, err := d.exitCode(ctx, c.ID)
				if err != nil {
					return false, apperrors.Platform(apperrors.StageInit, unit, opInspect, err)
				}
				if code != 0 || state(c) == "dead" {
					return false, apperrors.InitCrash(unit, fmt.Sprintf("%s %s (exit code %d)", c.Labels[ContainerNameLabel], state(c), code))
				}
			default:
				return false, nil
			}
		}
		return true, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.InitTimeout(unit, timeout)
	}
	return err
}

// AwaitInitCompleted is AwaitInitialized: there is no init container to
// complete on this backend.
func (d *Driver) AwaitInitCompleted(ctx context.Context, h orchestrator.Handle, timeout time.Duration) error {
	return d.AwaitInitialized(ctx, h, timeout)
}

// AwaitReadyOrTerminal waits until every container of the pod is running
// (and healthy, when it has a health check) or every container has exited.
func (d *Driver) AwaitReadyOrTerminal(ctx context.Context, h orchestrator.Handle, timeout time.Duration) error {
	unit := h.String()
	err := d.poll(ctx, apperrors.StageReady, unit, orchestrator.Selector{PodNameLabel: h.Name}, timeout, func(_ context.Context, cs []container.Summary) (bool, error) {
		return len(cs) > 0 && podReadyOrTerminal(cs), nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.StartTimeout(unit, timeout)
	}
	return err
}

// AwaitReadyOrTerminalBySelector waits until at least one pod matches sel and
// every matching pod is ready or terminal.
func (d *Driver) AwaitReadyOrTerminalBySelector(ctx context.Context, sel orchestrator.Selector, timeout time.Duration) error {
	unit := sel.String()
	err := d.poll(ctx, apperrors.StageReady, unit, sel, timeout, func(_ context.Context, cs []container.Summary) (bool, error) {
		pods := groupByPod(cs)
		if len(pods) == 0 {
			return false, nil
		}
		for _, pcs := range pods {
			if !podReadyOrTerminal(pcs) {
				return false, nil
			}
		}
		return true, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.StartTimeout(unit, timeout)
	}
	return err
}

// Exists reports whether any pod matching sel has a live container.
func (d *Driver) Exists(ctx context.Context, sel orchestrator.Selector) (bool, error) {
	cs, err := d.list(ctx, sel)
	if err != nil {
		return false, apperrors.Platform(apperrors.StageExists, sel.String(), opListContainers, err)
	}
	return slices.ContainsFunc(cs, isLive), nil
}

// DeleteAll kills and removes every pod matching sel that still has a live
// container, then removes its volume directories. Pods whose containers all
// exited are left for inspection. It returns how many pods were targeted.
func (d *Driver) DeleteAll(ctx context.Context, sel orchestrator.Selector, timeout time.Duration) (int, error) {
	unit := sel.String()
	if len(sel) == 0 {
		return 0, apperrors.Validation("selector", "refusing to delete pods with an empty selector")
	}

	cs, err := d.list(ctx, sel)
	if err != nil {
		return 0, apperrors.Platform(apperrors.StageDelete, unit, opListContainers, err)
	}

	var targets []string
	for name, pcs := range groupByPod(cs) {
		if !slices.ContainsFunc(pcs, isLive) {
			continue
		}
		targets = append(targets, name)
		if err := d.remove(ctx, pcs); err != nil {
			return 0, apperrors.Platform(apperrors.StageDelete, unit, opRemoveContainer, err)
		}
		if err := d.fs.RemoveAll(filepath.Join(d.root, name)); err != nil {
			slog.Warn("Failed to remove pod volumes", "pod", name, "error", err)
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}
	d.metrics.RecordPodsDeleted(ctx, backendName, len(targets))
	slog.Info("Pods deleted", "selector", unit, "count", len(targets))

	remaining := len(targets)
	err = d.poll(ctx, apperrors.StageDelete, unit, sel, timeout, func(_ context.Context, cs []container.Summary) (bool, error) {
		pods := groupByPod(cs)
		remaining = 0
		for _, name := range targets {
			if _, ok := pods[name]; ok {
				remaining++
			}
		}
		return remaining == 0, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		d.retry.Fail(ctx, opDeleteAll)
		return len(targets), apperrors.DeletionTimeout(unit, remaining, timeout)
	}
	return len(targets), err
}

// Ready checks if the Docker daemon is reachable and responsive.
func (d *Driver) Ready(ctx context.Context) error {
	return d.retry.Do(ctx, opPing, func(ctx context.Context) error {
		_, err := d.api.Ping(ctx)
		return err
	})
}

// Close releases the Docker client.
func (d *Driver) Close() error {
	return d.api.Close()
}

// isLivePod reports whether the named pod has a container that has not
// finished.
func (d *Driver) isLivePod(ctx context.Context, name string) (bool, error) {
	cs, err := d.list(ctx, orchestrator.Selector{PodNameLabel: name})
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(cs, isLive), nil
}

func (d *Driver) list(ctx context.Context, sel orchestrator.Selector) ([]container.Summary, error) {
	args := filters.NewArgs()
	for k, v := range sel {
		args.Add("label", k+"="+v)
	}

	var cs []container.Summary
	err := d.retry.Do(ctx, opListContainers, func(ctx context.Context) error {
		var err error
		cs, err = d.api.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
		return err
	})
	return cs, err
}

func (d *Driver) exitCode(ctx context.Context, id string) (int, error) {
	var code int
	err := d.retry.Do(ctx, opInspect, func(ctx context.Context) error {
		inspect, err := d.api.ContainerInspect(ctx, id)
		if err != nil {
			return err
		}
		if inspect.ContainerJSONBase != nil && inspect.State != nil {
			code = inspect.State.ExitCode
		}
		return nil
	})
	return code, err
}

// remove kills and force-removes containers; already gone or stopped
// containers are not an error.
func (d *Driver) remove(ctx context.Context, cs []container.Summary) error {
	for _, c := range cs {
		if isLive(c) {
			err := d.retry.Do(ctx, opKillContainer, func(ctx context.Context) error {
				err := d.api.ContainerKill(ctx, c.ID, "SIGKILL")
				if cerrdefs.IsNotFound(err) || cerrdefs.IsConflict(err) {
					return nil
				}
				return err
			})
			if err != nil {
				return err
			}
		}

		err := d.retry.Do(ctx, opRemoveContainer, func(ctx context.Context) error {
			err := d.api.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true})
			if cerrdefs.IsNotFound(err) {
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// poll evaluates cond over the containers matching sel every poll interval
// until it reports done or fails. It returns context.DeadlineExceeded when
// timeout passes.
func (d *Driver) poll(ctx context.Context, stage apperrors.Stage, unit string, sel orchestrator.Selector, timeout time.Duration, cond func(context.Context, []container.Summary) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()

	for {
		cs, err := d.list(ctx, sel)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return apperrors.Platform(stage, unit, opListContainers, err)
		}

		done, err := cond(ctx, cs)
		if err != nil || done {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Driver) pullImageIfNeeded(ctx context.Context, imageName string) error {
	_, err := d.api.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		d.retry.Fail(ctx, opPullImage)
		return err
	}

	slog.Info("Pulling image", "image", imageName)
	return d.retry.Do(ctx, opPullImage, func(ctx context.Context) error {
		reader, err := d.api.ImagePull(ctx, imageName, image.PullOptions{})
		if err != nil {
			return err
		}
		defer reader.Close()

		_, err = io.Copy(io.Discard, reader)
		return err
	})
}

func (d *Driver) volumeDir(podName, volume string) string {
	return filepath.Join(d.root, podName, volume)
}

func (d *Driver) containerConfig(spec *pod.Spec, c pod.Container) *container.Config {
	env := make([]string, 0, len(c.Env))
	for _, e := range c.Env {
		env = append(env, e.Name+"="+e.Value)
	}

	containerLabels := maps.Clone(spec.Labels)
	if containerLabels == nil {
		containerLabels = map[string]string{}
	}
	containerLabels[PodNameLabel] = spec.Name
	containerLabels[ContainerNameLabel] = c.Name
	containerLabels[ContainerKindLabel] = string(c.Kind)

	return &container.Config{
		Image:      c.Image,
		Entrypoint: slices.Clone(c.Command),
		Cmd:        slices.Clone(c.Args),
		Env:        env,
		Labels:     containerLabels,
	}
}

func (d *Driver) hostConfig(spec *pod.Spec, c pod.Container) *container.HostConfig {
	hc := &container.HostConfig{
		ExtraHosts: slices.Clone(d.extraHosts),
		Resources:  toResources(c.Resources),
	}
	if d.network != "" {
		hc.NetworkMode = container.NetworkMode(d.network)
	}
	for _, m := range c.VolumeMounts {
		hc.Mounts = append(hc.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   d.volumeDir(spec.Name, m.Name),
			Target:   m.MountPath,
			ReadOnly: m.ReadOnly,
		})
	}
	return hc
}

func toResources(r corev1.ResourceRequirements) container.Resources {
	var res container.Resources
	if q, ok := r.Limits[corev1.ResourceCPU]; ok {
		res.NanoCPUs = q.MilliValue() * 1_000_000
	}
	if q, ok := r.Limits[corev1.ResourceMemory]; ok {
		res.Memory = q.Value()
	}
	if q, ok := r.Requests[corev1.ResourceMemory]; ok {
		res.MemoryReservation = q.Value()
	}
	return res
}

func containerName(podName, name string) string {
	return podName + "-" + name
}

func state(c container.Summary) string {
	return string(c.State)
}

// isLive reports whether the container has not finished.
func isLive(c container.Summary) bool {
	s := state(c)
	return s != "exited" && s != "dead"
}

func isReady(c container.Summary) bool {
	return state(c) == "running" &&
		!strings.Contains(c.Status, "(health: starting)") &&
		!strings.Contains(c.Status, "(unhealthy)")
}

// podReadyOrTerminal reports whether every container is ready, or every
// container has finished.
func podReadyOrTerminal(cs []container.Summary) bool {
	return !slices.ContainsFunc(cs, func(c container.Summary) bool { return !isReady(c) }) ||
		!slices.ContainsFunc(cs, isLive)
}

func groupByPod(cs []container.Summary) map[string][]container.Summary {
	pods := map[string][]container.Summary{}
	for _, c := range cs {
		name := c.Labels[PodNameLabel]
		if name == "" {
			continue
		}
		pods[name] = append(pods[name], c)
	}
	return pods
}

var _ orchestrator.Driver = (*Driver)(nil)
